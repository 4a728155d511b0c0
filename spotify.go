package main

import (
	"context"
	"fmt"
	"regexp"

	"github.com/zmb3/spotify"
	"golang.org/x/oauth2/clientcredentials"
)

var spotifyTrackRegex = regexp.MustCompile(`^(https?://)?open\.spotify\.com/(intl-[a-z]+/)?track/([A-Za-z0-9]+)`)

type spotifyTrackGetter interface {
	GetTrack(id spotify.ID) (*spotify.FullTrack, error)
}

// spotifyTranslator turns Spotify track links into "title artist" search
// phrases so they can be searched on YouTube.
type spotifyTranslator struct {
	client spotifyTrackGetter
}

// newSpotifyTranslator returns nil when no credentials are configured.
func newSpotifyTranslator(ctx context.Context, config *Config) *spotifyTranslator {
	if config.SpotifyClientID == "" || config.SpotifyClientSecret == "" {
		return nil
	}

	authConfig := &clientcredentials.Config{
		ClientID:     config.SpotifyClientID,
		ClientSecret: config.SpotifyClientSecret,
		TokenURL:     spotify.TokenURL,
	}

	client := spotify.NewClient(authConfig.Client(ctx))
	return &spotifyTranslator{client: &client}
}

func (t *spotifyTranslator) Matches(link string) bool {
	return spotifyTrackRegex.MatchString(link)
}

func (t *spotifyTranslator) Translate(_ context.Context, link string) (string, error) {
	m := spotifyTrackRegex.FindStringSubmatch(link)
	if m == nil {
		return "", fmt.Errorf("not a spotify track link: %s", link)
	}
	return t.trackName(spotify.ID(m[3]))
}

func (t *spotifyTranslator) trackName(trackID spotify.ID) (string, error) {
	track, err := t.client.GetTrack(trackID)
	if err != nil {
		return "", fmt.Errorf("getting spotify track %s: %w", trackID, err)
	}

	artistName := ""
	if len(track.Artists) > 0 {
		artistName = track.Artists[0].Name
	}

	return fmt.Sprintf("%s %s", track.Name, artistName), nil
}
