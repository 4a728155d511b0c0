package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// TrackInfo is the metadata needed to announce and time a track.
type TrackInfo struct {
	Title    string
	Duration Field[time.Duration]
}

// TrackInfoSource looks up track metadata and playable stream URLs.
type TrackInfoSource interface {
	Lookup(ctx context.Context, link string) (TrackInfo, error)
	StreamURL(ctx context.Context, link string) (string, error)
}

type ytdlpSource struct {
	cookiesPath string
	proxy       string
}

func newYtdlpSource(config *Config) *ytdlpSource {
	return &ytdlpSource{
		cookiesPath: config.CookiesPath,
		proxy:       config.YtDlpProxy,
	}
}

// ensureYtdlp makes sure a yt-dlp binary is available, downloading a cached
// copy when none is installed on the system.
func ensureYtdlp(ctx context.Context, log *slog.Logger) error {
	started := time.Now()
	install, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return fmt.Errorf("installing yt-dlp: %w", err)
	}
	log.Info(
		"yt-dlp ready",
		loggerNameKey, "ytdlp",
		"executable", install.Executable,
		"version", install.Version,
		"took", time.Since(started),
	)
	return nil
}

func (y *ytdlpSource) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoPlaylist().
		NoWarnings().
		IgnoreConfig()

	if y.cookiesPath != "" {
		cmd.Cookies(y.cookiesPath)
	}
	if y.proxy != "" {
		cmd.Proxy(y.proxy)
	}
	return cmd
}

func (y *ytdlpSource) Lookup(ctx context.Context, link string) (TrackInfo, error) {
	res, err := y.command().
		Print("%(title)s\t%(duration)s").
		Run(ctx, link)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("%w: yt-dlp %s: %w", ErrMetadataFetch, link, err)
	}
	return parseTrackInfo(res.Stdout)
}

func (y *ytdlpSource) StreamURL(ctx context.Context, link string) (string, error) {
	res, err := y.command().
		Format("bestaudio/best").
		Print("%(url)s").
		Run(ctx, link)
	if err != nil {
		return "", fmt.Errorf("yt-dlp stream url %s: %w", link, err)
	}

	streamURL, _, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\n")
	if streamURL == "" {
		return "", errors.New("yt-dlp returned no stream url")
	}
	return streamURL, nil
}

// parseTrackInfo reads the "title<TAB>duration" line printed by yt-dlp.
// Live streams print "NA" as their duration.
func parseTrackInfo(out string) (TrackInfo, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	if line == "" {
		return TrackInfo{}, fmt.Errorf("%w: empty yt-dlp output", ErrMetadataFetch)
	}

	title, duration, _ := strings.Cut(line, "\t")
	info := TrackInfo{Title: title}
	if secs, err := strconv.ParseFloat(duration, 64); err == nil && secs >= 0 {
		info.Duration = Found(time.Duration(secs * float64(time.Second)))
	}
	return info, nil
}
