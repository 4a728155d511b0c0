package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

type SourceKind int

const (
	// SourceVideo needs yt-dlp to turn the link into a stream URL.
	SourceVideo SourceKind = iota
	// SourceStream is fed to ffmpeg as is.
	SourceStream
)

// PlaybackSource is something the voice transport can play.
type PlaybackSource struct {
	Link  string
	Kind  SourceKind
	Title string
	Image string
}

const watchURL = "https://www.youtube.com/watch?v="

var (
	youtubeLinkRegex = regexp.MustCompile(`^(http(s)://)?((w){3}.)?youtu(be|.be)?(.com)?/.+`)
	plainHTTPRegex   = regexp.MustCompile(`^(http://)(.+)`)
	videoIDRegex     = regexp.MustCompile(`\{"videoId":"(.*?)"`)

	searchMarkers = []string{"ytInitialData", "ytConfigData"}
)

// maxSearchCandidates caps how many video ids are read off a results page.
const maxSearchCandidates = 3

// PageFetcher fetches a page and returns its body as text.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type httpFetcher struct {
	client *http.Client
}

func newHTTPFetcher(timeout time.Duration) *httpFetcher {
	return &httpFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// linkTranslator turns a link from another service into a search phrase.
type linkTranslator interface {
	Matches(link string) bool
	Translate(ctx context.Context, link string) (string, error)
}

// Resolver decides what a piece of user input refers to and reads track
// descriptors off video pages.
type Resolver struct {
	fetcher       PageFetcher
	defaultStream string
	searchURL     string
	translators   []linkTranslator
	log           *slog.Logger
}

func NewResolver(fetcher PageFetcher, config *Config, log *slog.Logger, translators ...linkTranslator) *Resolver {
	return &Resolver{
		fetcher:       fetcher,
		defaultStream: config.DefaultStreamURL,
		searchURL:     config.SearchURL,
		translators:   translators,
		log:           log.With(loggerNameKey, "resolver"),
	}
}

// Resolve maps user input to a playback source: empty input is the default
// stream, recognized links are used verbatim, anything else is searched.
func (r *Resolver) Resolve(ctx context.Context, input string) (PlaybackSource, error) {
	words := strings.Fields(input)
	if len(words) == 0 {
		return PlaybackSource{Link: r.defaultStream, Kind: SourceStream}, nil
	}
	text := strings.Join(words, "+")

	for _, t := range r.translators {
		if !t.Matches(text) {
			continue
		}
		phrase, err := t.Translate(ctx, text)
		if err != nil {
			r.log.Warn("could not translate link, resolving as is", "link", text, tint.Err(err))
			break
		}
		words = strings.Fields(phrase)
		text = strings.Join(words, "+")
		if len(words) == 0 {
			return PlaybackSource{}, ErrNoResults
		}
		break
	}

	if youtubeLinkRegex.MatchString(text) || plainHTTPRegex.MatchString(text) {
		return PlaybackSource{Link: text, Kind: SourceVideo}, nil
	}

	id, err := r.search(ctx, words)
	if err != nil {
		return PlaybackSource{}, err
	}
	return PlaybackSource{Link: watchURL + id, Kind: SourceVideo}, nil
}

func (r *Resolver) search(ctx context.Context, words []string) (string, error) {
	escaped := make([]string, len(words))
	for i, w := range words {
		escaped[i] = url.QueryEscape(w)
	}

	page, err := r.fetcher.Fetch(ctx, r.searchURL+strings.Join(escaped, "+"))
	if err != nil {
		return "", fmt.Errorf("%w: search: %w", ErrMetadataFetch, err)
	}

	ids := extractVideoIDs(page)
	r.log.Debug("search results", "query", strings.Join(words, " "), "candidates", ids)
	if len(ids) == 0 {
		return "", ErrNoResults
	}
	return ids[0], nil
}

// extractVideoIDs returns the first video ids embedded in a results page,
// in page order and without duplicates.
func extractVideoIDs(page string) []string {
	section := page
	for _, marker := range searchMarkers {
		if i := strings.Index(page, marker); i >= 0 {
			section = page[i:]
			break
		}
	}
	if end := strings.Index(section, "</script>"); end >= 0 {
		section = section[:end]
	}

	var ids []string
	seen := make(map[string]bool)
	for _, m := range videoIDRegex.FindAllStringSubmatch(section, maxSearchCandidates) {
		if m[1] == "" || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	return ids
}

// Describe fetches link and extracts its track descriptor.
func (r *Resolver) Describe(ctx context.Context, link string) (TrackDescriptor, error) {
	page, err := r.fetcher.Fetch(ctx, link)
	if err != nil {
		return TrackDescriptor{Link: link}, fmt.Errorf("%w: %w", ErrMetadataFetch, err)
	}
	return parseDescriptor(link, page)
}
