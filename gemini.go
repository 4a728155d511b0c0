package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
)

// playlistGenerator turns a free-form request into search phrases, one per
// track.
type playlistGenerator interface {
	Playlist(ctx context.Context, prompt string) ([]string, error)
}

// defaultDJPrompt takes the track count and the user's request.
const defaultDJPrompt = `
You pick music for a Discord radio bot. Turn the listener's request into a playlist.

### RULES:
1.  Work out the era, genre and mood the listener is asking for.
2.  If the request names a single song, put that song first.
3.  Return exactly %d songs unless the listener asks for a different number.
4.  Reply with a plain text list, one song per line, formatted EXACTLY as: Artist - Song Title
5.  No numbering, bullet points, markdown or any text before or after the list.
6.  Prefer well-known songs unless the listener asks otherwise.

### EXAMPLE:

**Request:** "late night jazz"
**Reply:**
Miles Davis - Blue in Green
John Coltrane - In a Sentimental Mood
Bill Evans Trio - Peace Piece
Chet Baker - Almost Blue
---

### REQUEST:

**Request:** "%s"
`

type geminiDJ struct {
	client    *genai.Client
	model     string
	template  string
	maxTracks int
	log       *slog.Logger
}

// newGeminiDJ returns nil when no API key is configured.
func newGeminiDJ(ctx context.Context, config *Config, log *slog.Logger) (*geminiDJ, error) {
	if config.GeminiAPIKey == "" {
		log.Info("Gemini API key not found, the dj command is disabled")
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	template, err := loadDJPrompt(config.DJPromptFilePath)
	if err != nil {
		return nil, err
	}

	return &geminiDJ{
		client:    client,
		model:     config.GeminiModel,
		template:  template,
		maxTracks: config.DJMaxTracks,
		log:       log.With(loggerNameKey, "gemini"),
	}, nil
}

// loadDJPrompt reads a prompt template from path, falling back to the
// built-in one when the file does not exist.
func loadDJPrompt(path string) (string, error) {
	if path == "" {
		return defaultDJPrompt, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultDJPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading dj prompt: %w", err)
	}

	template := string(data)
	if strings.Count(template, "%d") != 1 || strings.Count(template, "%s") != 1 {
		return "", fmt.Errorf("dj prompt %s must contain one %%d for the track count and one %%s for the request", path)
	}
	if strings.Index(template, "%d") > strings.Index(template, "%s") {
		return "", fmt.Errorf("dj prompt %s must place %%d before %%s", path)
	}
	return template, nil
}

func (g *geminiDJ) Playlist(ctx context.Context, prompt string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	started := time.Now()
	result, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(fmt.Sprintf(g.template, g.maxTracks, prompt)),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("generating playlist: %w", err)
	}

	tracks := parsePlaylist(result.Text())
	g.log.Debug("generated playlist", "tracks", len(tracks), "took", time.Since(started))
	if len(tracks) == 0 {
		return nil, ErrNoResults
	}
	return tracks, nil
}

var listMarkerRegex = regexp.MustCompile(`^(?:\d+[.)]|[-*•])\s+`)

// parsePlaylist splits a model reply into one search phrase per line,
// dropping blank lines and list markers.
func parsePlaylist(reply string) []string {
	var tracks []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = listMarkerRegex.ReplaceAllString(line, "")
		line = strings.Trim(line, "*`")
		if line == "" || line == "---" {
			continue
		}
		tracks = append(tracks, line)
	}
	return tracks
}
