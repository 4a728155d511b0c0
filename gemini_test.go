package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlaylist(t *testing.T) {
	reply := "Here you go\n" +
		"1. Daft Punk - One More Time\n" +
		"2) Justice - D.A.N.C.E.\n" +
		"\n" +
		"- Cassius - 1999\n" +
		"* Stardust - Music Sounds Better With You\n" +
		"**Modjo - Lady**\n" +
		"---\n" +
		"   `Air - Sexy Boy`   \n"

	assert.Equal(t, []string{
		"Here you go",
		"Daft Punk - One More Time",
		"Justice - D.A.N.C.E.",
		"Cassius - 1999",
		"Stardust - Music Sounds Better With You",
		"Modjo - Lady",
		"Air - Sexy Boy",
	}, parsePlaylist(reply))

	assert.Empty(t, parsePlaylist("\n \n---\n"))
}

func TestLoadDJPrompt_Default(t *testing.T) {
	got, err := loadDJPrompt(filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)
	assert.Equal(t, defaultDJPrompt, got)

	got, err = loadDJPrompt("")
	require.NoError(t, err)
	assert.Equal(t, defaultDJPrompt, got)

	rendered := fmt.Sprintf(defaultDJPrompt, 7, "sunday morning")
	assert.Contains(t, rendered, "Return exactly 7 songs")
	assert.Contains(t, rendered, `"sunday morning"`)
}

func TestLoadDJPrompt_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "djprompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Give me %d songs for: %s"), 0o600))

	got, err := loadDJPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "Give me %d songs for: %s", got)
}

func TestLoadDJPrompt_RejectsBadTemplates(t *testing.T) {
	for _, template := range []string{
		"no verbs at all",
		"only the request %s",
		"request %s before count %d",
		"%d %d %s",
	} {
		path := filepath.Join(t.TempDir(), "djprompt.txt")
		require.NoError(t, os.WriteFile(path, []byte(template), 0o600))

		_, err := loadDJPrompt(path)
		assert.Error(t, err, template)
	}
}
