package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrackInfo(t *testing.T) {
	tests := []struct {
		name   string
		out    string
		title  string
		length time.Duration
		found  bool
	}{
		{"video", "Some Song\t213\n", "Some Song", 213 * time.Second, true},
		{"fractional", "Clip\t12.5", "Clip", 12500 * time.Millisecond, true},
		{"live stream", "Radio\tNA\n", "Radio", 0, false},
		{"only the first line counts", "First\t60\nSecond\t90\n", "First", time.Minute, true},
		{"no duration column", "Just a title", "Just a title", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseTrackInfo(tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.title, info.Title)
			assert.Equal(t, tt.found, info.Duration.OK)
			assert.Equal(t, tt.length, info.Duration.Or(0))
		})
	}
}

func TestParseTrackInfo_Empty(t *testing.T) {
	_, err := parseTrackInfo("  \n")
	assert.ErrorIs(t, err, ErrMetadataFetch)
}
