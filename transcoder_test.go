package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFFmpegArgs(t *testing.T) {
	config := &Config{
		FFmpegReconnectDelay:  5,
		FFmpegThreadQueueSize: 512,
		FFmpegRTBufferSize:    "256M",
		FFmpegProbeSize:       32,
	}

	assert.Equal(t, []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-nostdin",
		"-thread_queue_size", "512",
		"-rtbufsize", "256M",
		"-probesize", "32",
		"-i", "http://radio.test/live",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"pipe:1",
	}, ffmpegArgs("http://radio.test/live", config))
}

func TestFFmpegArgs_OptionalFlags(t *testing.T) {
	config := &Config{
		FFmpegReconnectDelay:  5,
		FFmpegThreadQueueSize: 512,
		FFmpegRTBufferSize:    "256M",
		FFmpegProbeSize:       32,
		FFmpegAnalyzeDuration: 1000000,
		AudioNormalization:    true,
	}

	args := strings.Join(ffmpegArgs("in", config), " ")
	assert.Contains(t, args, "-probesize 32 -analyzeduration 1000000 -i in")
	assert.Contains(t, args, "-af loudnorm=I=-16:TP=-1.5:LRA=11 pipe:1")
}
