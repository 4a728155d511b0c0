package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "!", config.CommandPrefix)
	assert.Equal(t, "token.txt", config.TokenFile)
	assert.Equal(t, 25*time.Second, config.WatchdogInterval)
	assert.False(t, config.AutoAdvance)
	assert.Equal(t, "http://astreaming.virginradio.ro:8000/virgin_aacp_64k", config.DefaultStreamURL)
	assert.Equal(t, "https://www.youtube.com/results?search_query=", config.SearchURL)
	assert.Equal(t, slog.LevelInfo, config.LogLevel)
	assert.Equal(t, 128000, config.OpusBitrate)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "bot.env")
	require.NoError(t, os.WriteFile(envFile, []byte(strings.Join([]string{
		"COMMAND_PREFIX=?",
		"WATCHDOG_INTERVAL=1m",
		"AUTO_ADVANCE=true",
		"LOG_LEVEL=debug",
		"QUALITY_PRESET=performance",
	}, "\n")), 0o600))

	// godotenv does not overwrite variables that are already set
	for _, key := range []string{"COMMAND_PREFIX", "WATCHDOG_INTERVAL", "AUTO_ADVANCE", "LOG_LEVEL", "QUALITY_PRESET"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	config, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "?", config.CommandPrefix)
	assert.Equal(t, time.Minute, config.WatchdogInterval)
	assert.True(t, config.AutoAdvance)
	assert.Equal(t, slog.LevelDebug, config.LogLevel)
	assert.Equal(t, 6, config.OpusComplexity)
	assert.False(t, config.EnableResampling)
}

func TestConfigValidate(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	config := testConfig()
	config.OpusComplexity = 42
	config.OpusBitrate = 1
	config.CompressorThreshold = 3
	config.DJMaxTracks = 0
	require.NoError(t, config.Validate(log))
	assert.Equal(t, 9, config.OpusComplexity)
	assert.Equal(t, 128000, config.OpusBitrate)
	assert.Equal(t, -20.0, config.CompressorThreshold)
	assert.Equal(t, 10, config.DJMaxTracks)

	config.CommandPrefix = " "
	config.WatchdogInterval = 0
	err := config.Validate(log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMMAND_PREFIX")
	assert.Contains(t, err.Error(), "WATCHDOG_INTERVAL")
}

func TestBuildAudioFilter(t *testing.T) {
	config := &Config{}
	assert.Empty(t, config.BuildAudioFilter())

	config = &Config{
		EnableResampling:    true,
		ResamplingQuality:   28,
		AudioCompressor:     true,
		CompressorThreshold: -20,
		CompressorRatio:     4,
		CompressorAttack:    5,
		CompressorRelease:   50,
		AudioNormalization:  true,
		AudioVolume:         1.5,
	}
	assert.Equal(t,
		"aresample=resampler=soxr:precision=28:dither_method=triangular,"+
			"acompressor=threshold=0.100000:ratio=4.0:attack=5:release=50,"+
			"loudnorm=I=-16:TP=-1.5:LRA=11,"+
			"volume=1.50",
		config.BuildAudioFilter(),
	)
}

func TestLoadToken_CreatesPlaceholder(t *testing.T) {
	config := &Config{TokenFile: filepath.Join(t.TempDir(), "token.txt")}

	_, err := loadToken(config)
	require.ErrorIs(t, err, ErrTokenPlaceholder)

	data, err := os.ReadFile(config.TokenFile)
	require.NoError(t, err)
	assert.Equal(t, tokenPlaceholder, string(data))

	_, err = loadToken(config)
	assert.ErrorIs(t, err, ErrTokenPlaceholder, "an untouched placeholder is still rejected")
}

func TestLoadToken_FromFile(t *testing.T) {
	config := &Config{TokenFile: filepath.Join(t.TempDir(), "token.txt")}
	token := strings.Repeat("x", 40)
	require.NoError(t, os.WriteFile(config.TokenFile, []byte(token+"\n"), 0o600))

	got, err := loadToken(config)
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestLoadToken_TooShort(t *testing.T) {
	config := &Config{TokenFile: filepath.Join(t.TempDir(), "token.txt")}
	require.NoError(t, os.WriteFile(config.TokenFile, []byte("short"), 0o600))

	_, err := loadToken(config)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoadToken_EnvOverridesFile(t *testing.T) {
	token := strings.Repeat("y", 59)
	config := &Config{BotToken: token, TokenFile: filepath.Join(t.TempDir(), "absent.txt")}

	got, err := loadToken(config)
	require.NoError(t, err)
	assert.Equal(t, token, got)

	_, err = os.Stat(config.TokenFile)
	assert.True(t, os.IsNotExist(err), "no placeholder is written when the env var is set")
}
