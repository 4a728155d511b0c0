package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	tokenPlaceholder = "<Insert discord token here>"
	minTokenLength   = 30
)

type Config struct {
	// Discord Bot Configuration
	BotToken      string     `env:"BOT_TOKEN"`
	TokenFile     string     `env:"TOKEN_FILE" envDefault:"token.txt"`
	CommandPrefix string     `env:"COMMAND_PREFIX" envDefault:"!"`
	LogLevel      slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFile       string     `env:"LOG_FILE" envDefault:"bot.log"`

	// Playback
	DefaultStreamURL string        `env:"DEFAULT_STREAM_URL" envDefault:"http://astreaming.virginradio.ro:8000/virgin_aacp_64k"`
	SearchURL        string        `env:"SEARCH_URL" envDefault:"https://www.youtube.com/results?search_query="`
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	WatchdogInterval time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"25s"`
	AutoAdvance      bool          `env:"AUTO_ADVANCE" envDefault:"false"`

	// Command throttling, per user
	CommandRate  float64 `env:"COMMAND_RATE" envDefault:"1"`
	CommandBurst int     `env:"COMMAND_BURST" envDefault:"3"`

	// External Service Configuration
	CookiesPath         string `env:"COOKIES_PATH"`
	SpotifyClientID     string `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `env:"SPOTIFY_CLIENT_SECRET"`
	YtDlpProxy          string `env:"YT_DLP_PROXY"`
	YtDlpInstall        bool   `env:"YT_DLP_INSTALL" envDefault:"true"`
	GeminiAPIKey        string `env:"GEMINI_API_KEY"`
	GeminiModel         string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-pro"`
	DJPromptFilePath    string `env:"DJ_PROMPT_FILE_PATH" envDefault:"djprompt.txt"`
	DJMaxTracks         int    `env:"DJ_MAX_TRACKS" envDefault:"10"`

	// Opus Encoder Settings
	OpusBitrate        int  `env:"OPUS_BITRATE" envDefault:"128000"`
	OpusComplexity     int  `env:"OPUS_COMPLEXITY" envDefault:"10"`
	OpusInBandFEC      bool `env:"OPUS_INBAND_FEC" envDefault:"true"`
	OpusPacketLossPerc int  `env:"OPUS_PACKET_LOSS_PERC" envDefault:"5"`
	OpusDTX            bool `env:"OPUS_DTX" envDefault:"false"` // off for music

	// Audio Processing Settings
	AudioVolume        float64 `env:"AUDIO_VOLUME" envDefault:"1.0"`
	AudioNormalization bool    `env:"AUDIO_NORMALIZATION" envDefault:"true"` // EBU R128

	// Advanced Audio Processing
	AudioCompressor     bool    `env:"AUDIO_COMPRESSOR" envDefault:"true"`
	CompressorThreshold float64 `env:"COMPRESSOR_THRESHOLD" envDefault:"-20.0"` // dB
	CompressorRatio     float64 `env:"COMPRESSOR_RATIO" envDefault:"4.0"`
	CompressorAttack    int     `env:"COMPRESSOR_ATTACK" envDefault:"5"`   // ms
	CompressorRelease   int     `env:"COMPRESSOR_RELEASE" envDefault:"50"` // ms

	// Resampling Settings
	EnableResampling  bool `env:"ENABLE_RESAMPLING" envDefault:"true"`
	ResamplingQuality int  `env:"RESAMPLING_QUALITY" envDefault:"28"` // SoX precision (16-33)

	// FFmpeg Settings
	FFmpegPath            string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFmpegThreadQueueSize int    `env:"FFMPEG_THREAD_QUEUE_SIZE" envDefault:"512"`
	FFmpegRTBufferSize    string `env:"FFMPEG_RT_BUFFER_SIZE" envDefault:"256M"`
	FFmpegProbeSize       int    `env:"FFMPEG_PROBE_SIZE" envDefault:"32"`
	FFmpegAnalyzeDuration int    `env:"FFMPEG_ANALYZE_DURATION" envDefault:"0"` // microseconds, 0 = ffmpeg default
	FFmpegReconnectDelay  int    `env:"FFMPEG_RECONNECT_DELAY" envDefault:"5"`  // seconds

	// "performance", "balanced", "quality"
	QualityPreset string `env:"QUALITY_PRESET" envDefault:"balanced"`
}

// LoadConfig reads envFile into the environment, if it exists, and parses
// the environment into a Config.
func LoadConfig(envFile string) (*Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	config, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	config.applyPreset()
	return &config, nil
}

// applyPreset applies configuration based on quality preset
func (c *Config) applyPreset() {
	// Only apply if not overridden by environment variables
	switch c.QualityPreset {
	case "performance":
		if os.Getenv("OPUS_COMPLEXITY") == "" {
			c.OpusComplexity = 6
		}
		if os.Getenv("ENABLE_RESAMPLING") == "" {
			c.EnableResampling = false
		}
		if os.Getenv("AUDIO_COMPRESSOR") == "" {
			c.AudioCompressor = false
		}
		if os.Getenv("FFMPEG_RT_BUFFER_SIZE") == "" {
			c.FFmpegRTBufferSize = "128M"
		}

	case "quality":
		if os.Getenv("RESAMPLING_QUALITY") == "" {
			c.ResamplingQuality = 33
		}
		if os.Getenv("FFMPEG_RT_BUFFER_SIZE") == "" {
			c.FFmpegRTBufferSize = "512M"
		}

	case "balanced":
		// already the defaults
	}
}

// Validate resets out-of-range values to their defaults, logging a warning
// for each. It returns an error only for settings the bot cannot run with.
func (c *Config) Validate(log *slog.Logger) error {
	if c.OpusComplexity < 0 || c.OpusComplexity > 10 {
		log.Warn("OpusComplexity is outside valid range (0-10), using 9", "value", c.OpusComplexity)
		c.OpusComplexity = 9
	}

	if c.OpusBitrate < 12000 || c.OpusBitrate > 128000 {
		log.Warn("OpusBitrate is outside Discord range (12000-128000), using 128000", "value", c.OpusBitrate)
		c.OpusBitrate = 128000
	}

	if c.OpusPacketLossPerc < 0 || c.OpusPacketLossPerc > 100 {
		log.Warn("OpusPacketLossPerc is outside valid range (0-100), using 5", "value", c.OpusPacketLossPerc)
		c.OpusPacketLossPerc = 5
	}

	if c.AudioVolume < 0.0 || c.AudioVolume > 10.0 {
		log.Warn("AudioVolume is outside safe range (0.0-10.0), using 1.0", "value", c.AudioVolume)
		c.AudioVolume = 1.0
	}

	if c.CompressorThreshold > 0 {
		log.Warn("CompressorThreshold should be negative (in dB), using -20.0", "value", c.CompressorThreshold)
		c.CompressorThreshold = -20.0
	}

	if c.CompressorRatio < 1.0 || c.CompressorRatio > 20.0 {
		log.Warn("CompressorRatio is outside typical range (1.0-20.0), using 4.0", "value", c.CompressorRatio)
		c.CompressorRatio = 4.0
	}

	if c.ResamplingQuality < 16 || c.ResamplingQuality > 33 {
		log.Warn("ResamplingQuality is outside SoX range (16-33), using 28", "value", c.ResamplingQuality)
		c.ResamplingQuality = 28
	}

	if c.FFmpegThreadQueueSize < 128 || c.FFmpegThreadQueueSize > 2048 {
		log.Warn("FFmpegThreadQueueSize is outside recommended range (128-2048), using 512", "value", c.FFmpegThreadQueueSize)
		c.FFmpegThreadQueueSize = 512
	}

	if c.FFmpegReconnectDelay < 1 || c.FFmpegReconnectDelay > 60 {
		log.Warn("FFmpegReconnectDelay is outside reasonable range (1-60), using 5", "value", c.FFmpegReconnectDelay)
		c.FFmpegReconnectDelay = 5
	}

	if c.DJMaxTracks < 1 || c.DJMaxTracks > 50 {
		log.Warn("DJMaxTracks is outside range (1-50), using 10", "value", c.DJMaxTracks)
		c.DJMaxTracks = 10
	}

	if c.CommandBurst < 1 {
		log.Warn("CommandBurst must be at least 1, using 3", "value", c.CommandBurst)
		c.CommandBurst = 3
	}

	var errs []error
	if strings.TrimSpace(c.CommandPrefix) == "" {
		errs = append(errs, errors.New("COMMAND_PREFIX must not be empty"))
	}
	if c.WatchdogInterval <= 0 {
		errs = append(errs, fmt.Errorf("WATCHDOG_INTERVAL must be positive, got %s", c.WatchdogInterval))
	}
	if c.CommandRate <= 0 {
		errs = append(errs, fmt.Errorf("COMMAND_RATE must be positive, got %v", c.CommandRate))
	}
	return errors.Join(errs...)
}

// BuildAudioFilter constructs the FFmpeg audio filter chain based on config
func (c *Config) BuildAudioFilter() string {
	filters := []string{}

	// Resampling (first in chain for efficiency)
	if c.EnableResampling {
		filters = append(filters, fmt.Sprintf(
			"aresample=resampler=soxr:precision=%d:dither_method=triangular",
			c.ResamplingQuality,
		))
	}

	if c.AudioCompressor {
		// acompressor takes a linear threshold
		threshold := math.Pow(10, c.CompressorThreshold/20)
		filters = append(filters, fmt.Sprintf(
			"acompressor=threshold=%.6f:ratio=%.1f:attack=%d:release=%d",
			threshold,
			c.CompressorRatio,
			c.CompressorAttack,
			c.CompressorRelease,
		))
	}

	if c.AudioNormalization {
		filters = append(filters, "loudnorm=I=-16:TP=-1.5:LRA=11")
	}

	// Volume adjustment (last in chain)
	if c.AudioVolume != 1.0 {
		filters = append(filters, fmt.Sprintf("volume=%.2f", c.AudioVolume))
	}

	return strings.Join(filters, ",")
}

// loadToken returns the bot token: BOT_TOKEN if set, otherwise the contents
// of the token file. A missing token file is created holding a placeholder
// for the operator to replace.
func loadToken(config *Config) (string, error) {
	token := strings.TrimSpace(config.BotToken)
	if token == "" {
		data, err := os.ReadFile(config.TokenFile)
		if errors.Is(err, fs.ErrNotExist) {
			if err := os.WriteFile(config.TokenFile, []byte(tokenPlaceholder), 0o600); err != nil {
				return "", fmt.Errorf("creating token file: %w", err)
			}
			return "", fmt.Errorf("%w: %s", ErrTokenPlaceholder, config.TokenFile)
		}
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}

	if token == tokenPlaceholder {
		return "", fmt.Errorf("%w: %s", ErrTokenPlaceholder, config.TokenFile)
	}
	if len(token) < minTokenLength {
		return "", fmt.Errorf("%w: shorter than %d characters", ErrInvalidToken, minTokenLength)
	}
	return token, nil
}
