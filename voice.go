package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gopkg.in/hraban/opus.v2"
)

// Voice is the voice transport: it owns the per-guild voice connections.
type Voice interface {
	Join(ctx context.Context, guildID, channelID string) (Call, error)
	Leave(ctx context.Context, guildID string) error
}

// Call is a joined voice connection.
type Call interface {
	// ChannelID is the channel the connection is in now, which changes when
	// the bot is moved.
	ChannelID() string
	PlaySource(ctx context.Context, src PlaybackSource) (PlaybackHandle, error)
}

type PlaybackInfo struct {
	Playing  bool
	Position time.Duration
}

// PlaybackHandle controls one track attached to a call.
type PlaybackHandle interface {
	Pause() error
	Play() error
	Stop() error
	SetVolume(v float64) error
	Info() (PlaybackInfo, error)
	// OnEnd registers f to run when the track reaches its end. It does not
	// run when the track is stopped.
	OnEnd(f func())
}

var errTrackEnded = errors.New("track has ended")

const (
	channels  = 2
	frameRate = 48000
	frameSize = 960
	maxBytes  = frameSize * channels * 2

	frameDuration = time.Second * frameSize / frameRate
)

type discordVoice struct {
	session *discordgo.Session
	tracks  TrackInfoSource
	config  *Config
	log     *slog.Logger
}

func newDiscordVoice(s *discordgo.Session, tracks TrackInfoSource, config *Config, log *slog.Logger) *discordVoice {
	return &discordVoice{
		session: s,
		tracks:  tracks,
		config:  config,
		log:     log.With(loggerNameKey, "voice"),
	}
}

func (v *discordVoice) Join(_ context.Context, guildID, channelID string) (Call, error) {
	vc, err := v.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}
	return &discordCall{vc: vc, voice: v}, nil
}

func (v *discordVoice) Leave(_ context.Context, guildID string) error {
	vc := v.connection(guildID)
	if vc == nil {
		return nil
	}
	return vc.Disconnect()
}

func (v *discordVoice) connection(guildID string) *discordgo.VoiceConnection {
	v.session.RLock()
	defer v.session.RUnlock()
	return v.session.VoiceConnections[guildID]
}

type discordCall struct {
	vc    *discordgo.VoiceConnection
	voice *discordVoice
}

// ChannelID reads the connection's channel, which discordgo updates from the
// bot's voice state events.
func (c *discordCall) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

// PlaySource starts the transcoder for src and streams it into the call.
func (c *discordCall) PlaySource(ctx context.Context, src PlaybackSource) (PlaybackHandle, error) {
	input := src.Link
	if src.Kind == SourceVideo {
		streamURL, err := c.voice.tracks.StreamURL(ctx, src.Link)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
		}
		input = streamURL
	}

	encoder, err := createOpusEncoder(c.voice.config)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}

	proc, err := startTranscoder(input, c.voice.config, c.voice.log)
	if err != nil {
		return nil, err
	}

	return startHandle(c.vc, proc, encoder, c.voice.log.With("link", src.Link)), nil
}

func createOpusEncoder(config *Config) (*opus.Encoder, error) {
	// 2049 = OPUS_APPLICATION_AUDIO (best for music)
	encoder, err := opus.NewEncoder(frameRate, channels, opus.Application(2049))
	if err != nil {
		return nil, err
	}

	encoder.SetBitrate(config.OpusBitrate)
	encoder.SetComplexity(config.OpusComplexity)
	encoder.SetInBandFEC(config.OpusInBandFEC)
	encoder.SetPacketLossPerc(config.OpusPacketLossPerc)
	encoder.SetDTX(config.OpusDTX)

	return encoder, nil
}

// discordHandle owns one transcoder process and the goroutine pumping its
// output into the voice connection.
type discordHandle struct {
	vc      *discordgo.VoiceConnection
	proc    *transcoder
	encoder *opus.Encoder
	log     *slog.Logger

	paused atomic.Bool
	ended  atomic.Bool
	volume atomic.Uint64
	frames atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	onEnd    []func()
	finished bool
}

// startHandle starts pumping proc's output into vc.
func startHandle(vc *discordgo.VoiceConnection, proc *transcoder, encoder *opus.Encoder, log *slog.Logger) *discordHandle {
	h := &discordHandle{
		vc:      vc,
		proc:    proc,
		encoder: encoder,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log,
	}
	h.volume.Store(math.Float64bits(1))

	go h.stream()
	return h
}

func (h *discordHandle) stream() {
	defer close(h.done)

	h.vc.Speaking(true)
	defer h.vc.Speaking(false)

	pcm := make([]int16, frameSize*channels)
	opusData := make([]byte, maxBytes)

readLoop:
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		if h.paused.Load() {
			select {
			case <-h.stop:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		err := binary.Read(h.proc.stdout, binary.LittleEndian, pcm)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break readLoop
		}
		if err != nil {
			select {
			case <-h.stop:
				return
			default:
			}
			h.log.Error("reading from ffmpeg stdout", tint.Err(err))
			break readLoop
		}

		applyVolume(pcm, math.Float64frombits(h.volume.Load()))

		n, err := h.encoder.Encode(pcm, opusData)
		if err != nil {
			h.log.Error("encoding pcm to opus", tint.Err(err))
			break readLoop
		}

		frame := make([]byte, n)
		copy(frame, opusData[:n])

		select {
		case h.vc.OpusSend <- frame:
			h.frames.Add(1)
		case <-h.stop:
			return
		}
	}

	// a killed transcoder also ends in EOF
	select {
	case <-h.stop:
		return
	default:
	}

	h.ended.Store(true)
	// reaps the process, which may still be running after a read or encode error
	h.proc.kill()

	h.mu.Lock()
	h.finished = true
	callbacks := h.onEnd
	h.mu.Unlock()
	for _, f := range callbacks {
		go f()
	}
}

// applyVolume scales the samples in place, clipping at the int16 range.
func applyVolume(pcm []int16, volume float64) {
	if volume == 1 {
		return
	}
	for i, s := range pcm {
		v := float64(s) * volume
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		pcm[i] = int16(v)
	}
}

func (h *discordHandle) Pause() error {
	if h.ended.Load() {
		return errTrackEnded
	}
	h.paused.Store(true)
	return h.vc.Speaking(false)
}

func (h *discordHandle) Play() error {
	if h.ended.Load() {
		return errTrackEnded
	}
	h.paused.Store(false)
	return h.vc.Speaking(true)
}

// Stop kills the transcoder and waits for the stream goroutine to exit.
func (h *discordHandle) Stop() error {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.proc.kill()
	})
	<-h.done
	h.ended.Store(true)
	return nil
}

func (h *discordHandle) SetVolume(v float64) error {
	if h.ended.Load() {
		return errTrackEnded
	}
	h.volume.Store(math.Float64bits(v))
	return nil
}

func (h *discordHandle) Info() (PlaybackInfo, error) {
	if h.ended.Load() {
		return PlaybackInfo{}, errTrackEnded
	}
	return PlaybackInfo{
		Playing:  !h.paused.Load(),
		Position: time.Duration(h.frames.Load()) * frameDuration,
	}, nil
}

func (h *discordHandle) OnEnd(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		go f()
		return
	}
	h.onEnd = append(h.onEnd, f)
}
