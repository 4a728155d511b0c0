package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// Invocation identifies who issued a command and where.
type Invocation struct {
	GuildID   string
	ChannelID string
	UserID    string
	UserName  string
}

// OrchestratorDeps are the collaborators the orchestrator drives.
type OrchestratorDeps struct {
	Voice      Voice
	Membership Membership
	Resolver   *Resolver
	Tracks     TrackInfoSource
	// Playlists is nil when no playlist generator is configured.
	Playlists playlistGenerator
	BotID     func() string
}

// Orchestrator runs the voice session of every guild: joining and leaving,
// the queue, and the single active track.
type Orchestrator struct {
	OrchestratorDeps

	sessions    *SessionStore
	watchEvery  time.Duration
	autoAdvance bool
	djMaxTracks int
	log         *slog.Logger
}

func NewOrchestrator(deps OrchestratorDeps, config *Config, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		OrchestratorDeps: deps,
		sessions:         NewSessionStore(),
		watchEvery:       config.WatchdogInterval,
		autoAdvance:      config.AutoAdvance,
		djMaxTracks:      config.DJMaxTracks,
		log:              log.With(loggerNameKey, "orchestrator"),
	}
}

// Session returns a snapshot of the guild's session.
func (o *Orchestrator) Session(guildID string) SessionSnapshot {
	s, ok := o.sessions.Get(guildID)
	if !ok {
		return SessionSnapshot{}
	}
	return s.Snapshot()
}

// Join connects to the voice channel the invoking user is in.
func (o *Orchestrator) Join(ctx context.Context, inv Invocation) (string, error) {
	return o.join(ctx, o.sessions.GetOrCreate(inv.GuildID), inv)
}

func (o *Orchestrator) join(ctx context.Context, s *GuildSession, inv Invocation) (string, error) {
	channelID, ok := o.Membership.UserVoiceChannel(inv.GuildID, inv.UserID)
	if !ok {
		return "", ErrNotInVoiceChannel
	}

	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if joined {
		return o.refreshChannel(s), nil
	}

	call, err := o.Voice.Join(ctx, inv.GuildID, channelID)
	if err != nil {
		return channelID, &JoinError{ChannelID: channelID, Err: err}
	}

	watchCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.joined = true
	s.call = call
	s.channelID = channelID
	s.generation++
	gen := s.generation
	s.stopWatch = cancel
	s.mu.Unlock()

	o.log.Info("joined voice channel", "guild_id", inv.GuildID, "channel_id", channelID, "generation", gen)
	go o.watch(watchCtx, s, gen)
	return channelID, nil
}

// refreshChannel returns the voice channel the bot is in right now and
// records it on s. The bot can be moved between channels after joining.
func (o *Orchestrator) refreshChannel(s *GuildSession) string {
	s.mu.Lock()
	call, channelID := s.call, s.channelID
	s.mu.Unlock()
	if call == nil {
		return channelID
	}

	current := call.ChannelID()
	if o.BotID != nil {
		if botID := o.BotID(); botID != "" {
			if ch, ok := o.Membership.UserVoiceChannel(s.guildID, botID); ok {
				current = ch
			}
		}
	}
	if current == "" {
		return channelID
	}

	s.mu.Lock()
	if s.call == call && s.channelID != current {
		o.log.Info("bot moved to another voice channel", "guild_id", s.guildID, "from", s.channelID, "to", current)
		s.channelID = current
	}
	s.mu.Unlock()
	return current
}

// ensureConnected joins on behalf of inv when the guild has no voice
// connection yet.
func (o *Orchestrator) ensureConnected(ctx context.Context, inv Invocation) (*GuildSession, error) {
	s := o.sessions.GetOrCreate(inv.GuildID)

	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if joined {
		return s, nil
	}

	if _, err := o.join(ctx, s, inv); err != nil {
		return nil, err
	}
	return s, nil
}

// Leave disconnects from the guild's voice channel. It reports whether there
// was a connection to leave.
func (o *Orchestrator) Leave(ctx context.Context, guildID string) (bool, error) {
	s, ok := o.sessions.Get(guildID)
	if !ok {
		return false, nil
	}
	return o.leave(ctx, s, 0)
}

// leave tears the session down. A non-zero gen only leaves if the session
// is still on that generation.
func (o *Orchestrator) leave(ctx context.Context, s *GuildSession, gen uint64) (bool, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if !s.joined || (gen != 0 && s.generation != gen) {
		s.mu.Unlock()
		return false, nil
	}
	h := s.detachLocked()
	s.joined = false
	s.call = nil
	s.channelID = ""
	s.generation++
	cancel := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		if err := h.Stop(); err != nil {
			o.log.Warn("stopping track on leave", "guild_id", s.guildID, tint.Err(err))
		}
	}

	if err := o.Voice.Leave(ctx, s.guildID); err != nil {
		return true, fmt.Errorf("leaving voice channel: %w", err)
	}
	o.log.Info("left voice channel", "guild_id", s.guildID)
	return true, nil
}

// Play starts a track: the head of the queue if there is one, otherwise
// whatever text resolves to.
func (o *Orchestrator) Play(ctx context.Context, inv Invocation, text string) (TrackRef, error) {
	s, err := o.ensureConnected(ctx, inv)
	if err != nil {
		return TrackRef{}, err
	}

	s.mu.Lock()
	queued := !s.queue.IsEmpty()
	s.mu.Unlock()

	// a nil request makes attach take the queue head
	var req *TrackRequest
	if !queued {
		req, err = o.request(ctx, inv, text)
		if err != nil {
			return TrackRef{}, err
		}
	}
	return o.attach(ctx, s, req)
}

// Skip plays the head of the queue in place of the current track.
func (o *Orchestrator) Skip(ctx context.Context, inv Invocation) (TrackRef, error) {
	s, err := o.ensureConnected(ctx, inv)
	if err != nil {
		return TrackRef{}, err
	}

	return o.attach(ctx, s, nil)
}

// PlayPreset plays a fixed radio stream, bypassing the queue.
func (o *Orchestrator) PlayPreset(ctx context.Context, inv Invocation, p Preset) (TrackRef, error) {
	s, err := o.ensureConnected(ctx, inv)
	if err != nil {
		return TrackRef{}, err
	}

	req := &TrackRequest{
		Source:      PlaybackSource{Link: p.URL, Kind: SourceStream, Title: p.Title, Image: p.Image},
		Title:       p.Title,
		RequestedBy: inv.UserID,
	}
	return o.attach(ctx, s, req)
}

// request resolves text and fetches the metadata of what it resolved to.
func (o *Orchestrator) request(ctx context.Context, inv Invocation, text string) (*TrackRequest, error) {
	src, err := o.Resolver.Resolve(ctx, text)
	if err != nil {
		return nil, err
	}

	info, err := o.lookup(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoResults, err)
	}

	return &TrackRequest{
		Source:      src,
		Title:       info.Title,
		Duration:    info.Duration,
		RequestedBy: inv.UserID,
	}, nil
}

func (o *Orchestrator) lookup(ctx context.Context, src PlaybackSource) (TrackInfo, error) {
	if src.Kind == SourceStream {
		title := src.Title
		if title == "" {
			title = src.Link
		}
		return TrackInfo{Title: title}, nil
	}
	return o.Tracks.Lookup(ctx, src.Link)
}

// attach stops the active track and starts req in its place. A nil req
// takes the head of the queue, or fails with ErrQueueEmpty. transition is
// held across the stop and the start so only one track is ever attached.
func (o *Orchestrator) attach(ctx context.Context, s *GuildSession, req *TrackRequest) (TrackRef, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return TrackRef{}, ErrNotConnected
	}
	if req == nil {
		if req = s.queue.Get(); req == nil {
			s.mu.Unlock()
			return TrackRef{}, ErrQueueEmpty
		}
	}
	call := s.call
	old := s.detachLocked()
	s.mu.Unlock()

	if old != nil {
		if err := old.Stop(); err != nil {
			o.log.Warn("stopping previous track", "guild_id", s.guildID, tint.Err(err))
		}
	}

	h, err := call.PlaySource(ctx, req.Source)
	if err != nil {
		return TrackRef{}, err
	}

	ref := TrackRef{Link: req.Source.Link, Title: req.Title, Duration: req.Duration}

	s.mu.Lock()
	s.current = ref
	s.active = h
	s.playing = true
	s.mu.Unlock()

	h.OnEnd(func() { o.trackEnded(s, h) })

	o.log.Info("playing", "guild_id", s.guildID, "title", ref.Title, "link", ref.Link)
	return ref, nil
}

// trackEnded handles a track reaching its end on its own. Only the active
// handle's end changes the session.
func (o *Orchestrator) trackEnded(s *GuildSession, h PlaybackHandle) {
	s.mu.Lock()
	if s.active != h {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	finished := s.current
	advance := o.autoAdvance && !s.queue.IsEmpty()
	s.mu.Unlock()

	o.log.Info("track finished", "guild_id", s.guildID, "title", finished.Title)
	if !advance {
		return
	}

	_, err := o.attach(context.Background(), s, nil)
	if err != nil && !errors.Is(err, ErrQueueEmpty) {
		o.log.Error("advancing queue", "guild_id", s.guildID, tint.Err(err))
	}
}

// Enqueue resolves text and appends it to the queue without playing it.
func (o *Orchestrator) Enqueue(ctx context.Context, inv Invocation, text string) (*TrackRequest, error) {
	s, err := o.ensureConnected(ctx, inv)
	if err != nil {
		return nil, err
	}

	req, err := o.request(ctx, inv, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return nil, ErrNotConnected
	}
	s.queue.Add(req)
	o.log.Debug("queued", "guild_id", s.guildID, "title", req.Title, "position", s.queue.Len())
	return req, nil
}

// Queue lists the queued requests in play order.
func (o *Orchestrator) Queue(ctx context.Context, inv Invocation) ([]*TrackRequest, error) {
	s, err := o.ensureConnected(ctx, inv)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.List(), nil
}

func (o *Orchestrator) activeHandle(guildID string) PlaybackHandle {
	s, ok := o.sessions.Get(guildID)
	if !ok {
		return nil
	}
	return s.handle()
}

// TogglePause pauses a playing track or resumes a paused one. It reports
// whether the track is now paused.
func (o *Orchestrator) TogglePause(guildID string) (bool, error) {
	h := o.activeHandle(guildID)
	if h == nil {
		return false, ErrNoActiveTrack
	}

	info, err := h.Info()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrNoActiveTrack, err)
	}

	if info.Playing {
		return true, h.Pause()
	}
	return false, h.Play()
}

// Stop stops the active track. The current track's metadata is kept.
func (o *Orchestrator) Stop(guildID string) error {
	s, ok := o.sessions.Get(guildID)
	if !ok {
		return nil
	}

	s.mu.Lock()
	h := s.detachLocked()
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Stop()
}

// ValidateVolume accepts finite volumes in [0, 10].
func ValidateVolume(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 10 {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, v)
	}
	return nil
}

func (o *Orchestrator) SetVolume(guildID string, v float64) error {
	if err := ValidateVolume(v); err != nil {
		return err
	}

	h := o.activeHandle(guildID)
	if h == nil {
		return ErrNoActiveTrack
	}
	return h.SetVolume(v)
}

// Elapsed returns the position in the active track and the track's length,
// zero when the length is unknown.
func (o *Orchestrator) Elapsed(guildID string) (time.Duration, time.Duration, error) {
	s, ok := o.sessions.Get(guildID)
	if !ok {
		return 0, 0, ErrNoActiveTrack
	}

	s.mu.Lock()
	h := s.active
	total := s.current.Duration.Or(0)
	s.mu.Unlock()

	if h == nil {
		return 0, 0, ErrNoActiveTrack
	}
	info, err := h.Info()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrNoActiveTrack, err)
	}
	return info.Position, total, nil
}

// Describe fetches the description of the active track, normalized for
// posting in chat.
func (o *Orchestrator) Describe(ctx context.Context, guildID string) (string, error) {
	s, ok := o.sessions.Get(guildID)
	if !ok {
		return "", ErrNoActiveTrack
	}

	s.mu.Lock()
	h := s.active
	link := s.current.Link
	s.mu.Unlock()

	if h == nil {
		return "", ErrNoActiveTrack
	}
	if _, err := h.Info(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoActiveTrack, err)
	}

	d, err := o.Resolver.Describe(ctx, link)
	if err != nil {
		return "", err
	}
	desc := d.Description.Or("")

	s.mu.Lock()
	if s.current.Link == link {
		s.current.Description = desc
	}
	s.mu.Unlock()

	return normalizeDescription(desc), nil
}

// DJ asks the playlist generator for tracks matching prompt, queues the ones
// that resolve and starts playing if nothing is. It returns how many tracks
// were queued.
func (o *Orchestrator) DJ(ctx context.Context, inv Invocation, prompt string) (int, error) {
	if o.Playlists == nil {
		return 0, ErrDJUnavailable
	}

	s, err := o.ensureConnected(ctx, inv)
	if err != nil {
		return 0, err
	}

	queries, err := o.Playlists.Playlist(ctx, prompt)
	if err != nil {
		return 0, err
	}
	if len(queries) > o.djMaxTracks {
		queries = queries[:o.djMaxTracks]
	}

	reqs := make([]*TrackRequest, len(queries))
	var g errgroup.Group
	g.SetLimit(4)
	for i, q := range queries {
		g.Go(func() error {
			req, err := o.request(ctx, inv, q)
			if err != nil {
				o.log.Warn("could not resolve dj track", "query", q, tint.Err(err))
				return nil
			}
			reqs[i] = req
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return 0, ErrNotConnected
	}
	added := 0
	for _, req := range reqs {
		if req != nil {
			s.queue.Add(req)
			added++
		}
	}
	idle := !s.playing
	s.mu.Unlock()

	if added == 0 {
		return 0, ErrNoResults
	}

	if idle {
		if _, err := o.attach(ctx, s, nil); err != nil {
			return added, err
		}
	}
	return added, nil
}

// Shutdown leaves every guild.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, guildID := range o.sessions.GuildIDs() {
		if _, err := o.Leave(ctx, guildID); err != nil && !errors.Is(err, context.Canceled) {
			o.log.Warn("leaving on shutdown", "guild_id", guildID, tint.Err(err))
		}
	}
}
