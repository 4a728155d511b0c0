package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lmittmann/tint"
)

const (
	testGuild   = "guild-1"
	testChannel = "voice-1"
	testUser    = "user-1"
	testBot     = "bot-1"
)

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn, NoColor: true}))
}

func testConfig() *Config {
	return &Config{
		CommandPrefix:    "!",
		DefaultStreamURL: "http://radio.test/default",
		SearchURL:        "https://search.test/results?search_query=",
		WatchdogInterval: time.Hour,
		DJMaxTracks:      10,
		CommandRate:      1000,
		CommandBurst:     1000,
	}
}

type fakeHandle struct {
	mu       sync.Mutex
	link     string
	playing  bool
	stopped  bool
	volume   float64
	position time.Duration
	onEnd    []func()
}

func (h *fakeHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return errTrackEnded
	}
	h.playing = false
	return nil
}

func (h *fakeHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return errTrackEnded
	}
	h.playing = true
	return nil
}

func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.playing = false
	return nil
}

func (h *fakeHandle) SetVolume(v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return errTrackEnded
	}
	h.volume = v
	return nil
}

func (h *fakeHandle) Info() (PlaybackInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return PlaybackInfo{}, errTrackEnded
	}
	return PlaybackInfo{Playing: h.playing, Position: h.position}, nil
}

func (h *fakeHandle) OnEnd(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnd = append(h.onEnd, f)
}

// finish ends the track on its own and runs the end callbacks inline.
func (h *fakeHandle) finish() {
	h.mu.Lock()
	h.stopped = true
	h.playing = false
	callbacks := h.onEnd
	h.mu.Unlock()
	for _, f := range callbacks {
		f()
	}
}

func (h *fakeHandle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

type fakeVoice struct {
	mu       sync.Mutex
	joinErr  error
	playErr  error
	playWait time.Duration
	joins    int
	leaves   int
	calls    map[string]*fakeCall
	handles  []*fakeHandle
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{calls: make(map[string]*fakeCall)}
}

func (v *fakeVoice) Join(_ context.Context, guildID, channelID string) (Call, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.joinErr != nil {
		return nil, v.joinErr
	}
	v.joins++
	c := &fakeCall{voice: v, channelID: channelID}
	v.calls[guildID] = c
	return c, nil
}

func (v *fakeVoice) Leave(_ context.Context, guildID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leaves++
	delete(v.calls, guildID)
	return nil
}

// move puts the guild's call in another channel, as a moderator drag would.
func (v *fakeVoice) move(guildID, channelID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.calls[guildID]; ok {
		c.channelID = channelID
	}
}

func (v *fakeVoice) allHandles() []*fakeHandle {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*fakeHandle(nil), v.handles...)
}

func (v *fakeVoice) counts() (joins, leaves int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.joins, v.leaves
}

func (v *fakeVoice) lastHandle() *fakeHandle {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.handles) == 0 {
		return nil
	}
	return v.handles[len(v.handles)-1]
}

type fakeCall struct {
	voice     *fakeVoice
	channelID string
}

func (c *fakeCall) ChannelID() string {
	c.voice.mu.Lock()
	defer c.voice.mu.Unlock()
	return c.channelID
}

func (c *fakeCall) PlaySource(_ context.Context, src PlaybackSource) (PlaybackHandle, error) {
	c.voice.mu.Lock()
	err, wait := c.voice.playErr, c.voice.playWait
	c.voice.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	if err != nil {
		return nil, err
	}

	h := &fakeHandle{link: src.Link, playing: true, volume: 1}
	c.voice.mu.Lock()
	c.voice.handles = append(c.voice.handles, h)
	c.voice.mu.Unlock()
	return h, nil
}

type fakeMembership struct {
	mu        sync.Mutex
	users     map[string]string
	occupants map[string][]string
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		users:     make(map[string]string),
		occupants: make(map[string][]string),
	}
}

func (m *fakeMembership) setUser(userID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = channelID
}

func (m *fakeMembership) setOccupants(channelID string, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.occupants[channelID] = ids
}

func (m *fakeMembership) UserVoiceChannel(_, userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.users[userID]
	return ch, ok
}

func (m *fakeMembership) ChannelOccupants(_, channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.occupants[channelID]...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	err   error
	urls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]string)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if f.err != nil {
		return "", f.err
	}
	page, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("GET %s: 404 Not Found", url)
	}
	return page, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeTracks struct {
	mu    sync.Mutex
	infos map[string]TrackInfo
}

func newFakeTracks() *fakeTracks {
	return &fakeTracks{infos: make(map[string]TrackInfo)}
}

func (f *fakeTracks) set(link, title string, length time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[link] = TrackInfo{Title: title, Duration: Found(length)}
}

func (f *fakeTracks) Lookup(_ context.Context, link string) (TrackInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[link]
	if !ok {
		return TrackInfo{}, fmt.Errorf("%w: %s", ErrMetadataFetch, link)
	}
	return info, nil
}

func (f *fakeTracks) StreamURL(_ context.Context, link string) (string, error) {
	return link, nil
}

type fakePlaylists struct {
	queries []string
	err     error
}

func (f *fakePlaylists) Playlist(context.Context, string) ([]string, error) {
	return f.queries, f.err
}

var errFakeJoin = errors.New("voice gateway timed out")

type testRig struct {
	orch    *Orchestrator
	voice   *fakeVoice
	members *fakeMembership
	fetcher *fakeFetcher
	tracks  *fakeTracks
	config  *Config
}

func newTestRig(t testing.TB, mutate ...func(*Config)) *testRig {
	t.Helper()

	config := testConfig()
	for _, m := range mutate {
		m(config)
	}

	rig := &testRig{
		voice:   newFakeVoice(),
		members: newFakeMembership(),
		fetcher: newFakeFetcher(),
		tracks:  newFakeTracks(),
		config:  config,
	}
	rig.members.setUser(testUser, testChannel)

	log := testLogger(t)
	rig.orch = NewOrchestrator(OrchestratorDeps{
		Voice:      rig.voice,
		Membership: rig.members,
		Resolver:   NewResolver(rig.fetcher, config, log),
		Tracks:     rig.tracks,
		BotID:      func() string { return testBot },
	}, config, log)

	t.Cleanup(func() { rig.orch.Shutdown(context.Background()) })
	return rig
}

func (r *testRig) inv() Invocation {
	return Invocation{GuildID: testGuild, ChannelID: "text-1", UserID: testUser, UserName: "tester"}
}

// video registers a track that play can reach by its watch link.
func (r *testRig) video(id, title string, length time.Duration) string {
	link := watchURL + id
	r.tracks.set(link, title, length)
	return link
}

// searchable makes query resolve to the video id through a results page.
func (r *testRig) searchable(query, id string) {
	page := fmt.Sprintf(`<script>var ytInitialData = {"contents":[{"videoId":"%s"}]};</script>`, id)
	r.fetcher.mu.Lock()
	defer r.fetcher.mu.Unlock()
	r.fetcher.pages[r.config.SearchURL+query] = page
}
