package main

import (
	"context"
	"sync"
	"time"
)

// TrackRef describes the track most recently attached in a guild.
type TrackRef struct {
	Link     string
	Title    string
	Duration Field[time.Duration]
	// Description is the last description fetched for Link.
	Description string
}

// GuildSession is the voice state of one guild.
//
// mu guards every field below it and is never held across network, process
// or voice calls. transition serializes joining, leaving and swapping the
// active handle so that at most one handle is ever attached.
type GuildSession struct {
	guildID    string
	transition sync.Mutex

	mu         sync.Mutex
	joined     bool
	playing    bool
	call       Call
	channelID  string
	current    TrackRef
	queue      *Queue
	active     PlaybackHandle
	generation uint64
	stopWatch  context.CancelFunc
}

func newGuildSession(guildID string) *GuildSession {
	return &GuildSession{
		guildID: guildID,
		queue:   NewQueue(),
	}
}

// SessionSnapshot is a copy of a session's fields at one instant.
type SessionSnapshot struct {
	Joined     bool
	Playing    bool
	ChannelID  string
	Current    TrackRef
	Queue      []*TrackRequest
	HasHandle  bool
	Generation uint64
}

func (s *GuildSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		Joined:     s.joined,
		Playing:    s.playing,
		ChannelID:  s.channelID,
		Current:    s.current,
		Queue:      s.queue.List(),
		HasHandle:  s.active != nil,
		Generation: s.generation,
	}
}

func (s *GuildSession) handle() PlaybackHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// detachLocked clears the playback fields and returns the handle that was active.
// Callers hold mu.
func (s *GuildSession) detachLocked() PlaybackHandle {
	h := s.active
	s.active = nil
	s.playing = false
	return h
}

// SessionStore holds one GuildSession per guild. Its lock only guards the
// map; each session has its own locks.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*GuildSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*GuildSession),
	}
}

func (st *SessionStore) Get(guildID string) (*GuildSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[guildID]
	return s, ok
}

func (st *SessionStore) GetOrCreate(guildID string) *GuildSession {
	if s, ok := st.Get(guildID); ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[guildID]; ok {
		return s
	}
	s := newGuildSession(guildID)
	st.sessions[guildID] = s
	return s
}

func (st *SessionStore) GuildIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}
