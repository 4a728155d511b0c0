package main

import (
	"errors"
	"fmt"
)

var (
	ErrNotInVoiceChannel = errors.New("user is not in a voice channel")
	ErrVoiceJoin         = errors.New("joining voice channel")
	ErrNotConnected      = errors.New("not connected to a voice channel")
	ErrNoResults         = errors.New("no results")
	ErrMetadataFetch     = errors.New("fetching metadata")
	ErrMetadataParse     = errors.New("parsing metadata")
	ErrInvalidVolume     = errors.New("invalid volume")
	ErrNoActiveTrack     = errors.New("no active track")
	ErrQueueEmpty        = errors.New("queue is empty")
	ErrProcessSpawn      = errors.New("starting audio process")
	ErrDJUnavailable     = errors.New("dj is not configured")

	ErrTokenPlaceholder = errors.New("token file created, fill it in and restart")
	ErrInvalidToken     = errors.New("invalid bot token")
)

// JoinError reports a failed voice join. It matches ErrVoiceJoin.
type JoinError struct {
	ChannelID string
	Err       error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("joining voice channel %s: %v", e.ChannelID, e.Err)
}

func (e *JoinError) Unwrap() []error {
	return []error{ErrVoiceJoin, e.Err}
}
