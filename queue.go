package main

import (
	"slices"
	"time"
)

// TrackRequest is a queued source plus the metadata fetched when it was
// added.
type TrackRequest struct {
	Source      PlaybackSource
	Title       string
	Duration    Field[time.Duration]
	RequestedBy string
}

// Queue is a FIFO of track requests. It is not safe for concurrent use; the
// owning GuildSession guards it.
type Queue struct {
	songs []*TrackRequest
}

func NewQueue() *Queue {
	return &Queue{
		songs: make([]*TrackRequest, 0),
	}
}

func (q *Queue) Add(song *TrackRequest) {
	q.songs = append(q.songs, song)
}

func (q *Queue) Get() *TrackRequest {
	if len(q.songs) == 0 {
		return nil
	}
	song := q.songs[0]
	q.songs = q.songs[1:]
	return song
}

func (q *Queue) IsEmpty() bool {
	return len(q.songs) == 0
}

func (q *Queue) Len() int {
	return len(q.songs)
}

func (q *Queue) List() []*TrackRequest {
	return slices.Clone(q.songs)
}
