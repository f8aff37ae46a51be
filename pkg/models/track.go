package models

import (
	"fmt"
	"time"

	"crossdeck/internal/engine"
)

// ChannelID names one of the console's decks
type ChannelID string

const (
	ChannelA ChannelID = "A"
	ChannelB ChannelID = "B"
	ChannelC ChannelID = "C"
	ChannelD ChannelID = "D"
)

// Channels lists every deck channel in console order
var Channels = []ChannelID{ChannelA, ChannelB, ChannelC, ChannelD}

// ParseChannelID validates a channel name (case-sensitive)
func ParseChannelID(s string) (ChannelID, error) {
	for _, c := range Channels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// Track is a decoded, immutable piece of audio. The sample buffer is shared by
// the catalog and any deck holding the track and must never be written.
type Track struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Duration time.Duration  `json:"duration"`
	Source   string         `json:"source,omitempty"` // file path or URL it was acquired from
	Buffer   *engine.Buffer `json:"-"`
}

// TrackInfo is the JSON view of a catalog entry
type TrackInfo struct {
	Index    int     `json:"index"`
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"` // in seconds
}

// Info returns the catalog view of the track at position index
func (t *Track) Info(index int) TrackInfo {
	return TrackInfo{
		Index:    index,
		ID:       t.ID,
		Title:    t.Title,
		Duration: t.Duration.Seconds(),
	}
}

// Transition outcomes stored in the transition log
const (
	OutcomeStarted   = "started"
	OutcomeCompleted = "completed"
	OutcomeStale     = "stale"
	OutcomeAborted   = "aborted"
)

// Transition is one director crossfade from one deck to its successor
type Transition struct {
	ID         string     `json:"id"`
	From       ChannelID  `json:"from"`
	To         ChannelID  `json:"to"`
	TrackTitle string     `json:"trackTitle"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Outcome    string     `json:"outcome"`
}

// LibraryEntry is a file indexed from the library directory
type LibraryEntry struct {
	ID         int       `json:"id"`
	Path       string    `json:"-"` // don't expose file path to client
	Title      string    `json:"title"`
	DurationMS int64     `json:"durationMs"`
	SampleRate int       `json:"sampleRate"`
	Channels   int       `json:"channels"`
	AddedAt    time.Time `json:"addedAt"`
}
