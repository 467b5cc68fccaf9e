package models

import (
	"fmt"
	"time"
)

// PlayerState mirrors the playback state machine of a session.
type PlayerState int

const (
	StateIdle PlayerState = iota
	StateBuffering
	StateReady
	StateEnded
)

// String returns the lowercase name of the state.
func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateReady:
		return "ready"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// RepeatMode controls behavior at the end of a track or list.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

// String returns the lowercase name of the mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseRepeatMode converts "off", "one" or "all".
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "off", "":
		return RepeatOff, nil
	case "one":
		return RepeatOne, nil
	case "all":
		return RepeatAll, nil
	default:
		return RepeatOff, fmt.Errorf("unknown repeat mode %q", s)
	}
}

// PlaybackState is a point-in-time view of a session.
//
// Index is -1 when nothing is loaded. Duration is zero when unknown.
type PlaybackState struct {
	IsPlaying bool          `json:"is_playing"`
	State     PlayerState   `json:"state"`
	Index     int           `json:"index"`
	Duration  time.Duration `json:"duration"`
	Position  time.Duration `json:"position"`
	Buffered  time.Duration `json:"buffered"`
	Shuffle   bool          `json:"shuffle"`
	Repeat    RepeatMode    `json:"repeat"`
}

// EventKind discriminates [PlaybackEvent] values.
type EventKind string

const (
	KindStateChanged EventKind = "state_changed"
	KindTrackChanged EventKind = "track_changed"
	KindQueueEnded   EventKind = "queue_ended"
	KindError        EventKind = "error"
)

// PlaybackEvent is one of [StateChanged], [TrackChanged], [QueueEnded] or [ErrorEvent].
type PlaybackEvent interface {
	Kind() EventKind
	playbackEvent()
}

// StateChanged carries the latest state after a playback or is-playing change.
type StateChanged struct {
	State PlaybackState
}

// TrackChanged reports the new current index after a transition.
type TrackChanged struct {
	Index int
}

// QueueEnded reports that playback reached the end of the queue.
type QueueEnded struct {
	Reason string
}

// ErrorEvent wraps a player error.
type ErrorEvent struct {
	Err error
}

func (StateChanged) Kind() EventKind { return KindStateChanged }
func (TrackChanged) Kind() EventKind { return KindTrackChanged }
func (QueueEnded) Kind() EventKind   { return KindQueueEnded }
func (ErrorEvent) Kind() EventKind   { return KindError }

func (StateChanged) playbackEvent() {}
func (TrackChanged) playbackEvent() {}
func (QueueEnded) playbackEvent()   {}
func (ErrorEvent) playbackEvent()   {}

// DescribeEvent renders an event as a single line.
func DescribeEvent(e PlaybackEvent) string {
	switch ev := e.(type) {
	case StateChanged:
		return fmt.Sprintf("%s state=%s playing=%t index=%d position=%s", ev.Kind(), ev.State.State, ev.State.IsPlaying, ev.State.Index, ev.State.Position)
	case TrackChanged:
		return fmt.Sprintf("%s index=%d", ev.Kind(), ev.Index)
	case QueueEnded:
		return fmt.Sprintf("%s reason=%s", ev.Kind(), ev.Reason)
	case ErrorEvent:
		return fmt.Sprintf("%s err=%v", ev.Kind(), ev.Err)
	default:
		return "unknown"
	}
}
