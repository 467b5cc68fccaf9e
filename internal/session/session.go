// Package session defines the playback session the connector drives and a headless in-process implementation.
//
// A [Session] owns the item list, transport state and listeners.
// [Engine] implements it without decoding audio: position advances with a clock and tracks with a known duration end on their own.
package session

import (
	"context"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
)

// TransitionReason explains why the current item changed.
type TransitionReason int

const (
	TransitionAuto TransitionReason = iota
	TransitionSeek
	TransitionRepeat
	TransitionPlaylistChanged
)

// String returns the lowercase name of the reason.
func (r TransitionReason) String() string {
	switch r {
	case TransitionAuto:
		return "auto"
	case TransitionSeek:
		return "seek"
	case TransitionRepeat:
		return "repeat"
	case TransitionPlaylistChanged:
		return "playlist_changed"
	default:
		return "unknown"
	}
}

// Listener receives session callbacks. Callbacks run on the goroutine that caused them, never under the session lock.
type Listener interface {
	OnPlaybackStateChanged(state models.PlayerState)
	OnIsPlayingChanged(playing bool)
	OnTrackTransition(index int, reason TransitionReason)
	OnPlayerError(err error)
}

// ListenerFuncs adapts optional functions to a [Listener].
type ListenerFuncs struct {
	PlaybackStateChanged func(models.PlayerState)
	IsPlayingChanged     func(bool)
	TrackTransition      func(int, TransitionReason)
	PlayerError          func(error)
}

func (l ListenerFuncs) OnPlaybackStateChanged(state models.PlayerState) {
	if l.PlaybackStateChanged != nil {
		l.PlaybackStateChanged(state)
	}
}

func (l ListenerFuncs) OnIsPlayingChanged(playing bool) {
	if l.IsPlayingChanged != nil {
		l.IsPlayingChanged(playing)
	}
}

func (l ListenerFuncs) OnTrackTransition(index int, reason TransitionReason) {
	if l.TrackTransition != nil {
		l.TrackTransition(index, reason)
	}
}

func (l ListenerFuncs) OnPlayerError(err error) {
	if l.PlayerError != nil {
		l.PlayerError(err)
	}
}

// Session is a bound playback session.
type Session interface {
	SetItems(tracks []models.Track, startIndex int, position time.Duration)
	AddItems(tracks ...models.Track)
	RemoveItem(index int) bool
	ClearItems()
	Items() []models.Track

	Play()
	Pause()
	Stop()
	SeekTo(position time.Duration)
	SeekToItem(index int, position time.Duration) bool
	HasNext() bool
	Next() bool
	Previous() bool
	SetRepeatMode(mode models.RepeatMode)
	SetShuffle(enabled bool)

	State() models.PlaybackState
	AddListener(l Listener) (remove func())
	Release()
}

// Binder connects to a session.
type Binder interface {
	Bind(ctx context.Context) (Session, error)
}

// BinderFunc adapts a function to a [Binder].
type BinderFunc func(ctx context.Context) (Session, error)

// Bind calls f.
func (f BinderFunc) Bind(ctx context.Context) (Session, error) { return f(ctx) }
