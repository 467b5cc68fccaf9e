package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
)

// restartThreshold is how far into a track Previous restarts it instead of moving back.
const restartThreshold = 3 * time.Second

// EngineOptions configures an [Engine].
type EngineOptions struct {
	// Clock defaults to [time.Now].
	Clock        func() time.Time
	TickInterval time.Duration
	Logger       *log.Logger
}

type listenerEntry struct {
	id int
	l  Listener
}

type notify func(Listener)

// Engine is a headless [Session].
type Engine struct {
	clock  func() time.Time
	tick   time.Duration
	logger *log.Logger

	mu        sync.Mutex
	items     []models.Track
	index     int
	order     []int
	state     models.PlayerState
	playing   bool
	position  time.Duration
	anchor    time.Time
	repeat    models.RepeatMode
	shuffle   bool
	listeners []listenerEntry
	nextID    int
	released  bool
}

// NewEngine creates an idle engine with no items.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 250 * time.Millisecond
	}
	return &Engine{
		clock:  opts.Clock,
		tick:   opts.TickInterval,
		logger: shared.WithLogger(opts.Logger, "component", "engine"),
		index:  -1,
		anchor: opts.Clock(),
	}
}

// update runs fn under the lock and delivers the returned notifications to a snapshot of the listeners after unlocking.
func (e *Engine) update(fn func() []notify) {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	notes := fn()
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	for _, n := range notes {
		for _, entry := range listeners {
			n(entry.l)
		}
	}
}

func (e *Engine) SetItems(tracks []models.Track, startIndex int, position time.Duration) {
	e.update(func() []notify {
		e.items = slices.Clone(tracks)
		e.position = max(position, 0)
		e.anchor = e.clock()
		if len(e.items) == 0 {
			e.index = -1
			e.order = nil
			return append(e.setPlaying(false), e.setState(models.StateIdle)...)
		}

		e.index = min(max(startIndex, 0), len(e.items)-1)
		e.rebuildOrder()
		notes := e.setState(models.StateReady)
		return append(notes, transition(e.index, TransitionPlaylistChanged))
	})
}

func (e *Engine) AddItems(tracks ...models.Track) {
	e.update(func() []notify {
		if len(tracks) == 0 {
			return nil
		}
		e.items = append(e.items, tracks...)
		e.rebuildOrder()
		if e.index >= 0 {
			return nil
		}
		e.index = 0
		e.position = 0
		e.anchor = e.clock()
		notes := e.setState(models.StateReady)
		return append(notes, transition(0, TransitionPlaylistChanged))
	})
}

// RemoveItem deletes the item at index. Removing the current item moves to its successor.
func (e *Engine) RemoveItem(index int) bool {
	removed := false
	e.update(func() []notify {
		if index < 0 || index >= len(e.items) {
			return nil
		}
		removed = true
		e.items = slices.Delete(e.items, index, index+1)

		var notes []notify
		switch {
		case len(e.items) == 0:
			e.index = -1
			notes = append(e.setPlaying(false), e.setState(models.StateIdle)...)
		case index < e.index:
			e.index--
		case index == e.index:
			e.index = min(e.index, len(e.items)-1)
			e.position = 0
			e.anchor = e.clock()
			notes = append(notes, transition(e.index, TransitionPlaylistChanged))
		}
		e.rebuildOrder()
		return notes
	})
	return removed
}

func (e *Engine) ClearItems() {
	e.SetItems(nil, 0, 0)
}

func (e *Engine) Items() []models.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.items)
}

func (e *Engine) Play() {
	e.update(func() []notify {
		if e.index < 0 {
			return nil
		}
		var notes []notify
		if e.state == models.StateEnded {
			e.position = 0
			e.anchor = e.clock()
		}
		if e.state != models.StateReady {
			notes = e.setState(models.StateReady)
		}
		return append(notes, e.setPlaying(true)...)
	})
}

func (e *Engine) Pause() {
	e.update(func() []notify { return e.setPlaying(false) })
}

// Stop pauses and returns to idle, keeping the item and position.
func (e *Engine) Stop() {
	e.update(func() []notify {
		return append(e.setPlaying(false), e.setState(models.StateIdle)...)
	})
}

func (e *Engine) SeekTo(position time.Duration) {
	e.update(func() []notify {
		if e.index < 0 {
			return nil
		}
		e.position = e.clampPosition(position)
		e.anchor = e.clock()
		if e.state == models.StateEnded {
			return e.setState(models.StateReady)
		}
		return nil
	})
}

func (e *Engine) SeekToItem(index int, position time.Duration) bool {
	ok := false
	e.update(func() []notify {
		if index < 0 || index >= len(e.items) {
			return nil
		}
		ok = true
		changed := index != e.index
		e.index = index
		e.position = e.clampPosition(position)
		e.anchor = e.clock()

		var notes []notify
		if e.state == models.StateEnded {
			notes = e.setState(models.StateReady)
		}
		if changed {
			notes = append(notes, transition(index, TransitionSeek))
		}
		return notes
	})
	return ok
}

func (e *Engine) HasNext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextIndex() >= 0
}

// Next moves to the following item in play order, wrapping when repeat all is set.
func (e *Engine) Next() bool {
	ok := false
	e.update(func() []notify {
		n := e.nextIndex()
		if n < 0 {
			return nil
		}
		ok = true
		e.index = n
		e.position = 0
		e.anchor = e.clock()

		var notes []notify
		if e.state == models.StateEnded {
			notes = e.setState(models.StateReady)
		}
		return append(notes, transition(n, TransitionSeek))
	})
	return ok
}

// Previous restarts the current item when past the restart threshold or at the head, and otherwise moves back one.
func (e *Engine) Previous() bool {
	ok := false
	e.update(func() []notify {
		if e.index < 0 {
			return nil
		}
		ok = true
		p := e.previousIndex()
		restart := p < 0 || e.currentPosition() > restartThreshold
		e.position = 0
		e.anchor = e.clock()
		if restart {
			return nil
		}
		e.index = p
		return []notify{transition(p, TransitionSeek)}
	})
	return ok
}

func (e *Engine) SetRepeatMode(mode models.RepeatMode) {
	e.update(func() []notify {
		e.repeat = mode
		return nil
	})
}

func (e *Engine) SetShuffle(enabled bool) {
	e.update(func() []notify {
		e.shuffle = enabled
		e.rebuildOrder()
		return nil
	})
}

func (e *Engine) State() models.PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := models.PlaybackState{
		IsPlaying: e.playing,
		State:     e.state,
		Index:     e.index,
		Position:  e.currentPosition(),
		Shuffle:   e.shuffle,
		Repeat:    e.repeat,
	}
	if e.index >= 0 {
		state.Duration = e.items[e.index].Duration
	}
	state.Buffered = max(state.Duration, state.Position)
	return state
}

func (e *Engine) AddListener(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listenerEntry{id: id, l: l})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.listeners = slices.DeleteFunc(e.listeners, func(entry listenerEntry) bool { return entry.id == id })
	}
}

// Release stops playback and detaches all listeners. Later calls are no-ops.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.released = true
	e.playing = false
	e.items = nil
	e.index = -1
	e.state = models.StateIdle
	e.listeners = nil
	e.logger.Debug("engine released")
}

// Released reports whether [Engine.Release] was called.
func (e *Engine) Released() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

// Fail reports err to listeners and stops playback, as a decoder or source error would.
func (e *Engine) Fail(err error) {
	e.update(func() []notify {
		e.logger.Warn("playback error", "err", err, "index", e.index)
		notes := append(e.setPlaying(false), e.setState(models.StateIdle)...)
		return append(notes, func(l Listener) { l.OnPlayerError(err) })
	})
}

// Tick advances past the end of the current item when its duration has elapsed.
func (e *Engine) Tick() {
	e.update(func() []notify {
		if !e.playing || e.index < 0 {
			return nil
		}
		d := e.items[e.index].Duration
		if d <= 0 || e.currentPosition() < d {
			return nil
		}

		e.position = 0
		e.anchor = e.clock()
		if e.repeat == models.RepeatOne {
			return []notify{transition(e.index, TransitionRepeat)}
		}
		if n := e.nextIndex(); n >= 0 {
			reason := TransitionAuto
			if n == e.index {
				reason = TransitionRepeat
			}
			e.index = n
			return []notify{transition(n, reason)}
		}

		e.position = d
		notes := e.setPlaying(false)
		return append(notes, e.setState(models.StateEnded)...)
	})
}

// Run ticks until ctx is done or the engine is released.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if e.Released() {
				return nil
			}
			e.Tick()
		}
	}
}

// String describes the engine for logs.
func (e *Engine) String() string {
	s := e.State()
	return fmt.Sprintf("engine(state=%s playing=%t index=%d position=%s)", s.State, s.IsPlaying, s.Index, s.Position)
}

func transition(index int, reason TransitionReason) notify {
	return func(l Listener) { l.OnTrackTransition(index, reason) }
}

func (e *Engine) setState(s models.PlayerState) []notify {
	if e.state == s {
		return nil
	}
	e.state = s
	return []notify{func(l Listener) { l.OnPlaybackStateChanged(s) }}
}

func (e *Engine) setPlaying(playing bool) []notify {
	if e.playing == playing {
		return nil
	}
	e.position = e.currentPosition()
	e.anchor = e.clock()
	e.playing = playing
	return []notify{func(l Listener) { l.OnIsPlayingChanged(playing) }}
}

func (e *Engine) currentPosition() time.Duration {
	pos := e.position
	if e.playing {
		pos += e.clock().Sub(e.anchor)
	}
	return e.clampPosition(pos)
}

func (e *Engine) clampPosition(pos time.Duration) time.Duration {
	pos = max(pos, 0)
	if e.index >= 0 && e.index < len(e.items) {
		if d := e.items[e.index].Duration; d > 0 && pos > d {
			return d
		}
	}
	return pos
}

// rebuildOrder recomputes the play order. With shuffle on, the current item leads a random permutation of the rest.
func (e *Engine) rebuildOrder() {
	n := len(e.items)
	e.order = make([]int, n)
	for i := range e.order {
		e.order[i] = i
	}
	if !e.shuffle || n < 2 {
		return
	}
	rand.Shuffle(n, func(i, j int) { e.order[i], e.order[j] = e.order[j], e.order[i] })
	if at := slices.Index(e.order, e.index); at > 0 {
		e.order[0], e.order[at] = e.order[at], e.order[0]
	}
}

func (e *Engine) nextIndex() int {
	at := slices.Index(e.order, e.index)
	if at < 0 {
		return -1
	}
	if at+1 < len(e.order) {
		return e.order[at+1]
	}
	if e.repeat == models.RepeatAll && len(e.order) > 0 {
		return e.order[0]
	}
	return -1
}

func (e *Engine) previousIndex() int {
	at := slices.Index(e.order, e.index)
	if at > 0 {
		return e.order[at-1]
	}
	return -1
}

// LocalBinder binds to an in-process [Engine].
type LocalBinder struct {
	engine *Engine
}

// NewLocalBinder returns a binder for engine.
func NewLocalBinder(engine *Engine) *LocalBinder {
	return &LocalBinder{engine: engine}
}

// Bind returns the engine, or [shared.ErrReleased] once it has been released.
func (b *LocalBinder) Bind(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.engine == nil {
		return nil, fmt.Errorf("%w: no engine to bind", shared.ErrNotBound)
	}
	if b.engine.Released() {
		return nil, fmt.Errorf("%w: engine", shared.ErrReleased)
	}
	return b.engine, nil
}

// Engine returns the bound engine.
func (b *LocalBinder) Engine() *Engine { return b.engine }
