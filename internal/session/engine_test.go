package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu          sync.Mutex
	states      []models.PlayerState
	playing     []bool
	transitions []int
	reasons     []TransitionReason
	errs        []error
}

func (r *recorder) OnPlaybackStateChanged(s models.PlayerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnIsPlayingChanged(p bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = append(r.playing, p)
}

func (r *recorder) OnTrackTransition(i int, reason TransitionReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, i)
	r.reasons = append(r.reasons, reason)
}

func (r *recorder) OnPlayerError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func tracks(n int, d time.Duration) []models.Track {
	out := make([]models.Track, n)
	for i := range out {
		out[i] = models.Track{ID: fmt.Sprintf("t%d", i), URI: fmt.Sprintf("https://example.com/t%d.mp3", i), Duration: d}
	}
	return out
}

func newTestEngine() (*Engine, *fakeClock, *recorder) {
	clock := newFakeClock()
	e := NewEngine(EngineOptions{Clock: clock.Now})
	r := &recorder{}
	e.AddListener(r)
	return e, clock, r
}

func TestEngineTransport(t *testing.T) {
	t.Run("SetItems then Play", func(t *testing.T) {
		e, clock, r := newTestEngine()
		e.SetItems(tracks(3, time.Minute), 1, 5*time.Second)
		e.Play()

		state := e.State()
		if state.Index != 1 || state.State != models.StateReady || !state.IsPlaying {
			t.Fatalf("unexpected state %+v", state)
		}

		clock.Advance(10 * time.Second)
		if got := e.State().Position; got != 15*time.Second {
			t.Errorf("Position = %s, want 15s", got)
		}

		e.Pause()
		clock.Advance(time.Minute)
		if got := e.State().Position; got != 15*time.Second {
			t.Errorf("paused Position = %s, want 15s", got)
		}

		if len(r.transitions) != 1 || r.transitions[0] != 1 || r.reasons[0] != TransitionPlaylistChanged {
			t.Errorf("transitions = %v %v", r.transitions, r.reasons)
		}
		if len(r.playing) != 2 || !r.playing[0] || r.playing[1] {
			t.Errorf("playing changes = %v", r.playing)
		}
	})

	t.Run("start index is clamped", func(t *testing.T) {
		e, _, _ := newTestEngine()
		e.SetItems(tracks(2, 0), 9, 0)
		if got := e.State().Index; got != 1 {
			t.Errorf("Index = %d, want 1", got)
		}
	})

	t.Run("Play on empty is ignored", func(t *testing.T) {
		e, _, r := newTestEngine()
		e.Play()
		if e.State().IsPlaying || len(r.playing) != 0 {
			t.Error("empty engine should not start playing")
		}
	})

	t.Run("Stop keeps position", func(t *testing.T) {
		e, clock, r := newTestEngine()
		e.SetItems(tracks(1, time.Minute), 0, 0)
		e.Play()
		clock.Advance(3 * time.Second)
		e.Stop()

		state := e.State()
		if state.State != models.StateIdle || state.IsPlaying || state.Position != 3*time.Second {
			t.Errorf("unexpected state after stop %+v", state)
		}
		if r.states[len(r.states)-1] != models.StateIdle {
			t.Errorf("states = %v", r.states)
		}
	})

	t.Run("SeekTo clamps to duration", func(t *testing.T) {
		e, _, _ := newTestEngine()
		e.SetItems(tracks(1, 10*time.Second), 0, 0)
		e.SeekTo(time.Hour)
		if got := e.State().Position; got != 10*time.Second {
			t.Errorf("Position = %s", got)
		}
		e.SeekTo(-time.Second)
		if got := e.State().Position; got != 0 {
			t.Errorf("Position = %s", got)
		}
	})
}

func TestEngineNavigation(t *testing.T) {
	t.Run("Next and HasNext", func(t *testing.T) {
		e, _, r := newTestEngine()
		e.SetItems(tracks(2, 0), 0, 0)

		if !e.HasNext() || !e.Next() {
			t.Fatal("expected a next item")
		}
		if e.HasNext() || e.Next() {
			t.Error("no next item at the tail")
		}
		if got := r.transitions; len(got) != 2 || got[1] != 1 {
			t.Errorf("transitions = %v", got)
		}
	})

	t.Run("repeat all wraps", func(t *testing.T) {
		e, _, _ := newTestEngine()
		e.SetItems(tracks(2, 0), 1, 0)
		e.SetRepeatMode(models.RepeatAll)
		if !e.Next() || e.State().Index != 0 {
			t.Errorf("expected wrap to 0, got %d", e.State().Index)
		}
	})

	t.Run("Previous", func(t *testing.T) {
		e, clock, _ := newTestEngine()
		e.SetItems(tracks(3, time.Minute), 2, 0)
		e.Play()

		clock.Advance(10 * time.Second)
		e.Previous()
		if s := e.State(); s.Index != 2 || s.Position != 0 {
			t.Errorf("past threshold restarts: %+v", s)
		}

		clock.Advance(time.Second)
		e.Previous()
		if s := e.State(); s.Index != 1 {
			t.Errorf("near start moves back: %+v", s)
		}
	})

	t.Run("SeekToItem", func(t *testing.T) {
		e, _, r := newTestEngine()
		e.SetItems(tracks(3, time.Minute), 0, 0)
		if !e.SeekToItem(2, 4*time.Second) {
			t.Fatal("SeekToItem failed")
		}
		if s := e.State(); s.Index != 2 || s.Position != 4*time.Second {
			t.Errorf("unexpected state %+v", s)
		}
		if e.SeekToItem(3, 0) {
			t.Error("out of range seek should fail")
		}
		if r.reasons[len(r.reasons)-1] != TransitionSeek {
			t.Errorf("reasons = %v", r.reasons)
		}
	})

	t.Run("shuffle visits every item once", func(t *testing.T) {
		e, _, _ := newTestEngine()
		e.SetItems(tracks(6, 0), 2, 0)
		e.SetShuffle(true)

		seen := map[int]bool{e.State().Index: true}
		for e.Next() {
			idx := e.State().Index
			if seen[idx] {
				t.Fatalf("index %d visited twice", idx)
			}
			seen[idx] = true
		}
		if len(seen) != 6 {
			t.Errorf("visited %d items, want 6", len(seen))
		}
	})
}

func TestEngineEditing(t *testing.T) {
	t.Run("AddItems to empty selects first", func(t *testing.T) {
		e, _, r := newTestEngine()
		e.AddItems(tracks(2, 0)...)
		if s := e.State(); s.Index != 0 || s.State != models.StateReady {
			t.Errorf("unexpected state %+v", s)
		}
		if len(r.transitions) != 1 {
			t.Errorf("transitions = %v", r.transitions)
		}
	})

	t.Run("RemoveItem", func(t *testing.T) {
		e, _, _ := newTestEngine()
		e.SetItems(tracks(3, 0), 1, 0)

		e.RemoveItem(0)
		if got := e.State().Index; got != 0 {
			t.Errorf("Index after removing earlier item = %d, want 0", got)
		}
		if e.Items()[0].ID != "t1" {
			t.Errorf("current item changed: %v", e.Items())
		}

		e.RemoveItem(0)
		if items := e.Items(); len(items) != 1 || items[0].ID != "t2" || e.State().Index != 0 {
			t.Errorf("removing current should select successor: %v", items)
		}

		e.RemoveItem(0)
		if s := e.State(); s.Index != -1 || s.State != models.StateIdle {
			t.Errorf("empty engine state %+v", s)
		}
		if e.RemoveItem(0) {
			t.Error("remove on empty should fail")
		}
	})

	t.Run("ClearItems", func(t *testing.T) {
		e, _, _ := newTestEngine()
		e.SetItems(tracks(2, 0), 0, 0)
		e.Play()
		e.ClearItems()
		if s := e.State(); s.Index != -1 || s.IsPlaying || len(e.Items()) != 0 {
			t.Errorf("unexpected state %+v", s)
		}
	})
}

func TestEngineTick(t *testing.T) {
	t.Run("auto advances then ends", func(t *testing.T) {
		e, clock, r := newTestEngine()
		e.SetItems(tracks(2, 10*time.Second), 0, 0)
		e.Play()

		clock.Advance(10 * time.Second)
		e.Tick()
		if s := e.State(); s.Index != 1 || s.Position != 0 || !s.IsPlaying {
			t.Fatalf("expected auto advance, got %+v", s)
		}
		if r.reasons[len(r.reasons)-1] != TransitionAuto {
			t.Errorf("reasons = %v", r.reasons)
		}

		clock.Advance(11 * time.Second)
		e.Tick()
		s := e.State()
		if s.State != models.StateEnded || s.IsPlaying || s.Position != 10*time.Second {
			t.Errorf("expected ended, got %+v", s)
		}

		e.Play()
		if s := e.State(); s.State != models.StateReady || s.Position != 0 {
			t.Errorf("play after end restarts: %+v", s)
		}
	})

	t.Run("repeat one replays", func(t *testing.T) {
		e, clock, r := newTestEngine()
		e.SetItems(tracks(2, 5*time.Second), 0, 0)
		e.SetRepeatMode(models.RepeatOne)
		e.Play()

		clock.Advance(5 * time.Second)
		e.Tick()
		if s := e.State(); s.Index != 0 || s.Position != 0 {
			t.Errorf("expected replay, got %+v", s)
		}
		if r.reasons[len(r.reasons)-1] != TransitionRepeat {
			t.Errorf("reasons = %v", r.reasons)
		}
	})

	t.Run("unknown duration never ends", func(t *testing.T) {
		e, clock, _ := newTestEngine()
		e.SetItems(tracks(1, 0), 0, 0)
		e.Play()
		clock.Advance(time.Hour)
		e.Tick()
		if s := e.State(); s.State != models.StateReady || !s.IsPlaying {
			t.Errorf("unexpected state %+v", s)
		}
	})

	t.Run("Run stops with context", func(t *testing.T) {
		e := NewEngine(EngineOptions{TickInterval: time.Millisecond})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := e.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestEngineLifecycle(t *testing.T) {
	t.Run("Fail notifies error", func(t *testing.T) {
		e, _, r := newTestEngine()
		e.SetItems(tracks(1, 0), 0, 0)
		e.Play()
		boom := errors.New("decoder failure")
		e.Fail(boom)

		if len(r.errs) != 1 || !errors.Is(r.errs[0], boom) {
			t.Errorf("errs = %v", r.errs)
		}
		if s := e.State(); s.IsPlaying || s.State != models.StateIdle {
			t.Errorf("unexpected state %+v", s)
		}
	})

	t.Run("removed listener is not called", func(t *testing.T) {
		e := NewEngine(EngineOptions{})
		r := &recorder{}
		remove := e.AddListener(r)
		remove()
		e.SetItems(tracks(1, 0), 0, 0)
		if len(r.transitions) != 0 {
			t.Errorf("transitions = %v", r.transitions)
		}
	})

	t.Run("Release", func(t *testing.T) {
		e, _, r := newTestEngine()
		e.Release()
		e.Release()
		e.SetItems(tracks(1, 0), 0, 0)
		if len(e.Items()) != 0 || len(r.transitions) != 0 {
			t.Error("released engine should ignore commands")
		}

		if _, err := NewLocalBinder(e).Bind(context.Background()); err == nil {
			t.Error("binding a released engine should fail")
		}
	})

	t.Run("LocalBinder", func(t *testing.T) {
		e := NewEngine(EngineOptions{})
		s, err := NewLocalBinder(e).Bind(context.Background())
		if err != nil {
			t.Fatalf("Bind() error = %v", err)
		}
		if s != Session(e) {
			t.Error("expected the engine")
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := NewLocalBinder(e).Bind(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Bind() error = %v", err)
		}
		if _, err := NewLocalBinder(nil).Bind(context.Background()); err == nil {
			t.Error("expected error for nil engine")
		}
	})
}
