package connector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/tapedeck/internal/events"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/queue"
	"github.com/desertthunder/tapedeck/internal/repositories"
	"github.com/desertthunder/tapedeck/internal/session"
	"github.com/desertthunder/tapedeck/internal/shared"
	tu "github.com/desertthunder/tapedeck/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type fixture struct {
	clock   *fakeClock
	engine  *session.Engine
	store   *repositories.StateRepository
	queue   *queue.Manager
	conn    *Connector
	catalog *tu.MockCatalog
}

type fixtureOptions struct {
	fetch     queue.FetchFunc
	threshold int
	pageSize  int
	resolver  Resolver
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		store:   repositories.NewStateRepository(tu.NewTestDB(t)),
		catalog: tu.NewMockCatalog(tu.NewTracks(10)...),
	}
	f.engine = session.NewEngine(session.EngineOptions{Clock: f.clock.Now})
	f.queue = queue.New(queue.Options{PageSize: opts.pageSize, Fetch: opts.fetch})
	f.conn = New(Options{
		Binder:            session.NewLocalBinder(f.engine),
		Queue:             f.queue,
		Store:             f.store,
		Resolver:          opts.resolver,
		PrefetchThreshold: opts.threshold,
	})
	t.Cleanup(f.conn.Release)
	return f
}

func (f *fixture) bind(t *testing.T) {
	t.Helper()
	require.NoError(t, f.conn.Bind(context.Background()))
}

func waitEvent(t *testing.T, sub *events.Subscription[models.PlaybackEvent], match func(models.PlaybackEvent) bool) models.PlaybackEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-sub.C():
			require.True(t, ok, "event stream closed")
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func kind(k models.EventKind) func(models.PlaybackEvent) bool {
	return func(e models.PlaybackEvent) bool { return e.Kind() == k }
}

// gatedFetch serves pages from catalog once gate is closed.
func gatedFetch(catalog *tu.MockCatalog, gate <-chan struct{}) queue.FetchFunc {
	return func(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.PageResult{}, ctx.Err()
		}
		return catalog.LoadPage(ctx, req)
	}
}

func TestUnbound(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	assert.False(t, f.conn.Bound())
	assert.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(2), 0, true, nil))
	assert.NoError(t, f.conn.Add(tu.NewTracks(1)...))
	assert.False(t, f.conn.SkipToNext(ctx))
	assert.False(t, f.conn.SkipTo(1))
	assert.False(t, f.conn.SkipToPrevious())
	assert.False(t, f.conn.RemoveAt(0))
	f.conn.Play()
	f.conn.SeekTo(time.Second)

	state := f.conn.CurrentState()
	assert.Equal(t, -1, state.Index)
	assert.Equal(t, models.StateIdle, state.State)
	assert.Nil(t, f.conn.Queue())
	assert.Empty(t, f.engine.Items(), "commands must not reach the session before bind")
}

func TestBind(t *testing.T) {
	t.Run("Without Binder", func(t *testing.T) {
		c := New(Options{})
		defer c.Release()
		assert.ErrorIs(t, c.Bind(context.Background()), shared.ErrNotBound)
	})

	t.Run("Binder Failure", func(t *testing.T) {
		boom := errors.New("service gone")
		c := New(Options{Binder: session.BinderFunc(func(context.Context) (session.Session, error) { return nil, boom })})
		defer c.Release()
		assert.ErrorIs(t, c.Bind(context.Background()), boom)
		assert.False(t, c.Bound())
	})

	t.Run("Twice Is A No-op", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)
		f.bind(t)
		assert.True(t, f.conn.Bound())
	})
}

func TestSetQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("Publishes And Persists", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)
		sub := f.conn.Events()
		defer sub.Close()

		require.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(3), 1, true, nil))

		changed := waitEvent(t, sub, kind(models.KindTrackChanged)).(models.TrackChanged)
		assert.Equal(t, 1, changed.Index)
		state := waitEvent(t, sub, kind(models.KindStateChanged)).(models.StateChanged)
		assert.Equal(t, 1, state.State.Index)

		assert.True(t, f.conn.CurrentState().IsPlaying)
		assert.Equal(t, 1, f.queue.Index())
		assert.Len(t, f.conn.Queue(), 3)

		f.conn.Flush()
		snapshot, err := f.store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, snapshot.Index)
		assert.Equal(t, []string{"t1", "t2", "t3"}, snapshot.TrackIDs)
	})

	t.Run("Pause Persists Position", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)

		require.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(3), 0, true, nil))
		f.clock.Advance(30 * time.Second)
		f.conn.Pause()
		f.conn.Flush()

		snapshot, err := f.store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, snapshot.Index)
		assert.Equal(t, 30*time.Second, snapshot.Position)
		assert.Equal(t, []string{"t1", "t2", "t3"}, snapshot.TrackIDs)
	})

	t.Run("Clamps Start Index", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)
		require.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(2), 9, false, nil))
		assert.Equal(t, 1, f.conn.CurrentState().Index)
		assert.False(t, f.conn.CurrentState().IsPlaying)
	})

	t.Run("Rejects Invalid Tracks", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)
		err := f.conn.SetQueue(ctx, []models.Track{{ID: "x"}}, 0, false, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		assert.Empty(t, f.conn.Queue())
	})
}

func TestQueueEditing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.bind(t)

	require.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(2), 0, false, nil))
	require.NoError(t, f.conn.Add(models.Track{ID: "extra", URI: "https://example.com/extra.mp3"}))
	assert.Equal(t, []string{"t1", "t2", "extra"}, models.TrackIDs(f.conn.Queue()))
	assert.Equal(t, 3, f.queue.Len())

	assert.True(t, f.conn.RemoveAt(1))
	assert.False(t, f.conn.RemoveAt(7))
	assert.Equal(t, []string{"t1", "extra"}, models.TrackIDs(f.conn.Queue()))
	assert.Equal(t, 2, f.queue.Len())

	assert.True(t, f.conn.SkipTo(1))
	assert.Equal(t, 1, f.conn.CurrentState().Index)
	assert.Equal(t, 1, f.queue.Index())
	assert.True(t, f.conn.SkipToPrevious())
	assert.Equal(t, 0, f.conn.CurrentState().Index)
	assert.Equal(t, 1, f.queue.Index(), "the paging cursor only moves forward")

	f.conn.SetRepeatMode(models.RepeatAll)
	f.conn.SetShuffle(true)
	state := f.conn.CurrentState()
	assert.Equal(t, models.RepeatAll, state.Repeat)
	assert.True(t, state.Shuffle)

	f.conn.ClearQueue()
	assert.Empty(t, f.conn.Queue())
	assert.Equal(t, -1, f.queue.Index())
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("Clamps Index And Keeps Position", func(t *testing.T) {
		var f *fixture
		f = newFixture(t, fixtureOptions{resolver: func(ctx context.Context, ids []string) ([]models.Track, error) {
			return f.catalog.Resolve(ctx, ids)
		}})
		require.NoError(t, f.store.Save(ctx, models.RestoreSnapshot{
			Index:    5,
			Position: 30 * time.Second,
			TrackIDs: []string{"t1", "missing", "t3", "t2"},
		}))

		f.bind(t)

		assert.Equal(t, []string{"t1", "t3", "t2"}, models.TrackIDs(f.conn.Queue()))
		state := f.conn.CurrentState()
		assert.Equal(t, 2, state.Index)
		assert.Equal(t, 30*time.Second, state.Position)
		assert.False(t, state.IsPlaying)
		assert.Equal(t, 2, f.queue.Index())

		f.conn.Flush()
		snapshot, err := f.store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, snapshot.Position)
		assert.Equal(t, []string{"t1", "t3", "t2"}, snapshot.TrackIDs)
	})

	t.Run("Nothing Resolves", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{resolver: func(context.Context, []string) ([]models.Track, error) { return nil, nil }})
		require.NoError(t, f.store.Save(ctx, models.RestoreSnapshot{TrackIDs: []string{"gone"}}))
		f.bind(t)
		assert.Empty(t, f.conn.Queue())
	})

	t.Run("Without Resolver", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		require.NoError(t, f.store.Save(ctx, models.RestoreSnapshot{TrackIDs: []string{"t1"}}))
		f.bind(t)

		restored, err := f.conn.Restore(ctx)
		assert.NoError(t, err)
		assert.False(t, restored)
	})

	t.Run("Resolver Error Does Not Fail Bind", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{resolver: func(context.Context, []string) ([]models.Track, error) {
			return nil, errors.New("offline")
		}})
		require.NoError(t, f.store.Save(ctx, models.RestoreSnapshot{TrackIDs: []string{"t1"}}))
		f.bind(t)
		assert.True(t, f.conn.Bound())
		assert.Empty(t, f.conn.Queue())
	})
}

func TestPagination(t *testing.T) {
	ctx := context.Background()

	t.Run("Prefetches Near The End", func(t *testing.T) {
		var f *fixture
		f = newFixture(t, fixtureOptions{pageSize: 2, fetch: func(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
			return f.catalog.LoadPage(ctx, req)
		}})
		f.bind(t)

		require.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(2), 0, false, models.Token("2")))

		assert.Eventually(t, func() bool { return len(f.conn.Queue()) == 4 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"t1", "t2", "t3", "t4"}, models.TrackIDs(f.conn.Queue()))
		assert.Equal(t, "4", models.TokenValue(f.queue.NextToken()))
	})

	t.Run("SkipToNext Waits For Page", func(t *testing.T) {
		gate := make(chan struct{})
		var f *fixture
		f = newFixture(t, fixtureOptions{pageSize: 2, threshold: 1, fetch: func(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
			return gatedFetch(f.catalog, gate)(ctx, req)
		}})
		f.bind(t)

		require.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(2), 0, false, models.Token("2")))
		require.True(t, f.conn.SkipToNext(ctx))
		require.True(t, f.queue.Loading(), "reaching the last track should start a fetch")

		result := make(chan bool, 1)
		go func() { result <- f.conn.SkipToNext(ctx) }()

		select {
		case <-result:
			t.Fatal("SkipToNext returned before the page arrived")
		case <-time.After(50 * time.Millisecond):
		}

		close(gate)
		select {
		case ok := <-result:
			assert.True(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("SkipToNext never returned")
		}
		assert.Equal(t, 2, f.conn.CurrentState().Index)
		assert.Equal(t, 2, f.queue.Index())
	})

	t.Run("SkipToNext Without More Pages", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)
		require.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(1), 0, false, nil))
		assert.False(t, f.conn.SkipToNext(ctx))
	})

	t.Run("Ended Continues With Next Page", func(t *testing.T) {
		gate := make(chan struct{})
		var f *fixture
		f = newFixture(t, fixtureOptions{pageSize: 1, threshold: 1, fetch: func(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
			return gatedFetch(f.catalog, gate)(ctx, req)
		}})
		f.bind(t)

		first := models.Track{ID: "t1", URI: "https://example.com/t1.mp3", Duration: 10 * time.Second}
		require.NoError(t, f.conn.SetQueue(ctx, []models.Track{first}, 0, true, models.Token("1")))

		f.clock.Advance(11 * time.Second)
		f.engine.Tick()
		require.Equal(t, models.StateEnded, f.conn.CurrentState().State)

		close(gate)
		assert.Eventually(t, func() bool {
			s := f.conn.CurrentState()
			return s.Index == 1 && s.IsPlaying
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Page For Replaced Queue Is Dropped", func(t *testing.T) {
		gate := make(chan struct{})
		var f *fixture
		f = newFixture(t, fixtureOptions{pageSize: 2, threshold: 1, fetch: func(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
			return gatedFetch(f.catalog, gate)(ctx, req)
		}})
		f.bind(t)

		require.NoError(t, f.conn.SetQueue(ctx, tu.NewTracks(2), 0, false, models.Token("2")))
		require.True(t, f.conn.SkipToNext(ctx))
		require.True(t, f.queue.Loading())

		// Hold the items lock until the page is committed, then replace the queue the way SetQueue does.
		f.conn.itemsMu.Lock()
		close(gate)
		require.Eventually(t, func() bool { return f.queue.Len() == 4 }, 2*time.Second, 10*time.Millisecond)

		replacement := []models.Track{{ID: "new", URI: "https://example.com/new.mp3"}}
		f.queue.SetInitialQueue(replacement, nil)
		f.engine.SetItems(replacement, 0, 0)
		f.conn.itemsMu.Unlock()

		f.conn.waitPage()
		assert.Equal(t, []string{"new"}, models.TrackIDs(f.conn.Queue()))
		assert.Equal(t, []string{"new"}, models.TrackIDs(f.queue.Tracks()))
	})

	t.Run("Ended Without More Pages", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)
		sub := f.conn.Events()
		defer sub.Close()

		track := models.Track{ID: "t1", URI: "https://example.com/t1.mp3", Duration: time.Second}
		require.NoError(t, f.conn.SetQueue(ctx, []models.Track{track}, 0, true, nil))
		f.clock.Advance(2 * time.Second)
		f.engine.Tick()

		ended := waitEvent(t, sub, kind(models.KindQueueEnded)).(models.QueueEnded)
		assert.Equal(t, endedReason, ended.Reason)
	})
}

func TestEvents(t *testing.T) {
	t.Run("Player Error", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)
		sub := f.conn.Events()
		defer sub.Close()

		boom := errors.New("decoder failed")
		f.engine.Fail(boom)

		e := waitEvent(t, sub, kind(models.KindError)).(models.ErrorEvent)
		assert.ErrorIs(t, e.Err, boom)
	})

	t.Run("AddListener Remove", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.bind(t)
		require.NoError(t, f.conn.SetQueue(context.Background(), tu.NewTracks(3), 0, false, nil))

		var calls atomic.Int32
		remove := f.conn.AddListener(func(models.PlaybackEvent) { calls.Add(1) })

		f.conn.Play()
		assert.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, 10*time.Millisecond)

		remove()
		remove()
		seen := calls.Load()
		f.conn.Pause()
		f.conn.SkipTo(2)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, seen, calls.Load())
	})
}

func TestRelease(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.bind(t)
	require.NoError(t, f.conn.SetQueue(context.Background(), tu.NewTracks(2), 0, true, nil))
	sub := f.conn.Events()

	f.conn.Release()
	f.conn.Release()

	assert.True(t, f.engine.Released())
	assert.False(t, f.conn.Bound())
	assert.ErrorIs(t, f.conn.Bind(context.Background()), shared.ErrReleased)
	assert.Equal(t, -1, f.conn.CurrentState().Index)

	for range sub.C() {
	}
}

type slowStore struct {
	mu    sync.Mutex
	gate  chan struct{}
	saved []models.RestoreSnapshot
}

func (s *slowStore) Save(ctx context.Context, snapshot models.RestoreSnapshot) error {
	<-s.gate
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snapshot)
	return nil
}

func (s *slowStore) Load(context.Context) (models.RestoreSnapshot, error) {
	return models.RestoreSnapshot{}, nil
}

func TestSnapshotSaver(t *testing.T) {
	t.Run("Newer Snapshot Supersedes Pending", func(t *testing.T) {
		store := &slowStore{gate: make(chan struct{})}
		saver := newSnapshotSaver(context.Background(), store, shared.NopLogger())

		saver.submit(models.RestoreSnapshot{Index: 1})
		time.Sleep(10 * time.Millisecond)
		saver.submit(models.RestoreSnapshot{Index: 2})
		saver.submit(models.RestoreSnapshot{Index: 3})
		close(store.gate)
		saver.flush()

		store.mu.Lock()
		defer store.mu.Unlock()
		require.Len(t, store.saved, 2)
		assert.Equal(t, 1, store.saved[0].Index)
		assert.Equal(t, 3, store.saved[1].Index)
		assert.Equal(t, 2, saver.writes())
	})

	t.Run("Nil Store", func(t *testing.T) {
		saver := newSnapshotSaver(context.Background(), nil, shared.NopLogger())
		saver.submit(models.RestoreSnapshot{Index: 1})
		saver.flush()
		assert.Zero(t, saver.writes())
	})
}
