// Package connector bridges a bound playback [session.Session] to the application.
//
// A [Connector] turns session callbacks into [models.PlaybackEvent] values, persists a restore snapshot after state changes,
// keeps the [queue.Manager] cursor in step with the session and extends the session from the next page when the queue runs low.
// Commands issued before [Connector.Bind] succeeds are ignored.
package connector

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/events"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/queue"
	"github.com/desertthunder/tapedeck/internal/session"
	"github.com/desertthunder/tapedeck/internal/shared"
)

// DefaultPrefetchThreshold is the number of remaining tracks that triggers a page fetch.
const DefaultPrefetchThreshold = 3

const endedReason = "end_of_queue"

// Resolver maps persisted track ids back to tracks. Unknown ids are skipped.
type Resolver func(ctx context.Context, ids []string) ([]models.Track, error)

// SnapshotStore persists the restore snapshot.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot models.RestoreSnapshot) error
	Load(ctx context.Context) (models.RestoreSnapshot, error)
}

// Options configures a [Connector]. Binder is required; a nil Queue gets an unpaged manager.
type Options struct {
	Binder            session.Binder
	Queue             *queue.Manager
	Store             SnapshotStore
	Resolver          Resolver
	EventBuffer       int
	PrefetchThreshold int
	Logger            *log.Logger
}

// Connector owns the bound session and fans its callbacks out as events.
type Connector struct {
	binder    session.Binder
	queue     *queue.Manager
	store     SnapshotStore
	resolver  Resolver
	threshold int
	logger    *log.Logger
	bus       *events.Bus[models.PlaybackEvent]
	saver     *snapshotSaver

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.RWMutex
	session        session.Session
	removeListener func()
	released       bool

	pageMu   sync.Mutex
	pageDone chan struct{}

	// itemsMu pairs a queue reset with its session items so a page fetched for the old queue is never appended to the new one.
	itemsMu sync.Mutex
}

// New creates an unbound connector.
func New(opts Options) *Connector {
	if opts.Queue == nil {
		opts.Queue = queue.New(queue.Options{Logger: opts.Logger})
	}
	if opts.PrefetchThreshold <= 0 {
		opts.PrefetchThreshold = DefaultPrefetchThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := shared.WithLogger(opts.Logger, "component", "connector")
	c := &Connector{
		binder:    opts.Binder,
		queue:     opts.Queue,
		store:     opts.Store,
		resolver:  opts.Resolver,
		threshold: opts.PrefetchThreshold,
		logger:    logger,
		bus:       events.NewBus[models.PlaybackEvent](opts.EventBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.saver = newSnapshotSaver(ctx, opts.Store, logger)
	return c
}

// Bind connects to the session, wires its callbacks and restores the saved queue.
//
// Binding an already bound connector is a no-op. A failed restore is logged, not returned.
func (c *Connector) Bind(ctx context.Context) error {
	if c.binder == nil {
		return fmt.Errorf("%w: no binder configured", shared.ErrNotBound)
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return shared.ErrReleased
	}
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	s, err := c.binder.Bind(ctx)
	if err != nil {
		return fmt.Errorf("bind session: %w", err)
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return shared.ErrReleased
	}
	c.session = s
	c.removeListener = s.AddListener(c.listener())
	c.mu.Unlock()
	c.logger.Debug("session bound")

	if restored, err := c.Restore(ctx); err != nil {
		c.logger.Warn("restore failed", "err", err)
	} else if restored {
		c.logger.Info("queue restored", "tracks", c.queue.Len(), "index", c.queue.Index())
	}
	return nil
}

// Bound reports whether a session is attached.
func (c *Connector) Bound() bool {
	return c.current() != nil
}

// Restore loads the snapshot and, when its ids resolve to at least one track, loads them paused at the saved index and position.
func (c *Connector) Restore(ctx context.Context) (bool, error) {
	s := c.current()
	if s == nil || c.store == nil {
		return false, nil
	}

	snapshot, err := c.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if snapshot.IsEmpty() || c.resolver == nil {
		return false, nil
	}

	tracks, err := c.resolver(ctx, snapshot.TrackIDs)
	if err != nil {
		return false, fmt.Errorf("resolve %d tracks: %w", len(snapshot.TrackIDs), err)
	}
	if len(tracks) == 0 {
		return false, nil
	}

	index := min(max(snapshot.Index, 0), len(tracks)-1)
	c.itemsMu.Lock()
	defer c.itemsMu.Unlock()
	c.queue.SetInitialQueue(tracks, nil)
	c.queue.AdvanceTo(index)
	s.SetItems(tracks, index, snapshot.Position)
	return true, nil
}

func (c *Connector) current() session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Connector) listener() session.Listener {
	return session.ListenerFuncs{
		PlaybackStateChanged: c.onPlaybackStateChanged,
		IsPlayingChanged:     c.onIsPlayingChanged,
		TrackTransition:      c.onTrackTransition,
		PlayerError:          c.onPlayerError,
	}
}

func (c *Connector) onPlaybackStateChanged(state models.PlayerState) {
	s := c.current()
	if s == nil {
		return
	}
	c.bus.Publish(models.StateChanged{State: s.State()})
	c.saver.submit(c.snapshot(s))

	if state == models.StateEnded {
		c.continueAfterEnd(s)
	}
}

func (c *Connector) onIsPlayingChanged(bool) {
	if s := c.current(); s != nil {
		c.bus.Publish(models.StateChanged{State: s.State()})
		c.saver.submit(c.snapshot(s))
	}
}

func (c *Connector) onTrackTransition(index int, reason session.TransitionReason) {
	c.bus.Publish(models.TrackChanged{Index: index})
	c.queue.AdvanceTo(index)
	c.logger.Debug("track transition", "index", index, "reason", reason)
	if s := c.current(); s != nil {
		c.saver.submit(c.snapshot(s))
	}

	if c.queue.Remaining() < c.threshold {
		c.requestPage()
	}
}

func (c *Connector) onPlayerError(err error) {
	c.bus.Publish(models.ErrorEvent{Err: err})
}

// continueAfterEnd fetches the next page when the session ran out of items and resumes playback with it.
func (c *Connector) continueAfterEnd(s session.Session) {
	done := c.requestPage()
	if done == nil {
		c.bus.Publish(models.QueueEnded{Reason: endedReason})
		return
	}

	go func() {
		select {
		case <-done:
		case <-c.ctx.Done():
			return
		}
		if c.current() != s {
			return
		}
		if s.Next() {
			s.Play()
			return
		}
		c.bus.Publish(models.QueueEnded{Reason: endedReason})
	}()
}

// requestPage starts a page fetch and appends its tracks to the session.
//
// It returns a channel closed once the tracks were appended, or nil when no fetch was started.
func (c *Connector) requestPage() <-chan struct{} {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()

	if c.pageDone != nil {
		return c.pageDone
	}
	if c.ctx.Err() != nil {
		return nil
	}

	results, generation := c.queue.LoadMoreFor(c.ctx)
	if results == nil {
		return nil
	}

	done := make(chan struct{})
	c.pageDone = done
	go func() {
		defer func() {
			c.pageMu.Lock()
			c.pageDone = nil
			c.pageMu.Unlock()
			close(done)
		}()

		page, ok := <-results
		if !ok || len(page.Tracks) == 0 {
			return
		}
		c.itemsMu.Lock()
		defer c.itemsMu.Unlock()
		if c.queue.Generation() != generation {
			c.logger.Debug("dropping page for replaced queue", "tracks", len(page.Tracks))
			return
		}
		if s := c.current(); s != nil {
			s.AddItems(page.Tracks...)
			c.logger.Debug("appended page", "tracks", len(page.Tracks), "more", !page.Exhausted())
		}
	}()
	return done
}

func (c *Connector) waitPage() {
	c.pageMu.Lock()
	done := c.pageDone
	c.pageMu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Connector) snapshot(s session.Session) models.RestoreSnapshot {
	state := s.State()
	return models.RestoreSnapshot{
		Index:    max(state.Index, 0),
		Position: state.Position,
		TrackIDs: models.TrackIDs(s.Items()),
	}
}

// SetQueue replaces the session items and the paging cursor.
//
// nextToken is the continuation for the page after tracks. With a nil token the next fetch continues after the last track.
func (c *Connector) SetQueue(ctx context.Context, tracks []models.Track, startIndex int, playWhenReady bool, nextToken *string) error {
	s := c.current()
	if s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, t := range tracks {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	if len(tracks) > 0 {
		startIndex = min(max(startIndex, 0), len(tracks)-1)
	}
	s.Stop()
	c.itemsMu.Lock()
	c.queue.SetInitialQueue(tracks, nextToken)
	c.queue.AdvanceTo(startIndex)
	s.SetItems(tracks, startIndex, 0)
	c.itemsMu.Unlock()
	if playWhenReady && len(tracks) > 0 {
		s.Play()
	}
	return nil
}

// Add appends tracks to the session and the queue.
func (c *Connector) Add(tracks ...models.Track) error {
	s := c.current()
	if s == nil || len(tracks) == 0 {
		return nil
	}
	for _, t := range tracks {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	c.queue.Append(tracks...)
	s.AddItems(tracks...)
	return nil
}

// RemoveAt removes the item at index.
func (c *Connector) RemoveAt(index int) bool {
	s := c.current()
	if s == nil {
		return false
	}
	if !s.RemoveItem(index) {
		return false
	}
	c.queue.Remove(index)
	return true
}

// ClearQueue empties the session and the queue.
func (c *Connector) ClearQueue() {
	s := c.current()
	if s == nil {
		return
	}
	c.itemsMu.Lock()
	defer c.itemsMu.Unlock()
	s.ClearItems()
	c.queue.SetInitialQueue(nil, nil)
}

func (c *Connector) Play() {
	if s := c.current(); s != nil {
		s.Play()
	}
}

func (c *Connector) Pause() {
	if s := c.current(); s != nil {
		s.Pause()
	}
}

func (c *Connector) Stop() {
	if s := c.current(); s != nil {
		s.Stop()
	}
}

// SeekTo moves within the current item.
func (c *Connector) SeekTo(position time.Duration) {
	if s := c.current(); s != nil {
		s.SeekTo(position)
	}
}

// SkipToNext advances to the next item, fetching the next page first when the session has none.
//
// It reports whether playback moved.
func (c *Connector) SkipToNext(ctx context.Context) bool {
	s := c.current()
	if s == nil {
		return false
	}
	if s.Next() {
		return true
	}

	done := c.requestPage()
	if done == nil {
		return false
	}
	select {
	case <-done:
	case <-ctx.Done():
		return false
	}
	return s.Next()
}

// SkipTo jumps to the start of the item at index.
func (c *Connector) SkipTo(index int) bool {
	s := c.current()
	if s == nil {
		return false
	}
	return s.SeekToItem(index, 0)
}

func (c *Connector) SkipToPrevious() bool {
	s := c.current()
	if s == nil {
		return false
	}
	return s.Previous()
}

func (c *Connector) SetRepeatMode(mode models.RepeatMode) {
	if s := c.current(); s != nil {
		s.SetRepeatMode(mode)
	}
}

func (c *Connector) SetShuffle(enabled bool) {
	if s := c.current(); s != nil {
		s.SetShuffle(enabled)
	}
}

// CurrentState returns the session state, or an idle state with index -1 when unbound.
func (c *Connector) CurrentState() models.PlaybackState {
	s := c.current()
	if s == nil {
		return models.PlaybackState{State: models.StateIdle, Index: -1}
	}
	return s.State()
}

// Queue returns the session items.
func (c *Connector) Queue() []models.Track {
	s := c.current()
	if s == nil {
		return nil
	}
	return slices.Clone(s.Items())
}

// Pager exposes the paging queue.
func (c *Connector) Pager() *queue.Manager { return c.queue }

// Events subscribes to playback events.
func (c *Connector) Events() *events.Subscription[models.PlaybackEvent] {
	return c.bus.Subscribe()
}

// AddListener calls fn for every event on its own goroutine until the returned function is called.
func (c *Connector) AddListener(fn func(models.PlaybackEvent)) (remove func()) {
	sub := c.bus.Subscribe()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for e := range sub.C() {
			fn(e)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Close()
			<-stopped
		})
	}
}

// Flush waits until pending snapshot saves are written.
func (c *Connector) Flush() {
	c.saver.flush()
}

// Release saves a final snapshot, releases the session, waits for background work and closes the event stream.
func (c *Connector) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	s, remove := c.session, c.removeListener
	c.session, c.removeListener = nil, nil
	c.mu.Unlock()

	if remove != nil {
		remove()
	}
	if s != nil {
		c.saver.submit(c.snapshot(s))
		s.Release()
	}
	c.cancel()
	c.waitPage()
	c.queue.Wait()
	c.saver.flush()
	c.bus.Close()
	c.logger.Debug("connector released")
}
