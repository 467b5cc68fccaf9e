// Package queue implements the cursor-addressed play queue with lazy pagination.
//
// A [Manager] holds an ordered list of tracks, a cursor and an opaque continuation token.
// [Manager.LoadMoreIfNeeded] extends the tail through a [FetchFunc] without holding the lock while the page is fetched.
package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
)

// DefaultPageSize is used when [Options.PageSize] is not positive.
const DefaultPageSize = 20

// FetchFunc loads the page described by req.
//
// Errors and panics are absorbed by the manager and observed as an empty page.
type FetchFunc func(ctx context.Context, req models.PageRequest) (models.PageResult, error)

// Options configures a [Manager].
//
// MaxConsecutiveFailures marks the queue exhausted after that many failed fetches in a row; 0 retries forever.
type Options struct {
	PageSize               int
	Fetch                  FetchFunc
	MaxConsecutiveFailures int
	Logger                 *log.Logger
}

// Manager is the in-memory play queue. All methods are safe for concurrent use.
type Manager struct {
	pageSize    int
	fetch       FetchFunc
	maxFailures int
	logger      *log.Logger

	mu        sync.Mutex
	tracks    []models.Track
	index     int
	next      *string
	exhausted bool
	failures  int
	// generation is bumped by SetInitialQueue so a fetch started against an older queue is discarded.
	generation uint64
	inflight   chan struct{}
}

// New creates an empty manager with cursor -1.
func New(opts Options) *Manager {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Manager{
		pageSize:    opts.PageSize,
		fetch:       opts.Fetch,
		maxFailures: opts.MaxConsecutiveFailures,
		logger:      shared.WithLogger(opts.Logger, "component", "queue"),
		index:       -1,
	}
}

// SetInitialQueue replaces the queue atomically.
//
// The cursor moves to 0 when tracks is non-empty and -1 otherwise; the exhausted flag and failure count are cleared.
func (m *Manager) SetInitialQueue(tracks []models.Track, next *string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tracks = slices.Clone(tracks)
	m.next = next
	m.exhausted = false
	m.failures = 0
	m.generation++
	if len(m.tracks) > 0 {
		m.index = 0
	} else {
		m.index = -1
	}
	m.logger.Debug("queue replaced", "tracks", len(m.tracks), "token", models.TokenValue(next))
}

// MoveToNext advances the cursor by one and returns the new current track.
//
// ok is false when there is no immediate next track; state is left untouched so the caller can request more.
func (m *Manager) MoveToNext() (models.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index+1 >= len(m.tracks) {
		return models.Track{}, false
	}
	m.index++
	return m.tracks[m.index], true
}

// Current returns the track at the cursor.
func (m *Manager) Current() (models.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index < 0 || m.index >= len(m.tracks) {
		return models.Track{}, false
	}
	return m.tracks[m.index], true
}

// AdvanceTo moves the cursor forward to index.
//
// The cursor never moves backwards; only [Manager.SetInitialQueue] resets it.
// It reports false when index is out of range or not past the cursor.
func (m *Manager) AdvanceTo(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index <= m.index || index >= len(m.tracks) {
		return false
	}
	m.index = index
	return true
}

// Generation identifies the current queue; it changes on every [Manager.SetInitialQueue].
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Append adds tracks to the tail.
func (m *Manager) Append(tracks ...models.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, tracks...)
}

// Remove deletes the track at index and reports whether one was removed.
//
// The cursor stays on the same track; removing the current track selects its successor, or the new tail.
func (m *Manager) Remove(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.tracks) {
		return false
	}
	m.tracks = slices.Delete(m.tracks, index, index+1)

	switch {
	case len(m.tracks) == 0:
		m.index = -1
	case index < m.index:
		m.index--
	case m.index >= len(m.tracks):
		m.index = len(m.tracks) - 1
	}
	return true
}

// Tracks returns a copy of the queued tracks.
func (m *Manager) Tracks() []models.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tracks)
}

// Index returns the cursor, -1 when empty.
func (m *Manager) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Len returns the number of queued tracks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

// NextToken returns the current continuation token.
func (m *Manager) NextToken() *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Exhausted reports whether the source has no more pages.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// Loading reports whether a fetch is in flight.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight != nil
}

// Remaining returns how many tracks follow the cursor.
func (m *Manager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks) - 1 - m.index
}

// LoadMoreIfNeeded starts a page fetch unless there is no fetch function, the source is exhausted or a fetch is already in flight.
//
// It returns nil when nothing was started. Otherwise the returned channel receives the committed result once and is closed.
func (m *Manager) LoadMoreIfNeeded(ctx context.Context) <-chan models.PageResult {
	results, _ := m.LoadMoreFor(ctx)
	return results
}

// LoadMoreFor is [Manager.LoadMoreIfNeeded] that also returns the generation the page will be committed against.
//
// Callers mirroring the queue elsewhere compare it with [Manager.Generation] before applying the page.
func (m *Manager) LoadMoreFor(ctx context.Context) (<-chan models.PageResult, uint64) {
	m.mu.Lock()
	if m.fetch == nil || m.exhausted || m.inflight != nil {
		generation := m.generation
		m.mu.Unlock()
		return nil, generation
	}

	req := models.PageRequest{Token: m.next, PageSize: m.pageSize}
	if n := len(m.tracks); n > 0 {
		req.LastTrackID = m.tracks[n-1].ID
	}
	generation := m.generation
	done := make(chan struct{})
	m.inflight = done
	m.mu.Unlock()

	out := make(chan models.PageResult, 1)
	go func() {
		defer close(out)
		result, err := m.safeFetch(ctx, req)
		out <- m.commit(generation, req, result, err)
		close(done)
	}()
	return out, generation
}

// Wait blocks until no fetch is in flight.
func (m *Manager) Wait() {
	for {
		m.mu.Lock()
		done := m.inflight
		m.mu.Unlock()
		if done == nil {
			return
		}
		<-done
	}
}

func (m *Manager) safeFetch(ctx context.Context, req models.PageRequest) (result models.PageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return m.fetch(ctx, req)
}

func (m *Manager) commit(generation uint64, req models.PageRequest, result models.PageResult, err error) models.PageResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight = nil

	if generation != m.generation {
		m.logger.Debug("discarding page for replaced queue")
		return models.PageResult{Next: m.next}
	}

	if err != nil {
		m.failures++
		m.logger.Warn("page fetch failed", "err", err, "failures", m.failures, "token", models.TokenValue(req.Token))
		if m.maxFailures > 0 && m.failures >= m.maxFailures {
			m.exhausted = true
			m.logger.Error("giving up on pagination", "failures", m.failures)
		}
		return models.PageResult{Next: req.Token}
	}

	m.failures = 0
	m.tracks = append(m.tracks, result.Tracks...)
	m.next = result.Next
	if result.Next == nil {
		m.exhausted = true
	}
	m.logger.Debug("page committed", "tracks", len(result.Tracks), "total", len(m.tracks), "exhausted", m.exhausted)
	return models.PageResult{Tracks: slices.Clone(result.Tracks), Next: result.Next}
}
