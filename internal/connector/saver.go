package connector

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/models"
)

const saveTimeout = 5 * time.Second

// snapshotSaver writes snapshots in the background with at most one write in flight.
//
// A snapshot submitted while a write runs replaces any snapshot still waiting.
type snapshotSaver struct {
	ctx    context.Context
	store  SnapshotStore
	logger *log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *models.RestoreSnapshot
	running bool
	saved   int
}

func newSnapshotSaver(ctx context.Context, store SnapshotStore, logger *log.Logger) *snapshotSaver {
	s := &snapshotSaver{ctx: ctx, store: store, logger: logger}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *snapshotSaver) submit(snapshot models.RestoreSnapshot) {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &snapshot
	if s.running {
		return
	}
	s.running = true
	go s.loop()
}

func (s *snapshotSaver) loop() {
	for {
		s.mu.Lock()
		next := s.pending
		s.pending = nil
		if next == nil {
			s.running = false
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), saveTimeout)
		err := s.store.Save(ctx, *next)
		cancel()
		if err != nil {
			s.logger.Warn("snapshot save failed", "err", err)
			continue
		}

		s.mu.Lock()
		s.saved++
		s.mu.Unlock()
	}
}

// flush blocks until no write is running or waiting.
func (s *snapshotSaver) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.running {
		s.cond.Wait()
	}
}

// writes returns the number of successful writes.
func (s *snapshotSaver) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}
