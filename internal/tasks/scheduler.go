package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers   = 2
	maxWorkers       = 8
	defaultRateLimit = 2.0
)

// Store persists download records. [repositories.DownloadRepository] implements it.
type Store interface {
	Upsert(ctx context.Context, record models.DownloadRecord) (models.DownloadRecord, error)
	UpdateProgress(ctx context.Context, trackID string, progress int) error
	Get(ctx context.Context, trackID string) (models.DownloadRecord, error)
	ListByStatus(ctx context.Context, statuses ...models.DownloadStatus) ([]models.DownloadRecord, error)
}

// Fetcher performs one download. [Downloader] implements it.
type Fetcher interface {
	Download(ctx context.Context, track models.Track, onProgress ProgressFunc) (DownloadResult, error)
}

// ResolveFunc maps track ids back to tracks, skipping unknown ids.
type ResolveFunc func(ctx context.Context, ids []string) ([]models.Track, error)

// SchedulerOptions configures a [Scheduler].
type SchedulerOptions struct {
	Workers   int                   // Concurrent downloads (default: 2, max: 8)
	RateLimit float64               // Job starts per second (default: 2)
	Progress  chan<- ProgressUpdate // Optional, written without blocking
	OnChange  func(models.DownloadRecord)
	Logger    *log.Logger
}

type job struct {
	id      string
	track   models.Track
	running bool
	cancel  context.CancelFunc
}

// Scheduler runs downloads as unique work per track id.
type Scheduler struct {
	store    Store
	fetcher  Fetcher
	workers  int
	limiter  *rate.Limiter
	progress chan<- ProgressUpdate
	onChange func(models.DownloadRecord)
	logger   *log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]*job
	pending []*job
	started bool
	closed  bool
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Workers start with [Scheduler.Start]; jobs enqueued before that wait.
func NewScheduler(store Store, fetcher Fetcher, opts SchedulerOptions) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Workers > maxWorkers {
		opts.Workers = maxWorkers
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}

	s := &Scheduler{
		store:    store,
		fetcher:  fetcher,
		workers:  opts.Workers,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		progress: opts.Progress,
		onChange: opts.OnChange,
		logger:   shared.WithLogger(opts.Logger, "component", "scheduler"),
		jobs:     make(map[string]*job),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker pool. Jobs run under ctx; cancelling it behaves like [Scheduler.Close].
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.ctx, s.stop = context.WithCancel(ctx)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	go func() {
		<-s.ctx.Done()
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
}

// Enqueue schedules a download of track.
//
// It reports false without touching the stored record when the id is already pending or running.
// Otherwise the record is reset to queued with progress 0.
func (s *Scheduler) Enqueue(ctx context.Context, track models.Track) (bool, error) {
	if err := track.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, shared.ErrSchedulerClosed
	}
	if _, ok := s.jobs[track.ID]; ok {
		s.mu.Unlock()
		s.logger.Debug("download already scheduled", "track", track.ID)
		s.sendProgress(skippedUpdate(track))
		return false, nil
	}
	j := &job{id: shared.GenerateID(), track: track}
	s.jobs[track.ID] = j
	s.mu.Unlock()

	record, err := s.store.Upsert(ctx, models.DownloadRecord{TrackID: track.ID, Status: models.DownloadQueued})
	if err != nil {
		s.forget(j)
		return false, fmt.Errorf("failed to queue download: %w", err)
	}
	s.changed(record)
	s.sendProgress(queuedUpdate(track))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[track.ID] != j {
		// Cancelled between registration and persistence.
		return true, nil
	}
	s.pending = append(s.pending, j)
	s.cond.Signal()
	s.logger.Info("download queued", "track", track.ID, "job", j.id)
	return true, nil
}

// Cancel stops the pending or running download of trackID and reports whether there was one.
func (s *Scheduler) Cancel(trackID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[trackID]
	if !ok {
		return false
	}
	if j.running {
		j.cancel()
		return true
	}

	s.pending = slices.DeleteFunc(s.pending, func(p *job) bool { return p == j })
	delete(s.jobs, trackID)
	s.cond.Broadcast()
	s.sendProgress(cancelledUpdate(j.track))
	return true
}

// Active returns the ids of pending and running downloads.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until no download is pending or running, or the scheduler is closed.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.jobs) > 0 && !s.closed {
		s.cond.Wait()
	}
}

// Close cancels running downloads and waits for the workers to exit.
//
// Pending jobs are dropped; their records stay queued.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
}

// Recover re-enqueues records left queued or running by a previous process.
//
// Records whose track cannot be resolved are left as they are. The number of enqueued downloads is returned.
func (s *Scheduler) Recover(ctx context.Context, resolve ResolveFunc) (int, error) {
	records, err := s.store.ListByStatus(ctx, models.DownloadQueued, models.DownloadRunning)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.TrackID
	}

	tracks, err := resolve(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve downloads: %w", err)
	}

	count := 0
	for _, t := range tracks {
		ok, err := s.Enqueue(ctx, t)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	s.logger.Info("recovered downloads", "found", len(records), "enqueued", count)
	return count, nil
}

// worker takes pending jobs until the scheduler closes.
func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		j := s.pending[0]
		s.pending = s.pending[1:]
		ctx, cancel := context.WithCancel(s.ctx)
		j.running = true
		j.cancel = cancel
		s.mu.Unlock()

		s.run(ctx, j)
		cancel()
		s.forget(j)
	}
}

// run executes one job and persists every transition.
func (s *Scheduler) run(ctx context.Context, j *job) {
	track := j.track
	// Terminal writes must land even after ctx is cancelled.
	persist := context.WithoutCancel(ctx)

	if err := s.limiter.Wait(ctx); err != nil {
		s.requeue(persist, track)
		return
	}

	record, err := s.store.Upsert(persist, models.DownloadRecord{TrackID: track.ID, Status: models.DownloadRunning})
	if err != nil {
		s.logger.Error("failed to mark download running", "track", track.ID, "err", err)
		return
	}
	s.changed(record)
	s.sendProgress(startedUpdate(track))

	last := 0
	onProgress := func(pct int) {
		if pct <= last || pct >= 100 {
			return
		}
		last = pct
		if err := s.store.UpdateProgress(persist, track.ID, pct); err != nil {
			s.logger.Warn("failed to persist progress", "track", track.ID, "err", err)
			return
		}
		record.Progress = pct
		s.changed(record)
		s.sendProgress(transferUpdate(track, pct))
	}

	result, err := s.fetcher.Download(ctx, track, onProgress)
	switch {
	case err == nil:
		record, err = s.store.Upsert(persist, models.DownloadRecord{
			TrackID:     track.ID,
			Status:      models.DownloadSucceeded,
			Progress:    100,
			FilePath:    result.FilePath,
			ArtworkPath: result.ArtworkPath,
		})
		if err != nil {
			s.logger.Error("failed to record download", "track", track.ID, "err", err)
			return
		}
		s.changed(record)
		s.sendProgress(succeededUpdate(track, record))

	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		s.logger.Info("download cancelled", "track", track.ID)
		s.requeue(persist, track)

	default:
		s.logger.Warn("download failed", "track", track.ID, "err", err)
		record, err = s.store.Upsert(persist, models.DownloadRecord{
			TrackID: track.ID,
			Status:  models.DownloadFailed,
			Error:   err.Error(),
		})
		if err != nil {
			s.logger.Error("failed to record failure", "track", track.ID, "err", err)
			return
		}
		s.changed(record)
		s.sendProgress(failedUpdate(track, record))
	}
}

// requeue returns a cancelled download to queued with no progress.
func (s *Scheduler) requeue(ctx context.Context, track models.Track) {
	record, err := s.store.Upsert(ctx, models.DownloadRecord{TrackID: track.ID, Status: models.DownloadQueued})
	if err != nil {
		s.logger.Error("failed to requeue cancelled download", "track", track.ID, "err", err)
		return
	}
	s.changed(record)
	s.sendProgress(cancelledUpdate(track))
}

// forget removes j from the job table if it is still the registered job for its track.
func (s *Scheduler) forget(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[j.track.ID] == j {
		delete(s.jobs, j.track.ID)
	}
	s.cond.Broadcast()
}

func (s *Scheduler) changed(record models.DownloadRecord) {
	if s.onChange != nil {
		s.onChange(record)
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (s *Scheduler) sendProgress(update ProgressUpdate) {
	if s.progress == nil {
		return
	}
	select {
	case s.progress <- update:
	default:
	}
}
