package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/repositories"
	"github.com/desertthunder/tapedeck/internal/shared"
)

type downloadFunc func(ctx context.Context, track models.Track, onProgress ProgressFunc) (DownloadResult, error)

// fakeFetcher counts calls per track and delegates to fn.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fn    downloadFunc
}

func newFakeFetcher(fn downloadFunc) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), fn: fn}
}

func (f *fakeFetcher) Download(ctx context.Context, track models.Track, onProgress ProgressFunc) (DownloadResult, error) {
	f.mu.Lock()
	f.calls[track.ID]++
	f.mu.Unlock()
	return f.fn(ctx, track, onProgress)
}

func (f *fakeFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func succeed(ctx context.Context, track models.Track, onProgress ProgressFunc) (DownloadResult, error) {
	onProgress(0)
	onProgress(50)
	onProgress(100)
	return DownloadResult{FilePath: "/offline/" + track.ID + ".mp3"}, nil
}

func setupStore(t *testing.T) (*repositories.DownloadRepository, *repositories.TrackRepository) {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewDownloadRepository(db), repositories.NewTrackRepository(db)
}

func newTestScheduler(t *testing.T, store Store, fetcher Fetcher, opts SchedulerOptions) *Scheduler {
	t.Helper()
	if opts.RateLimit == 0 {
		opts.RateLimit = 1000
	}
	s := NewScheduler(store, fetcher, opts)
	t.Cleanup(s.Close)
	return s
}

func track(id string) models.Track {
	return models.Track{ID: id, URI: "https://example.com/" + id + ".mp3", Title: "Song " + id}
}

func mustGet(t *testing.T, store Store, id string) models.DownloadRecord {
	t.Helper()
	record, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get record %s: %v", id, err)
	}
	return record
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for download to start")
	}
}

func TestScheduler(t *testing.T) {
	ctx := context.Background()

	t.Run("Success Records Path", func(t *testing.T) {
		store, _ := setupStore(t)
		s := newTestScheduler(t, store, newFakeFetcher(succeed), SchedulerOptions{})
		s.Start(ctx)

		ok, err := s.Enqueue(ctx, track("a"))
		if err != nil || !ok {
			t.Fatalf("expected enqueue, got ok=%v err=%v", ok, err)
		}
		s.Wait()

		record := mustGet(t, store, "a")
		if record.Status != models.DownloadSucceeded {
			t.Errorf("expected succeeded, got %s", record.Status)
		}
		if record.Progress != 100 || record.FilePath != "/offline/a.mp3" || record.Error != "" {
			t.Errorf("unexpected record %+v", record)
		}
	})

	t.Run("Failure Records Message", func(t *testing.T) {
		store, _ := setupStore(t)
		fetcher := newFakeFetcher(func(ctx context.Context, tr models.Track, onProgress ProgressFunc) (DownloadResult, error) {
			onProgress(10)
			return DownloadResult{}, errors.New("connection reset")
		})
		s := newTestScheduler(t, store, fetcher, SchedulerOptions{})
		s.Start(ctx)

		s.Enqueue(ctx, track("b"))
		s.Wait()

		record := mustGet(t, store, "b")
		if record.Status != models.DownloadFailed {
			t.Errorf("expected failed, got %s", record.Status)
		}
		if record.Error != "connection reset" || record.FilePath != "" {
			t.Errorf("unexpected record %+v", record)
		}
	})

	t.Run("Duplicate Enqueue Keeps Existing", func(t *testing.T) {
		store, _ := setupStore(t)
		started := make(chan struct{})
		release := make(chan struct{})
		fetcher := newFakeFetcher(func(ctx context.Context, tr models.Track, onProgress ProgressFunc) (DownloadResult, error) {
			onProgress(40)
			close(started)
			<-release
			return DownloadResult{FilePath: "/offline/dup.mp3"}, nil
		})
		s := newTestScheduler(t, store, fetcher, SchedulerOptions{})
		s.Start(ctx)

		if ok, _ := s.Enqueue(ctx, track("dup")); !ok {
			t.Fatal("expected first enqueue to be accepted")
		}
		waitFor(t, started)

		ok, err := s.Enqueue(ctx, track("dup"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if ok {
			t.Error("expected duplicate enqueue to be skipped")
		}

		record := mustGet(t, store, "dup")
		if record.Status != models.DownloadRunning || record.Progress != 40 {
			t.Errorf("duplicate enqueue changed the record: %+v", record)
		}

		close(release)
		s.Wait()

		if n := fetcher.count("dup"); n != 1 {
			t.Errorf("expected one download, got %d", n)
		}
		if record := mustGet(t, store, "dup"); record.Status != models.DownloadSucceeded {
			t.Errorf("expected succeeded, got %s", record.Status)
		}
	})

	t.Run("Cancel Running Is Not A Failure", func(t *testing.T) {
		store, _ := setupStore(t)
		started := make(chan struct{})
		fetcher := newFakeFetcher(func(ctx context.Context, tr models.Track, onProgress ProgressFunc) (DownloadResult, error) {
			onProgress(30)
			close(started)
			<-ctx.Done()
			return DownloadResult{}, fmt.Errorf("%w: %w", shared.ErrDownloadCancelled, ctx.Err())
		})
		updates := make(chan ProgressUpdate, 16)
		s := newTestScheduler(t, store, fetcher, SchedulerOptions{Progress: updates})
		s.Start(ctx)

		s.Enqueue(ctx, track("c"))
		waitFor(t, started)

		if !s.Cancel("c") {
			t.Fatal("expected cancel to find the job")
		}
		s.Wait()

		record := mustGet(t, store, "c")
		if record.Status != models.DownloadQueued || record.Progress != 0 || record.Error != "" {
			t.Errorf("expected queued record without error, got %+v", record)
		}

		var phases []Phase
		for len(updates) > 0 {
			phases = append(phases, (<-updates).Phase)
		}
		if len(phases) == 0 || phases[len(phases)-1] != Cancelled {
			t.Errorf("expected final cancelled update, got %v", phases)
		}
	})

	t.Run("Cancel Pending", func(t *testing.T) {
		store, _ := setupStore(t)
		fetcher := newFakeFetcher(succeed)
		s := newTestScheduler(t, store, fetcher, SchedulerOptions{})

		s.Enqueue(ctx, track("p"))
		if !s.Cancel("p") {
			t.Fatal("expected cancel to find the pending job")
		}
		if s.Cancel("p") {
			t.Error("expected second cancel to find nothing")
		}
		if len(s.Active()) != 0 {
			t.Errorf("expected no active jobs, got %v", s.Active())
		}

		s.Start(ctx)
		s.Wait()
		if fetcher.count("p") != 0 {
			t.Error("cancelled pending job must not run")
		}
	})

	t.Run("Concurrent Downloads", func(t *testing.T) {
		store, _ := setupStore(t)
		s := newTestScheduler(t, store, newFakeFetcher(succeed), SchedulerOptions{Workers: 3})
		s.Start(ctx)

		for i := 0; i < 6; i++ {
			if _, err := s.Enqueue(ctx, track(fmt.Sprintf("t%d", i))); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
		}
		s.Wait()

		for i := 0; i < 6; i++ {
			if record := mustGet(t, store, fmt.Sprintf("t%d", i)); record.Status != models.DownloadSucceeded {
				t.Errorf("t%d: expected succeeded, got %s", i, record.Status)
			}
		}
	})

	t.Run("OnChange Sees Every Transition", func(t *testing.T) {
		store, _ := setupStore(t)
		var mu sync.Mutex
		var statuses []models.DownloadStatus
		s := newTestScheduler(t, store, newFakeFetcher(succeed), SchedulerOptions{
			OnChange: func(r models.DownloadRecord) {
				mu.Lock()
				statuses = append(statuses, r.Status)
				mu.Unlock()
			},
		})
		s.Start(ctx)
		s.Enqueue(ctx, track("o"))
		s.Wait()

		mu.Lock()
		defer mu.Unlock()
		want := []models.DownloadStatus{models.DownloadQueued, models.DownloadRunning, models.DownloadRunning, models.DownloadSucceeded}
		if fmt.Sprint(statuses) != fmt.Sprint(want) {
			t.Errorf("expected %v, got %v", want, statuses)
		}
	})

	t.Run("Recover", func(t *testing.T) {
		store, tracks := setupStore(t)
		if err := tracks.Upsert(ctx, track("r1"), track("r2"), track("r3")); err != nil {
			t.Fatalf("failed to seed tracks: %v", err)
		}
		store.Upsert(ctx, models.DownloadRecord{TrackID: "r1", Status: models.DownloadQueued})
		store.Upsert(ctx, models.DownloadRecord{TrackID: "r2", Status: models.DownloadRunning, Progress: 70})
		store.Upsert(ctx, models.DownloadRecord{TrackID: "r3", Status: models.DownloadSucceeded, Progress: 100, FilePath: "/r3.mp3"})

		fetcher := newFakeFetcher(succeed)
		s := newTestScheduler(t, store, fetcher, SchedulerOptions{})
		s.Start(ctx)

		n, err := s.Recover(ctx, tracks.FindByIDs)
		if err != nil {
			t.Fatalf("recover failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 recovered downloads, got %d", n)
		}
		s.Wait()

		if fetcher.count("r3") != 0 {
			t.Error("succeeded download must not be recovered")
		}
		for _, id := range []string{"r1", "r2"} {
			if record := mustGet(t, store, id); record.Status != models.DownloadSucceeded {
				t.Errorf("%s: expected succeeded, got %s", id, record.Status)
			}
		}
	})

	t.Run("Closed", func(t *testing.T) {
		store, _ := setupStore(t)
		s := newTestScheduler(t, store, newFakeFetcher(succeed), SchedulerOptions{})
		s.Start(ctx)
		s.Close()

		if _, err := s.Enqueue(ctx, track("late")); !errors.Is(err, shared.ErrSchedulerClosed) {
			t.Errorf("expected ErrSchedulerClosed, got %v", err)
		}
	})

	t.Run("Invalid Track", func(t *testing.T) {
		store, _ := setupStore(t)
		s := newTestScheduler(t, store, newFakeFetcher(succeed), SchedulerOptions{})
		if _, err := s.Enqueue(ctx, models.Track{ID: "no-uri"}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
