// Package library mediates the local track cache, favorites and offline downloads.
//
// A [Library] owns the repositories and the download [tasks.Scheduler] and publishes a stream for each kind of change:
// favorites as the full id set after every change, downloads as the latest record of the track that changed.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/events"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/repositories"
	"github.com/desertthunder/tapedeck/internal/shared"
	"github.com/desertthunder/tapedeck/internal/tasks"
)

// Options configures a [Library].
//
// Fallback resolves ids missing from the track cache, typically a catalog lookup.
type Options struct {
	Fetcher     tasks.Fetcher
	Fallback    func(ctx context.Context, ids []string) ([]models.Track, error)
	Workers     int
	RateLimit   float64
	Progress    chan<- tasks.ProgressUpdate
	EventBuffer int
	Logger      *log.Logger
}

// Library is the local store of tracks, favorites and downloads.
type Library struct {
	tracks    *repositories.TrackRepository
	cache     *repositories.TrackCacheAdapter
	favorites *repositories.FavoriteRepository
	downloads *repositories.DownloadRepository
	scheduler *tasks.Scheduler
	logger    *log.Logger

	favoriteBus *events.Bus[[]string]
	downloadBus *events.Bus[models.DownloadRecord]
}

// New builds a library over a migrated database. Downloads wait until [Library.Start].
func New(db *sql.DB, opts Options) *Library {
	logger := shared.WithLogger(opts.Logger, "component", "library")
	tracks := repositories.NewTrackRepository(db)
	l := &Library{
		tracks:      tracks,
		cache:       repositories.NewTrackCacheAdapter(tracks, opts.Fallback),
		favorites:   repositories.NewFavoriteRepository(db),
		downloads:   repositories.NewDownloadRepository(db),
		logger:      logger,
		favoriteBus: events.NewBus[[]string](opts.EventBuffer),
		downloadBus: events.NewBus[models.DownloadRecord](opts.EventBuffer),
	}
	l.scheduler = tasks.NewScheduler(l.downloads, opts.Fetcher, tasks.SchedulerOptions{
		Workers:   opts.Workers,
		RateLimit: opts.RateLimit,
		Progress:  opts.Progress,
		OnChange:  l.downloadBus.Publish,
		Logger:    opts.Logger,
	})
	return l
}

// Start launches the download workers.
func (l *Library) Start(ctx context.Context) {
	l.scheduler.Start(ctx)
}

// Recover re-enqueues downloads left queued or running by a previous process.
func (l *Library) Recover(ctx context.Context) (int, error) {
	return l.scheduler.Recover(ctx, l.cache.Resolve)
}

// Wait blocks until no download is pending or running.
func (l *Library) Wait() {
	l.scheduler.Wait()
}

// Close stops the workers and ends both streams. Interrupted downloads are left queued.
func (l *Library) Close() {
	l.scheduler.Close()
	l.favoriteBus.Close()
	l.downloadBus.Close()
}

// UpsertTracks stores track metadata.
func (l *Library) UpsertTracks(ctx context.Context, tracks ...models.Track) error {
	for _, t := range tracks {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return l.cache.CacheTracks(ctx, tracks...)
}

// Track returns cached metadata for id.
func (l *Library) Track(ctx context.Context, id string) (models.Track, error) {
	return l.tracks.Get(ctx, id)
}

// Tracks lists cached tracks in insertion order.
func (l *Library) Tracks(ctx context.Context, limit int) ([]models.Track, error) {
	return l.tracks.List(ctx, limit)
}

// FindByIDs resolves ids in request order from the cache, then the fallback. It is usable as a restore resolver.
func (l *Library) FindByIDs(ctx context.Context, ids []string) ([]models.Track, error) {
	return l.cache.Resolve(ctx, ids)
}

// ToggleFavorite flips membership of id and reports the new membership.
func (l *Library) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: empty track id", shared.ErrInvalidInput)
	}
	on, err := l.favorites.Toggle(ctx, id)
	if err != nil {
		return false, err
	}
	l.logger.Debug("favorite toggled", "track", id, "favorite", on)
	l.publishFavorites(ctx)
	return on, nil
}

// IsFavorite reports whether id is a favorite.
func (l *Library) IsFavorite(ctx context.Context, id string) (bool, error) {
	return l.favorites.IsFavorite(ctx, id)
}

// Favorites lists favorites, oldest first.
func (l *Library) Favorites(ctx context.Context) ([]models.Favorite, error) {
	return l.favorites.List(ctx)
}

// FavoriteIDs returns the current favorite set.
func (l *Library) FavoriteIDs(ctx context.Context) ([]string, error) {
	return l.favorites.IDs(ctx)
}

func (l *Library) publishFavorites(ctx context.Context) {
	ids, err := l.favorites.IDs(ctx)
	if err != nil {
		l.logger.Warn("failed to read favorites", "err", err)
		return
	}
	l.favoriteBus.Publish(ids)
}

// EnqueueDownload stores the track metadata and schedules its download.
//
// It reports false when a download of the same track is already pending or running.
func (l *Library) EnqueueDownload(ctx context.Context, track models.Track) (bool, error) {
	if err := track.Validate(); err != nil {
		return false, err
	}
	if err := l.cache.CacheTracks(ctx, track); err != nil {
		return false, err
	}
	return l.scheduler.Enqueue(ctx, track)
}

// CancelDownload stops a pending or running download.
func (l *Library) CancelDownload(id string) bool {
	return l.scheduler.Cancel(id)
}

// ActiveDownloads returns ids with pending or running downloads.
func (l *Library) ActiveDownloads() []string {
	return l.scheduler.Active()
}

// Download returns the record for id, or [shared.ErrDownloadNotFound].
func (l *Library) Download(ctx context.Context, id string) (models.DownloadRecord, error) {
	return l.downloads.Get(ctx, id)
}

// Downloads lists all download records.
func (l *Library) Downloads(ctx context.Context) ([]models.DownloadRecord, error) {
	return l.downloads.List(ctx)
}

// IsDownloaded reports whether id has a finished download.
func (l *Library) IsDownloaded(ctx context.Context, id string) (bool, error) {
	record, err := l.downloads.Get(ctx, id)
	if errors.Is(err, shared.ErrDownloadNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.Status == models.DownloadSucceeded && record.FilePath != "", nil
}

// WatchFavorites streams the favorite id set after each change.
func (l *Library) WatchFavorites() *events.Subscription[[]string] {
	return l.favoriteBus.Subscribe()
}

// WatchDownloads streams download records as they change. Subscribers filter by track id.
func (l *Library) WatchDownloads() *events.Subscription[models.DownloadRecord] {
	return l.downloadBus.Subscribe()
}
