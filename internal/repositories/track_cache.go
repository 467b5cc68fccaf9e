package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/tapedeck/internal/models"
)

// TrackCacheAdapter resolves ids through the local cache and falls back to a remote lookup for misses.
//
// Tracks returned by the fallback are written back to the cache. Cache write failures are not fatal.
type TrackCacheAdapter struct {
	repo     *TrackRepository
	fallback func(ctx context.Context, ids []string) ([]models.Track, error)
}

// NewTrackCacheAdapter creates a new TrackCacheAdapter. fallback may be nil.
func NewTrackCacheAdapter(repo *TrackRepository, fallback func(ctx context.Context, ids []string) ([]models.Track, error)) *TrackCacheAdapter {
	return &TrackCacheAdapter{repo: repo, fallback: fallback}
}

// CacheTracks stores tracks in the cache.
func (a *TrackCacheAdapter) CacheTracks(ctx context.Context, tracks ...models.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	if err := a.repo.Upsert(ctx, tracks...); err != nil {
		return fmt.Errorf("failed to cache tracks: %w", err)
	}
	return nil
}

// Resolve returns tracks for ids in request order, skipping ids neither source knows.
func (a *TrackCacheAdapter) Resolve(ctx context.Context, ids []string) ([]models.Track, error) {
	cached, err := a.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if a.fallback == nil || len(cached) == len(ids) {
		return cached, nil
	}

	byID := make(map[string]models.Track, len(ids))
	for _, t := range cached {
		byID[t.ID] = t
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}

	fetched, err := a.fallback(ctx, missing)
	if err != nil {
		// The cached subset is still usable.
		return cached, nil
	}
	for _, t := range fetched {
		byID[t.ID] = t
	}
	_ = a.CacheTracks(ctx, fetched...)

	tracks := make([]models.Track, 0, len(byID))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			tracks = append(tracks, t)
		}
	}
	return tracks, nil
}
