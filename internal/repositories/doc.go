// Package repositories implements SQLite persistence for tracks, favorites, downloads and the restore snapshot.
//
// Key Implementations:
//   - [TrackRepository] : track metadata cache used to resolve restore snapshots and recover downloads
//   - [FavoriteRepository] : favorite membership with transactional toggle
//   - [DownloadRepository] : download status and monotonic progress per track
//   - [StateRepository] : the single-row restore snapshot, overwritten on every save
//
// Sequence numbers give cached tracks a stable insertion order independent of their ids.
// The [NextSequence] function increments the per-table counter inside the caller's transaction.
package repositories
