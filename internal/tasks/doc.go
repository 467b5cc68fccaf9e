// Package tasks downloads tracks for offline playback with throttled progress reporting.
//
// # Downloader
//
// [Downloader.Download] streams one track to "<audio_dir>/<id><ext>.part", reports progress through a [ProgressFunc]
// and renames the part file once the body is complete:
//
//  1. 0 is reported before the first read
//  2. With a known Content-Length, the integer percentage is reported when it changes and the throttle allows
//  3. Without one, synthetic percentages 1, 2, ... capped at 99 are reported whenever the throttle allows
//  4. 100 is reported after the rename
//
// The context is checked on every read. Cancelling it closes the connection, removes the part file and returns an
// error matching both [shared.ErrDownloadCancelled] and [context.Canceled].
//
// Artwork is fetched after the audio and tagged into MP3 files with ID3v2 frames; both steps are best effort.
//
// # Scheduler
//
// [Scheduler] is the unique-work queue in front of the downloader. Work is keyed by track id with a keep-existing
// policy: enqueueing an id that is already pending or running is a no-op and leaves its stored record untouched.
// A fixed pool of workers, paced by a rate limiter, persists each transition to a [Store]:
//
//	queued -> running -> succeeded | failed
//
// Cancellation is not a failure. A cancelled job returns its record to queued with progress 0 so [Scheduler.Recover]
// can pick it up after a restart.
//
// # Progress Reporting
//
// Workers send [ProgressUpdate] values on an optional channel using select with default, so a slow reader never
// stalls a download.
package tasks
