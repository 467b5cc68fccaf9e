package tasks

import (
	"fmt"

	"github.com/desertthunder/tapedeck/internal/models"
)

// ProgressUpdate represents a progress event for one download.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	TrackID string // Track being downloaded
	Phase   Phase  // Download phase
	Step    int    // Percentage complete, 0..100
	Total   int    // Always 100
	Message string // Human-readable message for display
	Data    any    // The stored record on terminal phases
}

// Download phase enumeration
type Phase int

const (
	Queued Phase = iota
	Started
	Transferring
	Succeeded
	Failed
	Cancelled
	Skipped
)

func (p Phase) String() string {
	switch p {
	case Queued:
		return "queued"
	case Started:
		return "started"
	case Transferring:
		return "transferring"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case Skipped:
		return "skipped"
	default:
		return ""
	}
}

func queuedUpdate(track models.Track) ProgressUpdate {
	return ProgressUpdate{
		TrackID: track.ID,
		Phase:   Queued,
		Total:   100,
		Message: fmt.Sprintf("Queued %s", track.DisplayTitle()),
	}
}

func skippedUpdate(track models.Track) ProgressUpdate {
	return ProgressUpdate{
		TrackID: track.ID,
		Phase:   Skipped,
		Total:   100,
		Message: fmt.Sprintf("%s is already queued", track.DisplayTitle()),
	}
}

func startedUpdate(track models.Track) ProgressUpdate {
	return ProgressUpdate{
		TrackID: track.ID,
		Phase:   Started,
		Total:   100,
		Message: fmt.Sprintf("Downloading %s...", track.DisplayTitle()),
	}
}

func transferUpdate(track models.Track, pct int) ProgressUpdate {
	return ProgressUpdate{
		TrackID: track.ID,
		Phase:   Transferring,
		Step:    pct,
		Total:   100,
		Message: fmt.Sprintf("[%3d%%] %s", pct, track.DisplayTitle()),
	}
}

func succeededUpdate(track models.Track, record models.DownloadRecord) ProgressUpdate {
	return ProgressUpdate{
		TrackID: track.ID,
		Phase:   Succeeded,
		Step:    100,
		Total:   100,
		Message: fmt.Sprintf("✓ %s -> %s", track.DisplayTitle(), record.FilePath),
		Data:    record,
	}
}

func failedUpdate(track models.Track, record models.DownloadRecord) ProgressUpdate {
	return ProgressUpdate{
		TrackID: track.ID,
		Phase:   Failed,
		Total:   100,
		Message: fmt.Sprintf("✗ %s: %s", track.DisplayTitle(), record.Error),
		Data:    record,
	}
}

func cancelledUpdate(track models.Track) ProgressUpdate {
	return ProgressUpdate{
		TrackID: track.ID,
		Phase:   Cancelled,
		Total:   100,
		Message: fmt.Sprintf("Cancelled %s", track.DisplayTitle()),
	}
}
