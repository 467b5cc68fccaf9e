package models

import (
	"fmt"
	"time"
)

// DownloadStatus is the lifecycle state of an offline copy.
type DownloadStatus string

const (
	DownloadQueued    DownloadStatus = "queued"
	DownloadRunning   DownloadStatus = "running"
	DownloadSucceeded DownloadStatus = "succeeded"
	DownloadFailed    DownloadStatus = "failed"
)

// IsTerminal reports whether the status is succeeded or failed.
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadSucceeded || s == DownloadFailed
}

// IsActive reports whether the status is queued or running.
func (s DownloadStatus) IsActive() bool {
	return s == DownloadQueued || s == DownloadRunning
}

// ParseDownloadStatus converts a stored status string.
func ParseDownloadStatus(s string) (DownloadStatus, error) {
	switch status := DownloadStatus(s); status {
	case DownloadQueued, DownloadRunning, DownloadSucceeded, DownloadFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown download status %q", s)
	}
}

// DownloadRecord tracks the offline copy of one track.
//
// FilePath and ArtworkPath are set only on success; Error only on failure.
type DownloadRecord struct {
	TrackID     string         `json:"track_id"`
	Status      DownloadStatus `json:"status"`
	Progress    int            `json:"progress"`
	FilePath    string         `json:"file_path,omitempty"`
	ArtworkPath string         `json:"artwork_path,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Validate enforces the status and field rules of a record.
func (r DownloadRecord) Validate() error {
	if r.TrackID == "" {
		return fmt.Errorf("download record requires a track id")
	}
	if _, err := ParseDownloadStatus(string(r.Status)); err != nil {
		return err
	}
	if r.Progress < 0 || r.Progress > 100 {
		return fmt.Errorf("progress %d out of range", r.Progress)
	}
	if r.Status != DownloadSucceeded && (r.FilePath != "" || r.ArtworkPath != "") {
		return fmt.Errorf("file paths are only set on succeeded downloads")
	}
	if r.Status != DownloadFailed && r.Error != "" {
		return fmt.Errorf("error message is only set on failed downloads")
	}
	return nil
}

// Favorite marks a track as favorited.
type Favorite struct {
	TrackID   string    `json:"track_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RestoreSnapshot is the queue and position persisted for the next launch.
//
// The zero value (index 0, position 0, no ids) means nothing was saved.
type RestoreSnapshot struct {
	Index    int           `json:"index"`
	Position time.Duration `json:"position"`
	TrackIDs []string      `json:"track_ids"`
}

// IsEmpty reports whether the snapshot holds no tracks.
func (s RestoreSnapshot) IsEmpty() bool {
	return len(s.TrackIDs) == 0
}
