package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
)

const downloadColumns = "track_id, status, progress, file_path, artwork_path, error_message, created_at, updated_at"

// DownloadRepository persists [models.DownloadRecord] values keyed by track id.
//
// Records are never deleted automatically.
type DownloadRepository struct {
	db *sql.DB
}

// NewDownloadRepository creates a new DownloadRepository with the given database connection
func NewDownloadRepository(db *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// Upsert writes record, keeping the original creation time of an existing row.
//
// The stored record is returned with its timestamps filled in.
func (r *DownloadRepository) Upsert(ctx context.Context, record models.DownloadRecord) (models.DownloadRecord, error) {
	if err := record.Validate(); err != nil {
		return models.DownloadRecord{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO downloads (` + downloadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			file_path = excluded.file_path,
			artwork_path = excluded.artwork_path,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		record.TrackID,
		string(record.Status),
		record.Progress,
		nullString(record.FilePath),
		nullString(record.ArtworkPath),
		nullString(record.Error),
		now,
		now,
	)
	if err != nil {
		return models.DownloadRecord{}, fmt.Errorf("failed to upsert download: %w", err)
	}

	return r.Get(ctx, record.TrackID)
}

// UpdateProgress raises the progress of a running download. Lower values are ignored.
func (r *DownloadRepository) UpdateProgress(ctx context.Context, trackID string, progress int) error {
	progress = min(max(progress, 0), 100)
	query := `
		UPDATE downloads
		SET progress = MAX(progress, ?), updated_at = ?
		WHERE track_id = ? AND status = ?
	`
	if _, err := r.db.ExecContext(ctx, query, progress, time.Now().UTC(), trackID, string(models.DownloadRunning)); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// Get retrieves the download record for trackID.
func (r *DownloadRepository) Get(ctx context.Context, trackID string) (models.DownloadRecord, error) {
	query := "SELECT " + downloadColumns + " FROM downloads WHERE track_id = ?"
	record, err := r.scan(r.db.QueryRowContext(ctx, query, trackID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.DownloadRecord{}, fmt.Errorf("%w: %s", shared.ErrDownloadNotFound, trackID)
	}
	return record, err
}

// List returns all download records, most recently updated first.
func (r *DownloadRepository) List(ctx context.Context) ([]models.DownloadRecord, error) {
	return r.query(ctx, "SELECT "+downloadColumns+" FROM downloads ORDER BY updated_at DESC, track_id ASC")
}

// ListByStatus returns records in any of statuses, oldest first.
func (r *DownloadRepository) ListByStatus(ctx context.Context, statuses ...models.DownloadStatus) ([]models.DownloadRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	query := "SELECT " + downloadColumns + " FROM downloads WHERE status IN (" + placeholders(len(statuses)) + ") ORDER BY created_at ASC, track_id ASC"
	return r.query(ctx, query, args...)
}

func (r *DownloadRepository) query(ctx context.Context, query string, args ...any) ([]models.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var records []models.DownloadRecord
	for rows.Next() {
		record, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

func (r *DownloadRepository) scan(row scanner) (models.DownloadRecord, error) {
	var (
		record      models.DownloadRecord
		status      string
		filePath    sql.NullString
		artworkPath sql.NullString
		errMessage  sql.NullString
	)

	err := row.Scan(&record.TrackID, &status, &record.Progress, &filePath, &artworkPath, &errMessage, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DownloadRecord{}, err
	}
	if err != nil {
		return models.DownloadRecord{}, fmt.Errorf("failed to scan download: %w", err)
	}

	if record.Status, err = models.ParseDownloadStatus(status); err != nil {
		return models.DownloadRecord{}, err
	}
	record.FilePath = filePath.String
	record.ArtworkPath = artworkPath.String
	record.Error = errMessage.String
	return record, nil
}
