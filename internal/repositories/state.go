package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
)

// StateRepository stores the single restore snapshot.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new StateRepository with the given database connection
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Save overwrites the stored snapshot with s in one statement.
func (r *StateRepository) Save(ctx context.Context, s models.RestoreSnapshot) error {
	ids := s.TrackIDs
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode track ids: %w", err)
	}

	query := `
		INSERT INTO playback_state (id, track_index, position_ms, track_ids, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			track_index = excluded.track_index,
			position_ms = excluded.position_ms,
			track_ids = excluded.track_ids,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query, s.Index, s.Position.Milliseconds(), string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save playback state: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or the zero snapshot when nothing was saved.
func (r *StateRepository) Load(ctx context.Context) (models.RestoreSnapshot, error) {
	var (
		s          models.RestoreSnapshot
		positionMS int64
		encoded    string
	)

	err := r.db.QueryRowContext(ctx, "SELECT track_index, position_ms, track_ids FROM playback_state WHERE id = 1").Scan(&s.Index, &positionMS, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RestoreSnapshot{}, nil
	}
	if err != nil {
		return models.RestoreSnapshot{}, fmt.Errorf("failed to load playback state: %w", err)
	}

	s.Position = time.Duration(positionMS) * time.Millisecond
	if err := json.Unmarshal([]byte(encoded), &s.TrackIDs); err != nil {
		return models.RestoreSnapshot{}, fmt.Errorf("failed to decode track ids: %w", err)
	}
	if len(s.TrackIDs) == 0 {
		s.TrackIDs = nil
	}
	return s, nil
}
