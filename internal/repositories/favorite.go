package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
)

// FavoriteRepository persists favorite membership.
type FavoriteRepository struct {
	db *sql.DB
}

// NewFavoriteRepository creates a new FavoriteRepository with the given database connection
func NewFavoriteRepository(db *sql.DB) *FavoriteRepository {
	return &FavoriteRepository{db: db}
}

// Add marks trackID as a favorite. Adding an existing favorite keeps its creation time.
func (r *FavoriteRepository) Add(ctx context.Context, trackID string) error {
	_, err := r.db.ExecContext(ctx, "INSERT OR IGNORE INTO favorites (track_id, created_at) VALUES (?, ?)", trackID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add favorite: %w", err)
	}
	return nil
}

// Remove deletes the favorite for trackID, if any.
func (r *FavoriteRepository) Remove(ctx context.Context, trackID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM favorites WHERE track_id = ?", trackID); err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

// IsFavorite reports whether trackID is a favorite.
func (r *FavoriteRepository) IsFavorite(ctx context.Context, trackID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM favorites WHERE track_id = ?)", trackID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return exists, nil
}

// Toggle flips membership of trackID in one transaction and returns the new membership.
func (r *FavoriteRepository) Toggle(ctx context.Context, trackID string) (bool, error) {
	var favorite bool
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM favorites WHERE track_id = ?)", trackID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check favorite: %w", err)
		}

		if exists {
			_, err = tx.ExecContext(ctx, "DELETE FROM favorites WHERE track_id = ?", trackID)
		} else {
			_, err = tx.ExecContext(ctx, "INSERT INTO favorites (track_id, created_at) VALUES (?, ?)", trackID, time.Now().UTC())
		}
		if err != nil {
			return fmt.Errorf("failed to toggle favorite: %w", err)
		}

		favorite = !exists
		return nil
	})
	return favorite, err
}

// List returns favorites oldest first.
func (r *FavoriteRepository) List(ctx context.Context) ([]models.Favorite, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT track_id, created_at FROM favorites ORDER BY created_at ASC, track_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query favorites: %w", err)
	}
	defer rows.Close()

	var favorites []models.Favorite
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.TrackID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		favorites = append(favorites, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return favorites, nil
}

// IDs returns the favorite track ids oldest first.
func (r *FavoriteRepository) IDs(ctx context.Context) ([]string, error) {
	favorites, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(favorites))
	for i, f := range favorites {
		ids[i] = f.TrackID
	}
	return ids, nil
}
