package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
)

// lookupChunk bounds the number of ids bound in one IN clause.
const lookupChunk = 500

const trackColumns = "id, sequence, uri, title, artist, album, artwork_uri, duration_ms, headers, created_at, updated_at"

// TrackRepository caches [models.Track] metadata so ids can be resolved back to playable tracks.
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Upsert inserts or replaces the metadata of tracks in one transaction.
//
// A track seen for the first time is assigned the next sequence number; updates keep the original sequence and creation time.
func (r *TrackRepository) Upsert(ctx context.Context, tracks ...models.Track) error {
	for _, t := range tracks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, t := range tracks {
			headers, err := json.Marshal(t.Headers)
			if err != nil {
				return fmt.Errorf("failed to encode headers for %s: %w", t.ID, err)
			}
			if t.Headers == nil {
				headers = []byte("{}")
			}

			var sequence int
			err = tx.QueryRowContext(ctx, "SELECT sequence FROM tracks WHERE id = ?", t.ID).Scan(&sequence)
			if errors.Is(err, sql.ErrNoRows) {
				sequence, err = NextSequence(ctx, tx, "tracks")
			}
			if err != nil {
				return fmt.Errorf("failed to resolve sequence for %s: %w", t.ID, err)
			}

			query := `
				INSERT INTO tracks (` + trackColumns + `)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					uri = excluded.uri,
					title = excluded.title,
					artist = excluded.artist,
					album = excluded.album,
					artwork_uri = excluded.artwork_uri,
					duration_ms = excluded.duration_ms,
					headers = excluded.headers,
					updated_at = excluded.updated_at
			`
			_, err = tx.ExecContext(ctx, query,
				t.ID,
				sequence,
				t.URI,
				t.Title,
				t.Artist,
				t.Album,
				t.Artwork,
				t.Duration.Milliseconds(),
				string(headers),
				now,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert track %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// Get retrieves a cached track by id.
func (r *TrackRepository) Get(ctx context.Context, id string) (models.Track, error) {
	query := "SELECT " + trackColumns + " FROM tracks WHERE id = ?"
	record, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Track{}, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, id)
	}
	return record, err
}

// FindByIDs returns the cached tracks for ids in request order. Unknown ids are skipped.
func (r *TrackRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Track, error) {
	found := make(map[string]models.Track, len(ids))

	for start := 0; start < len(ids); start += lookupChunk {
		chunk := ids[start:min(start+lookupChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		query := "SELECT " + trackColumns + " FROM tracks WHERE id IN (" + placeholders(len(chunk)) + ")"
		tracks, err := r.query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for _, t := range tracks {
			found[t.ID] = t
		}
	}

	tracks := make([]models.Track, 0, len(found))
	for _, id := range ids {
		if t, ok := found[id]; ok {
			tracks = append(tracks, t)
		}
	}
	return tracks, nil
}

// List returns cached tracks in insertion order. A limit of 0 returns all of them.
func (r *TrackRepository) List(ctx context.Context, limit int) ([]models.Track, error) {
	query := "SELECT " + trackColumns + " FROM tracks ORDER BY sequence ASC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

// Count returns the number of cached tracks.
func (r *TrackRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

func (r *TrackRepository) query(ctx context.Context, query string, args ...any) ([]models.Track, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		track, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tracks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scan reads one tracks row from a [sql.Row] or [sql.Rows].
func (r *TrackRepository) scan(row scanner) (models.Track, error) {
	var (
		track      models.Track
		sequence   int
		title      sql.NullString
		artist     sql.NullString
		album      sql.NullString
		artwork    sql.NullString
		durationMS int64
		headers    string
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := row.Scan(&track.ID, &sequence, &track.URI, &title, &artist, &album, &artwork, &durationMS, &headers, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Track{}, err
	}
	if err != nil {
		return models.Track{}, fmt.Errorf("failed to scan track: %w", err)
	}

	track.Title = title.String
	track.Artist = artist.String
	track.Album = album.String
	track.Artwork = artwork.String
	track.Duration = time.Duration(durationMS) * time.Millisecond

	if headers != "" && headers != "{}" && headers != "null" {
		if err := json.Unmarshal([]byte(headers), &track.Headers); err != nil {
			return models.Track{}, fmt.Errorf("failed to decode headers for %s: %w", track.ID, err)
		}
	}

	return track, nil
}
