package models

import (
	"fmt"
	"maps"
	"time"

	"github.com/desertthunder/tapedeck/internal/shared"
)

// Track is a playable item. Treat it as immutable; use [Track.WithHeaders] to derive a copy.
type Track struct {
	ID       string            `json:"id"`
	URI      string            `json:"uri"`
	Title    string            `json:"title,omitempty"`
	Artist   string            `json:"artist,omitempty"`
	Album    string            `json:"album,omitempty"`
	Artwork  string            `json:"artwork,omitempty"`
	Duration time.Duration     `json:"duration,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Validate checks that the track can be queued or downloaded.
func (t Track) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: track id is required", shared.ErrInvalidInput)
	}
	if t.URI == "" {
		return fmt.Errorf("%w: track %s has no uri", shared.ErrInvalidInput, t.ID)
	}
	return nil
}

// WithHeaders returns a copy of t whose headers are merged with h.
func (t Track) WithHeaders(h map[string]string) Track {
	merged := make(map[string]string, len(t.Headers)+len(h))
	maps.Copy(merged, t.Headers)
	maps.Copy(merged, h)
	t.Headers = merged
	return t
}

// DisplayTitle returns the title, falling back to the id.
func (t Track) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.ID
}

// TrackIDs returns the ids of tracks in order.
func TrackIDs(tracks []Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}

// PageRequest asks a catalog for the page following LastTrackID or Token.
//
// An empty LastTrackID and a nil Token request the first page.
type PageRequest struct {
	LastTrackID string
	Token       *string
	PageSize    int
}

// PageResult is one page of tracks. A nil Next means the source is exhausted.
type PageResult struct {
	Tracks []Track
	Next   *string
}

// Exhausted reports whether the result carries no continuation token.
func (r PageResult) Exhausted() bool {
	return r.Next == nil
}

// Token returns a pointer to s for use as a continuation token.
func Token(s string) *string {
	return &s
}

// TokenValue dereferences a token, returning "" for nil.
func TokenValue(token *string) string {
	if token == nil {
		return ""
	}
	return *token
}
