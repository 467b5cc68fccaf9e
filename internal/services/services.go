// package services defines interface Catalog for paging and resolving tracks
package services

import (
	"context"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
)

// Catalog defines the track source the queue pages from and restore resolves against.
type Catalog interface {
	// LoadPage returns the page described by req. A nil Next in the result means the catalog is exhausted.
	LoadPage(ctx context.Context, req models.PageRequest) (models.PageResult, error)

	// Resolve returns the tracks for ids in request order, skipping unknown ids.
	Resolve(ctx context.Context, ids []string) ([]models.Track, error)

	// Name returns the name of the catalog (e.g., "static", "http")
	Name() string
}

// TrackDTO is the wire form of [models.Track]. Durations travel as milliseconds.
type TrackDTO struct {
	ID         string            `json:"id"`
	URI        string            `json:"uri"`
	Title      string            `json:"title,omitempty"`
	Artist     string            `json:"artist,omitempty"`
	Album      string            `json:"album,omitempty"`
	Artwork    string            `json:"artwork,omitempty"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// PageResponse is the body of GET /api/tracks.
type PageResponse struct {
	Tracks []TrackDTO `json:"tracks"`
	Next   *string    `json:"next"`
}

// LookupResponse is the body of GET /api/tracks/lookup.
type LookupResponse struct {
	Tracks []TrackDTO `json:"tracks"`
}

// NewTrackDTO converts a track to its wire form.
func NewTrackDTO(t models.Track) TrackDTO {
	return TrackDTO{
		ID:         t.ID,
		URI:        t.URI,
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		Artwork:    t.Artwork,
		DurationMS: t.Duration.Milliseconds(),
		Headers:    t.Headers,
	}
}

// Track converts the wire form back to a track.
func (d TrackDTO) Track() models.Track {
	return models.Track{
		ID:       d.ID,
		URI:      d.URI,
		Title:    d.Title,
		Artist:   d.Artist,
		Album:    d.Album,
		Artwork:  d.Artwork,
		Duration: time.Duration(d.DurationMS) * time.Millisecond,
		Headers:  d.Headers,
	}
}

// NewTrackDTOs converts tracks to their wire form, never returning nil.
func NewTrackDTOs(tracks []models.Track) []TrackDTO {
	out := make([]TrackDTO, len(tracks))
	for i, t := range tracks {
		out[i] = NewTrackDTO(t)
	}
	return out
}

// TracksFromDTOs converts wire tracks back to tracks.
func TracksFromDTOs(dtos []TrackDTO) []models.Track {
	out := make([]models.Track, len(dtos))
	for i, d := range dtos {
		out[i] = d.Track()
	}
	return out
}
