package services

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
)

const (
	DefaultStaticSize    = 1000
	DefaultStaticURI     = "https://webaudioapi.com/samples/audio-tag/chrono.mp3"
	staticTrackPrefix    = "track_"
	staticMinDurationSec = 150
)

// StaticCatalog serves a generated, in-memory list of tracks.
type StaticCatalog struct {
	tracks []models.Track
	index  map[string]int
}

// NewStaticCatalog generates size tracks named track_1..track_size that all stream from uri.
//
// A non-positive size yields [DefaultStaticSize] tracks; an empty uri yields [DefaultStaticURI].
func NewStaticCatalog(size int, uri, artwork string) *StaticCatalog {
	if size <= 0 {
		size = DefaultStaticSize
	}
	if uri == "" {
		uri = DefaultStaticURI
	}

	c := &StaticCatalog{
		tracks: make([]models.Track, size),
		index:  make(map[string]int, size),
	}
	for i := range c.tracks {
		n := i + 1
		id := staticTrackPrefix + strconv.Itoa(n)
		c.tracks[i] = models.Track{
			ID:       id,
			URI:      uri,
			Title:    fmt.Sprintf("Song #%d", n),
			Artist:   fmt.Sprintf("Artist %d", n%10+1),
			Album:    fmt.Sprintf("Album %d", n%25+1),
			Artwork:  artwork,
			Duration: time.Duration(staticMinDurationSec+n%90) * time.Second,
		}
		c.index[id] = i
	}
	return c
}

// NewStaticCatalogFrom serves the given tracks in order.
func NewStaticCatalogFrom(tracks []models.Track) *StaticCatalog {
	c := &StaticCatalog{
		tracks: slices.Clone(tracks),
		index:  make(map[string]int, len(tracks)),
	}
	for i, t := range c.tracks {
		c.index[t.ID] = i
	}
	return c
}

// Name returns "static".
func (c *StaticCatalog) Name() string { return "static" }

// Len returns the number of tracks.
func (c *StaticCatalog) Len() int { return len(c.tracks) }

// LoadPage prefers the token offset, then the position after LastTrackID, then the head.
func (c *StaticCatalog) LoadPage(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return models.PageResult{}, err
	}
	if req.PageSize <= 0 {
		return models.PageResult{}, fmt.Errorf("%w: page size must be positive, got %d", shared.ErrInvalidInput, req.PageSize)
	}

	offset := 0
	switch {
	case req.Token != nil:
		n, err := strconv.Atoi(strings.TrimSpace(*req.Token))
		if err != nil || n < 0 {
			return models.PageResult{}, fmt.Errorf("%w: malformed page token %q", shared.ErrInvalidInput, *req.Token)
		}
		offset = n
	case req.LastTrackID != "":
		if i, ok := c.index[req.LastTrackID]; ok {
			offset = i + 1
		}
	}

	return c.page(offset, req.PageSize), nil
}

// FirstPage returns the page at offset 0.
func (c *StaticCatalog) FirstPage(pageSize int) models.PageResult {
	return c.page(0, max(pageSize, 1))
}

func (c *StaticCatalog) page(offset, size int) models.PageResult {
	if offset >= len(c.tracks) {
		return models.PageResult{}
	}
	to := min(offset+size, len(c.tracks))
	result := models.PageResult{Tracks: slices.Clone(c.tracks[offset:to])}
	if to < len(c.tracks) {
		result.Next = models.Token(strconv.Itoa(to))
	}
	return result
}

// Resolve returns known tracks for ids in request order.
func (c *StaticCatalog) Resolve(ctx context.Context, ids []string) ([]models.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tracks := make([]models.Track, 0, len(ids))
	for _, id := range ids {
		if i, ok := c.index[id]; ok {
			tracks = append(tracks, c.tracks[i])
		}
	}
	return tracks, nil
}
