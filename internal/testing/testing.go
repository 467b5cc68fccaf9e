// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
)

// MockCatalog is a test double for [services.Catalog] that pages over a fixed track list.
//
// Pages are addressed by a numeric offset token. Err, when set, is returned from every call.
type MockCatalog struct {
	mu     sync.Mutex
	Tracks []models.Track
	Err    error
	Calls  int
}

func NewMockCatalog(tracks ...models.Track) *MockCatalog {
	return &MockCatalog{Tracks: tracks}
}

func (m *MockCatalog) LoadPage(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return models.PageResult{}, m.Err
	}

	offset := 0
	if req.Token != nil {
		n, err := strconv.Atoi(*req.Token)
		if err != nil {
			return models.PageResult{}, err
		}
		offset = n
	}
	if offset >= len(m.Tracks) || req.PageSize <= 0 {
		return models.PageResult{}, nil
	}

	to := min(offset+req.PageSize, len(m.Tracks))
	result := models.PageResult{Tracks: append([]models.Track(nil), m.Tracks[offset:to]...)}
	if to < len(m.Tracks) {
		result.Next = models.Token(strconv.Itoa(to))
	}
	return result, nil
}

func (m *MockCatalog) Resolve(ctx context.Context, ids []string) ([]models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.Track
	for _, id := range ids {
		for _, t := range m.Tracks {
			if t.ID == id {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (m *MockCatalog) Name() string { return "mock" }

// NewTracks returns n playable tracks with ids t1..tn.
func NewTracks(n int) []models.Track {
	tracks := make([]models.Track, n)
	for i := range tracks {
		id := "t" + strconv.Itoa(i+1)
		tracks[i] = models.Track{ID: id, URI: "https://example.com/" + id + ".mp3", Title: "Track " + strconv.Itoa(i+1)}
	}
	return tracks
}

// NewTestDB opens a migrated in-memory database that is closed on cleanup.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
