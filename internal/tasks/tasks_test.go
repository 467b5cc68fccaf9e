package tasks

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
	tu "github.com/desertthunder/tapedeck/internal/testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// progressLog records callbacks from a download.
type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, pct)
}

func (p *progressLog) all() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.values...)
}

func newTestDownloader(t *testing.T) (*Downloader, string) {
	t.Helper()
	dir := t.TempDir()
	d := NewDownloader(DownloaderOptions{
		AudioDir:   filepath.Join(dir, "audio"),
		ArtworkDir: filepath.Join(dir, "art"),
		Throttle:   time.Nanosecond,
	})
	return d, dir
}

func assertNoPartFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "audio", "*"+partSuffix))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no part files, found %v", matches)
	}
}

func TestDownloader(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789abcdef"), 64*1024) // 1 MiB

	t.Run("Known Length", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.Write(body)
		}))
		defer server.Close()

		d, dir := newTestDownloader(t)
		progress := &progressLog{}
		track := models.Track{ID: "track_1", URI: server.URL + "/song.mp3"}

		result, err := d.Download(context.Background(), track, progress.record)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result.FilePath != filepath.Join(dir, "audio", "track_1.mp3") {
			t.Errorf("unexpected file path %s", result.FilePath)
		}
		if result.Bytes != int64(len(body)) {
			t.Errorf("expected %d bytes, got %d", len(body), result.Bytes)
		}
		if got := tu.MustReadFile(t, result.FilePath); got != string(body) {
			t.Error("downloaded content does not match source")
		}
		assertNoPartFiles(t, dir)

		values := progress.all()
		if len(values) < 2 {
			t.Fatalf("expected several progress values, got %v", values)
		}
		if values[0] != 0 {
			t.Errorf("expected first value 0, got %d", values[0])
		}
		if values[len(values)-1] != 100 {
			t.Errorf("expected last value 100, got %d", values[len(values)-1])
		}
		for i, v := range values {
			if v < 0 || v > 100 {
				t.Errorf("value %d out of range: %d", i, v)
			}
			if i > 0 && v < values[i-1] {
				t.Errorf("progress decreased at %d: %v", i, values)
			}
		}
	})

	t.Run("Unknown Length", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			for i := 0; i < 8; i++ {
				w.Write(body[:chunkSize])
				flusher.Flush()
			}
		}))
		defer server.Close()

		d, _ := newTestDownloader(t)
		progress := &progressLog{}

		result, err := d.Download(context.Background(), models.Track{ID: "stream", URI: server.URL + "/stream"}, progress.record)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Bytes != int64(8*chunkSize) {
			t.Errorf("expected %d bytes, got %d", 8*chunkSize, result.Bytes)
		}

		values := progress.all()
		last := values[len(values)-1]
		if last != 100 {
			t.Errorf("expected final 100, got %d", last)
		}
		for i, v := range values[:len(values)-1] {
			if v > 99 {
				t.Errorf("synthetic progress above 99 at %d: %d", i, v)
			}
			if i > 0 && v < values[i-1] {
				t.Errorf("progress decreased at %d: %v", i, values)
			}
		}
	})

	t.Run("Cancellation Removes Partial File", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(body[:chunkSize])
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}))
		defer server.Close()

		d, dir := newTestDownloader(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_, err := d.Download(ctx, models.Track{ID: "slow", URI: server.URL + "/slow.mp3"}, func(pct int) {
			if pct > 0 {
				cancel()
			}
		})

		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if !errors.Is(err, shared.ErrDownloadCancelled) {
			t.Errorf("expected ErrDownloadCancelled, got %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "audio", "slow.mp3")); !os.IsNotExist(err) {
			t.Error("expected no final file after cancellation")
		}
		assertNoPartFiles(t, dir)
	})

	t.Run("Unexpected Status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		d, dir := newTestDownloader(t)
		_, err := d.Download(context.Background(), models.Track{ID: "missing", URI: server.URL + "/missing.mp3"}, nil)

		if !errors.Is(err, shared.ErrUnexpectedStatus) {
			t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
		}
		assertNoPartFiles(t, dir)
	})

	t.Run("Forwards Track Headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Token") != "secret" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte("audio"))
		}))
		defer server.Close()

		d, _ := newTestDownloader(t)
		track := models.Track{ID: "private", URI: server.URL + "/a.ogg", Headers: map[string]string{"X-Token": "secret"}}

		result, err := d.Download(context.Background(), track, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if filepath.Ext(result.FilePath) != ".ogg" {
			t.Errorf("expected .ogg extension, got %s", result.FilePath)
		}
	})

	t.Run("Artwork", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/cover":
				w.Write(pngHeader)
			case "/not-an-image":
				w.Write([]byte("hello, world"))
			default:
				w.Write([]byte("audio bytes"))
			}
		}))
		defer server.Close()

		t.Run("Stored With Sniffed Extension", func(t *testing.T) {
			d, dir := newTestDownloader(t)
			track := models.Track{ID: "art", URI: server.URL + "/a.mp3", Artwork: server.URL + "/cover"}

			result, err := d.Download(context.Background(), track, nil)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result.ArtworkPath != filepath.Join(dir, "art", "art.png") {
				t.Errorf("unexpected artwork path %s", result.ArtworkPath)
			}
			tu.AssertFileExists(t, result.ArtworkPath)
		})

		t.Run("Non Image Is Ignored", func(t *testing.T) {
			d, _ := newTestDownloader(t)
			track := models.Track{ID: "noart", URI: server.URL + "/a.mp3", Artwork: server.URL + "/not-an-image"}

			result, err := d.Download(context.Background(), track, nil)
			if err != nil {
				t.Fatalf("artwork failure must not fail the download: %v", err)
			}
			if result.ArtworkPath != "" {
				t.Errorf("expected no artwork path, got %s", result.ArtworkPath)
			}
		})
	})

	t.Run("Tagging Leaves Non MP3 Untouched", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("plain text, not audio"))
		}))
		defer server.Close()

		dir := t.TempDir()
		d := NewDownloader(DownloaderOptions{AudioDir: dir, TagAudio: true})
		result, err := d.Download(context.Background(), models.Track{ID: "t", URI: server.URL, Title: "Song"}, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := tu.MustReadFile(t, result.FilePath); got != "plain text, not audio" {
			t.Errorf("file was modified: %q", got)
		}
	})

	t.Run("Similar IDs Get Separate Files", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(r.URL.Query().Get("body")))
		}))
		defer server.Close()

		d, _ := newTestDownloader(t)
		slashed, err := d.Download(context.Background(), models.Track{ID: "a/b", URI: server.URL + "/x.mp3?body=AAAA"}, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		underscored, err := d.Download(context.Background(), models.Track{ID: "a_b", URI: server.URL + "/x.mp3?body=BBBB"}, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if slashed.FilePath == underscored.FilePath {
			t.Fatalf("both downloads wrote %s", slashed.FilePath)
		}
		if got := tu.MustReadFile(t, slashed.FilePath); got != "AAAA" {
			t.Errorf("a/b file = %q, want AAAA", got)
		}
		if got := tu.MustReadFile(t, underscored.FilePath); got != "BBBB" {
			t.Errorf("a_b file = %q, want BBBB", got)
		}
	})

	t.Run("Invalid Track", func(t *testing.T) {
		d, _ := newTestDownloader(t)
		if _, err := d.Download(context.Background(), models.Track{ID: "x"}, nil); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestHelpers(t *testing.T) {
	t.Run("fileName", func(t *testing.T) {
		tests := map[string]string{
			"track_1": "track_1",
			"a/b:c":   "a%2Fb%3Ac",
			"a_b":     "a_b",
			"50%":     "50%25",
			`a\b`:     "a%5Cb",
		}
		for id, want := range tests {
			if got := fileName(id); got != want {
				t.Errorf("fileName(%q) = %s, want %s", id, got, want)
			}
		}
	})

	t.Run("fileName Is Injective", func(t *testing.T) {
		ids := []string{"a/b", "a_b", "a%2Fb", "a:b", "a%3Ab", "a%b"}
		seen := make(map[string]string)
		for _, id := range ids {
			name := fileName(id)
			if other, ok := seen[name]; ok {
				t.Errorf("fileName(%q) and fileName(%q) both = %s", id, other, name)
			}
			seen[name] = id
		}
	})

	t.Run("audioExt", func(t *testing.T) {
		tests := map[string]string{
			"https://example.com/a.MP3":          ".mp3",
			"https://example.com/a.flac?x=1":     ".flac",
			"https://example.com/stream":         ".mp3",
			"https://example.com/a.verylongname": ".mp3",
		}
		for uri, want := range tests {
			if got := audioExt(uri); got != want {
				t.Errorf("audioExt(%s) = %s, want %s", uri, got, want)
			}
		}
	})

	t.Run("Phase String", func(t *testing.T) {
		if Transferring.String() != "transferring" || Phase(99).String() != "" {
			t.Error("unexpected phase names")
		}
	})
}
