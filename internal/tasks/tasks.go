package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
	"golang.org/x/time/rate"
)

const (
	chunkSize       = 128 * 1024
	maxArtworkBytes = 10 << 20
	defaultThrottle = 250 * time.Millisecond
	defaultAudioExt = ".mp3"
	partSuffix      = ".part"
)

// ProgressFunc receives percentages in [0, 100]. Values never decrease within one download.
type ProgressFunc func(pct int)

// DownloadResult describes a finished download.
type DownloadResult struct {
	FilePath    string
	ArtworkPath string
	Bytes       int64
}

// DownloaderOptions configures a [Downloader].
type DownloaderOptions struct {
	AudioDir   string
	ArtworkDir string
	HTTPClient *http.Client
	// Throttle is the minimum gap between progress callbacks, 250ms when zero.
	Throttle time.Duration
	TagAudio bool
	Logger   *log.Logger
}

// Downloader streams tracks to local storage. It is safe for concurrent use with different track ids.
type Downloader struct {
	audioDir   string
	artworkDir string
	client     *http.Client
	throttle   time.Duration
	tagAudio   bool
	logger     *log.Logger
}

// NewDownloader creates a Downloader. Directories are created on first use.
func NewDownloader(opts DownloaderOptions) *Downloader {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Throttle <= 0 {
		opts.Throttle = defaultThrottle
	}
	if opts.ArtworkDir == "" {
		opts.ArtworkDir = opts.AudioDir
	}
	return &Downloader{
		audioDir:   opts.AudioDir,
		artworkDir: opts.ArtworkDir,
		client:     opts.HTTPClient,
		throttle:   opts.Throttle,
		tagAudio:   opts.TagAudio,
		logger:     shared.WithLogger(opts.Logger, "component", "downloader"),
	}
}

// Download fetches track.URI, then its artwork, and returns the final paths.
//
// onProgress may be nil. Partial bytes never reach the final file name.
func (d *Downloader) Download(ctx context.Context, track models.Track, onProgress ProgressFunc) (DownloadResult, error) {
	if err := track.Validate(); err != nil {
		return DownloadResult{}, err
	}
	if onProgress == nil {
		onProgress = func(int) {}
	}

	if err := os.MkdirAll(d.audioDir, 0755); err != nil {
		return DownloadResult{}, fmt.Errorf("failed to create audio directory: %w", err)
	}

	final := filepath.Join(d.audioDir, fileName(track.ID)+audioExt(track.URI))
	n, err := d.fetchAudio(ctx, track, final, onProgress)
	if err != nil {
		return DownloadResult{}, err
	}

	result := DownloadResult{FilePath: final, Bytes: n}

	var art *artwork
	if track.Artwork != "" {
		art, err = d.fetchArtwork(ctx, track)
		if err != nil {
			d.logger.Debug("artwork skipped", "track", track.ID, "err", err)
		} else {
			result.ArtworkPath = art.path
		}
	}

	if d.tagAudio {
		if err := tagFile(final, track, art); err != nil {
			d.logger.Warn("tagging failed", "track", track.ID, "err", err)
		}
	}

	onProgress(100)
	d.logger.Info("download complete", "track", track.ID, "bytes", n, "path", final)
	return result, nil
}

// fetchAudio streams the body into final+".part" and renames it to final.
func (d *Downloader) fetchAudio(ctx context.Context, track models.Track, final string, onProgress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.URI, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range track.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, cancelled(ctx)
		}
		return 0, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: %d for %s", shared.ErrUnexpectedStatus, resp.StatusCode, track.URI)
	}

	part := final + partSuffix
	out, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("failed to create part file: %w", err)
	}

	n, err := d.copyWithProgress(ctx, out, resp.Body, resp.ContentLength, onProgress)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close part file: %w", closeErr)
	}
	if err != nil {
		os.Remove(part)
		return 0, err
	}

	if err := os.Remove(final); err != nil && !errors.Is(err, os.ErrNotExist) {
		os.Remove(part)
		return 0, fmt.Errorf("failed to replace %s: %w", final, err)
	}
	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("failed to rename part file: %w", err)
	}
	return n, nil
}

// copyWithProgress copies src to dst in chunks, checking ctx before every read.
//
// total <= 0 means the length is unknown.
func (d *Downloader) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	limiter := rate.NewLimiter(rate.Every(d.throttle), 1)
	buf := make([]byte, chunkSize)

	var written int64
	last := 0
	onProgress(0)

	for {
		if ctx.Err() != nil {
			return written, cancelled(ctx)
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			if _, err := dst.Write(buf[:nr]); err != nil {
				return written, fmt.Errorf("failed to write part file: %w", err)
			}
			written += int64(nr)

			if total > 0 {
				pct := int(min(written*100/total, 100))
				if pct > last && limiter.Allow() {
					onProgress(pct)
					last = pct
				}
			} else if last < 99 && limiter.Allow() {
				last = min(99, max(last+1, 1))
				onProgress(last)
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, cancelled(ctx)
			}
			return written, fmt.Errorf("failed to read body: %w", readErr)
		}
	}
}

type artwork struct {
	path string
	mime string
	data []byte
}

// fetchArtwork downloads track.Artwork into the artwork directory, naming the file by its sniffed type.
func (d *Downloader) fetchArtwork(ctx context.Context, track models.Track) (*artwork, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.Artwork, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d for artwork", shared.ErrUnexpectedStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty artwork body")
	}

	mime, ext, ok := sniffImage(data)
	if !ok {
		return nil, fmt.Errorf("artwork is %s, not an image", mime)
	}

	if err := os.MkdirAll(d.artworkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artwork directory: %w", err)
	}

	p := filepath.Join(d.artworkDir, fileName(track.ID)+ext)
	if err := os.WriteFile(p, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write artwork: %w", err)
	}
	return &artwork{path: p, mime: mime, data: data}, nil
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", shared.ErrDownloadCancelled, context.Cause(ctx))
}

// fileName maps a track id to a single safe path element.
//
// Unsafe bytes and '%' are percent-encoded, so distinct ids never share a file.
func fileName(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		switch c := id[i]; c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '%', 0:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// audioExt takes the extension from the URI path, defaulting to .mp3.
func audioExt(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultAudioExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) < 2 || len(ext) > 5 {
		return defaultAudioExt
	}
	return ext
}
