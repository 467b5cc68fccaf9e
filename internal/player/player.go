// Package player is the application-facing facade over the connector, library and download workers.
//
// A [Player] is built once with [New] and owns everything it creates: the database handle, the download pool,
// the paging queue and the bound session. Calling a method on a Player that [New] did not return, or after
// [Player.Release], is a programming error and panics with [shared.ErrNotInitialized].
package player

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/connector"
	"github.com/desertthunder/tapedeck/internal/events"
	"github.com/desertthunder/tapedeck/internal/library"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/queue"
	"github.com/desertthunder/tapedeck/internal/repositories"
	"github.com/desertthunder/tapedeck/internal/services"
	"github.com/desertthunder/tapedeck/internal/session"
	"github.com/desertthunder/tapedeck/internal/shared"
	"github.com/desertthunder/tapedeck/internal/tasks"
)

// Options configures [New]. Only Config is required.
type Options struct {
	Config *shared.Config
	// Catalog defaults to the catalog described by Config.Catalog.
	Catalog services.Catalog
	// Binder defaults to an in-process [session.Engine] ticking at player.tick_interval_ms.
	Binder     session.Binder
	Passphrase shared.PassphraseProvider
	// HTTPClient is used for downloads.
	HTTPClient *http.Client
	Progress   chan<- tasks.ProgressUpdate
	Logger     *log.Logger
}

// Player is the owned context for one playback session.
type Player struct {
	config  *shared.Config
	logger  *log.Logger
	db      *shared.DatabaseProvider
	catalog services.Catalog
	library *library.Library
	conn    *connector.Connector
	engine  *session.Engine
	state   *repositories.StateRepository

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	ready       atomic.Bool
	releaseOnce sync.Once
}

// New opens the database, starts the download workers, binds the session and restores the saved queue.
func New(ctx context.Context, opts Options) (*Player, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: player config", shared.ErrMissingConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NopLogger()
	}

	catalog := opts.Catalog
	if catalog == nil {
		c, err := services.FromConfig(ctx, cfg.Catalog)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	provider := shared.NewDatabaseProvider(cfg.Database, opts.Passphrase)
	db, err := provider.Open(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &Player{
		config:  cfg,
		logger:  shared.WithLogger(logger, "component", "player"),
		db:      provider,
		catalog: catalog,
		cancel:  cancel,
	}

	client := opts.HTTPClient
	if client == nil {
		client = downloadClient(cfg.Downloads)
	}
	downloader := tasks.NewDownloader(tasks.DownloaderOptions{
		AudioDir:   cfg.Storage.AudioDir,
		ArtworkDir: cfg.Storage.ArtworkDir,
		HTTPClient: client,
		Throttle:   cfg.Downloads.Throttle(),
		TagAudio:   cfg.Downloads.TagAudio,
		Logger:     logger,
	})
	p.library = library.New(db, library.Options{
		Fetcher:     downloader,
		Fallback:    catalog.Resolve,
		Workers:     cfg.Downloads.Workers,
		RateLimit:   cfg.Downloads.RateLimit,
		Progress:    opts.Progress,
		EventBuffer: cfg.Player.EventBuffer,
		Logger:      logger,
	})
	p.library.Start(runCtx)

	pager := queue.New(queue.Options{
		PageSize:               cfg.Player.PageSize,
		MaxConsecutiveFailures: cfg.Player.MaxConsecutiveFailures,
		Fetch:                  p.fetchPage,
		Logger:                 logger,
	})

	binder := opts.Binder
	if binder == nil {
		p.engine = session.NewEngine(session.EngineOptions{TickInterval: cfg.Player.TickInterval(), Logger: logger})
		binder = session.NewLocalBinder(p.engine)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.engine.Run(runCtx)
		}()
	}

	p.state = repositories.NewStateRepository(db)
	var resolver connector.Resolver
	if cfg.Player.Restore {
		resolver = p.library.FindByIDs
	}
	p.conn = connector.New(connector.Options{
		Binder:            binder,
		Queue:             pager,
		Store:             p.state,
		Resolver:          resolver,
		EventBuffer:       cfg.Player.EventBuffer,
		PrefetchThreshold: cfg.Player.PrefetchThreshold,
		Logger:            logger,
	})

	if err := p.conn.Bind(ctx); err != nil {
		p.shutdown()
		return nil, err
	}

	p.ready.Store(true)
	p.logger.Info("player ready", "catalog", catalog.Name(), "database", cfg.Database.Path)
	return p, nil
}

// fetchPage loads a page from the catalog and caches its metadata for restore.
func (p *Player) fetchPage(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
	page, err := p.catalog.LoadPage(ctx, req)
	if err != nil {
		return page, err
	}
	if err := p.library.UpsertTracks(ctx, page.Tracks...); err != nil {
		p.logger.Warn("failed to cache page", "err", err)
	}
	return page, nil
}

func downloadClient(cfg shared.DownloadsConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: time.Duration(cfg.ConnectTimeout) * time.Second}).DialContext
	}
	if cfg.ReadTimeout > 0 {
		transport.ResponseHeaderTimeout = time.Duration(cfg.ReadTimeout) * time.Second
	}
	return &http.Client{Transport: transport}
}

func (p *Player) require() {
	if p == nil || !p.ready.Load() {
		panic(fmt.Errorf("%w: build the player with player.New before use", shared.ErrNotInitialized))
	}
}

// Initialized reports whether p is ready for use.
func (p *Player) Initialized() bool {
	return p != nil && p.ready.Load()
}

// Release stops playback, persists the snapshot and closes every owned resource. Later calls are no-ops.
func (p *Player) Release() {
	if p == nil || !p.ready.CompareAndSwap(true, false) {
		return
	}
	p.shutdown()
	p.logger.Info("player released")
}

func (p *Player) shutdown() {
	p.releaseOnce.Do(func() {
		if p.conn != nil {
			p.conn.Release()
		}
		if p.engine != nil {
			p.engine.Release()
		}
		p.cancel()
		p.wg.Wait()
		p.library.Close()
		if err := p.db.Close(); err != nil {
			p.logger.Warn("failed to close database", "err", err)
		}
	})
}

// LoadFirstPage replaces the queue with the catalog's first page.
func (p *Player) LoadFirstPage(ctx context.Context, startIndex int, playWhenReady bool) error {
	p.require()
	page, err := p.fetchPage(ctx, models.PageRequest{PageSize: p.config.Player.PageSize})
	if err != nil {
		return err
	}
	return p.conn.SetQueue(ctx, page.Tracks, startIndex, playWhenReady, page.Next)
}

func (p *Player) SetQueue(ctx context.Context, tracks []models.Track, startIndex int, playWhenReady bool, nextToken *string) error {
	p.require()
	if err := p.library.UpsertTracks(ctx, tracks...); err != nil {
		return err
	}
	return p.conn.SetQueue(ctx, tracks, startIndex, playWhenReady, nextToken)
}

func (p *Player) Add(ctx context.Context, tracks ...models.Track) error {
	p.require()
	if err := p.library.UpsertTracks(ctx, tracks...); err != nil {
		return err
	}
	return p.conn.Add(tracks...)
}

func (p *Player) RemoveAt(index int) bool {
	p.require()
	return p.conn.RemoveAt(index)
}

func (p *Player) ClearQueue() {
	p.require()
	p.conn.ClearQueue()
}

func (p *Player) Play() {
	p.require()
	p.conn.Play()
}

func (p *Player) Pause() {
	p.require()
	p.conn.Pause()
}

func (p *Player) Stop() {
	p.require()
	p.conn.Stop()
}

func (p *Player) SeekTo(position time.Duration) {
	p.require()
	p.conn.SeekTo(position)
}

// SkipToNext advances, waiting for the next page when the loaded items are used up.
func (p *Player) SkipToNext(ctx context.Context) bool {
	p.require()
	return p.conn.SkipToNext(ctx)
}

func (p *Player) SkipTo(index int) bool {
	p.require()
	return p.conn.SkipTo(index)
}

func (p *Player) SkipToPrevious() bool {
	p.require()
	return p.conn.SkipToPrevious()
}

func (p *Player) SetRepeatMode(mode models.RepeatMode) {
	p.require()
	p.conn.SetRepeatMode(mode)
}

func (p *Player) SetShuffle(enabled bool) {
	p.require()
	p.conn.SetShuffle(enabled)
}

func (p *Player) CurrentState() models.PlaybackState {
	p.require()
	return p.conn.CurrentState()
}

func (p *Player) Queue() []models.Track {
	p.require()
	return p.conn.Queue()
}

// Events subscribes to playback events. Close the subscription when done.
func (p *Player) Events() *events.Subscription[models.PlaybackEvent] {
	p.require()
	return p.conn.Events()
}

func (p *Player) AddListener(fn func(models.PlaybackEvent)) (remove func()) {
	p.require()
	return p.conn.AddListener(fn)
}

// Flush waits for pending snapshot writes.
func (p *Player) Flush() {
	p.require()
	p.conn.Flush()
}

// SavedSnapshot flushes pending writes and returns the snapshot the next launch would restore.
func (p *Player) SavedSnapshot(ctx context.Context) (models.RestoreSnapshot, error) {
	p.require()
	p.conn.Flush()
	return p.state.Load(ctx)
}

func (p *Player) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	p.require()
	return p.library.ToggleFavorite(ctx, id)
}

func (p *Player) IsFavorite(ctx context.Context, id string) (bool, error) {
	p.require()
	return p.library.IsFavorite(ctx, id)
}

func (p *Player) Favorites(ctx context.Context) ([]models.Favorite, error) {
	p.require()
	return p.library.Favorites(ctx)
}

func (p *Player) WatchFavorites() *events.Subscription[[]string] {
	p.require()
	return p.library.WatchFavorites()
}

// EnqueueDownload schedules an offline copy of track.
func (p *Player) EnqueueDownload(ctx context.Context, track models.Track) (bool, error) {
	p.require()
	return p.library.EnqueueDownload(ctx, track)
}

func (p *Player) CancelDownload(id string) bool {
	p.require()
	return p.library.CancelDownload(id)
}

func (p *Player) Download(ctx context.Context, id string) (models.DownloadRecord, error) {
	p.require()
	return p.library.Download(ctx, id)
}

func (p *Player) Downloads(ctx context.Context) ([]models.DownloadRecord, error) {
	p.require()
	return p.library.Downloads(ctx)
}

func (p *Player) WatchDownloads() *events.Subscription[models.DownloadRecord] {
	p.require()
	return p.library.WatchDownloads()
}

// RecoverDownloads re-enqueues downloads interrupted by a previous process.
func (p *Player) RecoverDownloads(ctx context.Context) (int, error) {
	p.require()
	return p.library.Recover(ctx)
}

// WaitDownloads blocks until no download is pending or running.
func (p *Player) WaitDownloads() {
	p.require()
	p.library.Wait()
}

// Library exposes the local store.
func (p *Player) Library() *library.Library {
	p.require()
	return p.library
}

// Catalog returns the catalog pages are loaded from.
func (p *Player) Catalog() services.Catalog {
	p.require()
	return p.catalog
}
