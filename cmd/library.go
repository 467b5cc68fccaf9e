package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/player"
	"github.com/desertthunder/tapedeck/internal/shared"
	"github.com/desertthunder/tapedeck/internal/tasks"
	"github.com/urfave/cli/v3"
)

const progressBuffer = 64

// FavoriteToggle flips a track's favorite membership.
func (r *Runner) FavoriteToggle(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}

	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	on, err := p.ToggleFavorite(ctx, id)
	if err != nil {
		return err
	}
	if on {
		return r.writeLine(r.palette.OK(id + " added to favorites"))
	}
	return r.writeLine(r.palette.OK(id + " removed from favorites"))
}

// FavoriteList prints favorites, oldest first.
func (r *Runner) FavoriteList(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	favorites, err := p.Favorites(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, favorites)
}

// downloadHeaders merges --header lines and the -H headers of --curl.
func downloadHeaders(cmd *cli.Command) (map[string]string, error) {
	headers, err := shared.ParseHeaders(cmd.StringSlice("header"))
	if err != nil {
		return nil, err
	}
	if curl := cmd.String("curl"); curl != "" {
		fromCurl, err := shared.ParseCurlHeaders(curl)
		if err != nil {
			return nil, err
		}
		for k, v := range fromCurl {
			if _, ok := headers[k]; !ok {
				headers[k] = v
			}
		}
	}
	return headers, nil
}

func resolveTrack(ctx context.Context, p *player.Player, cmd *cli.Command, id string) (models.Track, error) {
	if uri := cmd.String("uri"); uri != "" {
		return models.Track{ID: id, URI: uri, Title: cmd.String("title")}, nil
	}
	tracks, err := p.Library().FindByIDs(ctx, []string{id})
	if err != nil {
		return models.Track{}, err
	}
	if len(tracks) == 0 {
		return models.Track{}, fmt.Errorf("%w: %s (pass --uri to download it directly)", shared.ErrTrackNotFound, id)
	}
	return tracks[0], nil
}

// DownloadAdd downloads one track and waits for it, printing progress.
func (r *Runner) DownloadAdd(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}
	headers, err := downloadHeaders(cmd)
	if err != nil {
		return err
	}

	return r.withDownloads(ctx, cmd.Duration("timeout"), func(p *player.Player) error {
		track, err := resolveTrack(ctx, p, cmd, id)
		if err != nil {
			return err
		}
		if len(headers) > 0 {
			track = track.WithHeaders(headers)
		}

		queued, err := p.EnqueueDownload(ctx, track)
		if err != nil {
			return err
		}
		if !queued {
			r.writeLine(r.palette.Warn(id + " is already downloading"))
		}
		return nil
	}, func(p *player.Player) error {
		record, err := p.Download(ctx, id)
		if err != nil {
			return err
		}
		if record.Status == models.DownloadFailed {
			return fmt.Errorf("download of %s failed: %s", id, record.Error)
		}
		return nil
	})
}

// DownloadRecover resumes interrupted downloads.
func (r *Runner) DownloadRecover(ctx context.Context, cmd *cli.Command) error {
	return r.withDownloads(ctx, 0, func(p *player.Player) error {
		n, err := p.RecoverDownloads(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			r.writeLine(r.palette.Help("nothing to recover"))
		}
		return nil
	}, nil)
}

// withDownloads opens a player with progress output, runs enqueue, waits for the workers to drain and runs check.
// A positive timeout bounds the wait.
func (r *Runner) withDownloads(ctx context.Context, timeout time.Duration, enqueue, check func(*player.Player) error) error {
	progress := make(chan tasks.ProgressUpdate, progressBuffer)
	printed := make(chan struct{})

	p, err := r.openPlayer(ctx, progress)
	if err != nil {
		return err
	}
	go r.printProgress(progress, printed)
	defer func() {
		p.Release()
		close(progress)
		<-printed
	}()

	if err := enqueue(p); err != nil {
		return err
	}

	drained := make(chan struct{})
	go func() {
		p.WaitDownloads()
		close(drained)
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return errors.New("timed out waiting for downloads")
	}

	if check != nil {
		return check(p)
	}
	return nil
}

// DownloadList prints every download record.
func (r *Runner) DownloadList(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	records, err := p.Downloads(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, records)
}

// DownloadShow prints one download record.
func (r *Runner) DownloadShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}

	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	record, err := p.Download(ctx, id)
	if err != nil {
		return err
	}
	return r.render(cmd, record)
}
