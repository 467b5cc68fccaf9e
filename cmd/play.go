package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/tapedeck/internal/formatter"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/player"
	"github.com/desertthunder/tapedeck/internal/shared"
	"github.com/urfave/cli/v3"
)

func currentTrack(p *player.Player) *models.Track {
	index := p.CurrentState().Index
	queue := p.Queue()
	if index < 0 || index >= len(queue) {
		return nil
	}
	return &queue[index]
}

// Play starts the restored queue, or the first catalog page when nothing was saved or --fresh is set.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	repeat, err := models.ParseRepeatMode(cmd.String("repeat"))
	if err != nil {
		return err
	}

	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	remove := p.AddListener(func(e models.PlaybackEvent) {
		if _, ok := e.(models.StateChanged); ok {
			return
		}
		r.writeLine(r.palette.Event(e))
	})
	defer remove()

	p.SetRepeatMode(repeat)
	p.SetShuffle(cmd.Bool("shuffle"))

	start := int(cmd.Int("start"))
	if cmd.Bool("fresh") || len(p.Queue()) == 0 {
		if err := p.LoadFirstPage(ctx, max(start, 0), true); err != nil {
			return fmt.Errorf("failed to load the first page: %w", err)
		}
	} else {
		if start >= 0 && !p.SkipTo(start) {
			r.writeLine(r.palette.Warn(fmt.Sprintf("index %d is outside the queue", start)))
		}
		p.Play()
	}

	for i := 0; i < int(cmd.Int("steps")); i++ {
		if !p.SkipToNext(ctx) {
			r.writeLine(r.palette.Warn("no more tracks"))
			break
		}
	}

	if follow := cmd.Duration("follow"); follow > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(follow):
		}
	}

	p.Pause()
	summary := formatter.StateToText(p.CurrentState(), currentTrack(p))
	remove()
	return r.writePlain("%s", summary)
}

// QueueShow prints the restored queue.
func (r *Runner) QueueShow(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	state := p.CurrentState()
	return r.render(cmd, &formatter.QueueExport{Name: "queue", State: &state, Tracks: p.Queue()})
}

// QueueNext advances the saved position without starting playback.
func (r *Runner) QueueNext(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	if len(p.Queue()) == 0 {
		if err := p.LoadFirstPage(ctx, 0, false); err != nil {
			return err
		}
	}

	moved := 0
	for range int(cmd.Int("count")) {
		if !p.SkipToNext(ctx) {
			break
		}
		moved++
	}
	p.Pause()

	if moved == 0 {
		r.writeLine(r.palette.Warn("already at the end of the queue"))
	}
	return r.writePlain("%s", formatter.StateToText(p.CurrentState(), currentTrack(p)))
}

// QueueClear empties the saved queue.
func (r *Runner) QueueClear(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	p.ClearQueue()
	return r.writeLine(r.palette.OK("queue cleared"))
}

// QueueExport writes the saved queue as csv (+ metadata json), markdown (+ cover) or text.
func (r *Runner) QueueExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	state := p.CurrentState()
	export := &formatter.QueueExport{Name: cmd.String("name"), State: &state, Tracks: p.Queue()}
	output := cmd.String("output")

	switch format {
	case formatter.FormatCSV:
		result, err := formatter.WriteCSVExport(export, output)
		if err != nil {
			return err
		}
		r.writeLine(r.palette.OK("wrote " + result.TracksFile))
		return r.writeLine(r.palette.OK("wrote " + result.MetadataFile))
	case formatter.FormatMarkdown:
		cover := ""
		if t := currentTrack(p); t != nil {
			cover = t.Artwork
		}
		result, err := formatter.WriteMarkdownExport(ctx, r.httpClient, export, output, cover)
		if err != nil {
			return err
		}
		for _, w := range result.Warnings {
			r.writeLine(r.palette.Warn(w))
		}
		for _, f := range result.Files {
			r.writeLine(r.palette.OK("wrote " + f))
		}
		return nil
	case formatter.FormatText:
		path, err := formatter.WriteTextExport(export, output)
		if err != nil {
			return err
		}
		return r.writeLine(r.palette.OK("wrote " + path))
	default:
		return fmt.Errorf("%w: export supports csv, markdown or text", shared.ErrInvalidFlag)
	}
}

// StateShow prints the state the player restores to.
func (r *Runner) StateShow(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	state := p.CurrentState()
	if cmd.String("format") == "" || cmd.String("format") == string(formatter.FormatText) {
		return r.writePlain("%s", formatter.StateToText(state, currentTrack(p)))
	}
	return r.render(cmd, state)
}

// StateSnapshot prints the saved snapshot as stored.
func (r *Runner) StateSnapshot(ctx context.Context, cmd *cli.Command) error {
	p, err := r.openPlayer(ctx, nil)
	if err != nil {
		return err
	}
	defer p.Release()

	snapshot, err := p.SavedSnapshot(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, snapshot)
}
