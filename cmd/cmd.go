// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

// formatFlag returns a new --format flag. Flags keep parsed values, so each command gets its own.
func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, json, csv or markdown",
		Value:   "text",
	}
}

// Command builds the root command.
func (r *Runner) Command() *cli.Command {
	return &cli.Command{
		Name:    "tapedeck",
		Usage:   "Headless paged audio player with favorites and offline downloads",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "Path to a .env file with secrets",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level (debug, info, warn, error)",
			},
		},
		Before:   r.before,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, playCommand, queueCommand, stateCommand, favoriteCommand, downloadCommand, catalogCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// setupCommand writes a config file when missing and migrates the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml when missing, then initialize the database and storage directories",
		Action: r.Setup,
	}
}

// playCommand plays the restored queue or the catalog's first page.
func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "Play the restored queue (or the first catalog page) and print playback events",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "start",
				Usage: "Queue index to start from",
				Value: -1,
			},
			&cli.IntFlag{
				Name:  "steps",
				Usage: "Number of tracks to skip forward after starting",
			},
			&cli.BoolFlag{
				Name:  "fresh",
				Usage: "Ignore the restored queue and load the first catalog page",
			},
			&cli.DurationFlag{
				Name:  "follow",
				Usage: "Keep playing and printing events for this long",
			},
			&cli.StringFlag{
				Name:  "repeat",
				Usage: "Repeat mode: off, one or all",
				Value: "off",
			},
			&cli.BoolFlag{
				Name:  "shuffle",
				Usage: "Enable shuffle",
			},
		},
		Action: r.Play,
	}
}

// queueCommand inspects and edits the persisted queue.
func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and edit the saved queue",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the queue with the current track marked",
				Flags:  []cli.Flag{formatFlag()},
				Action: r.QueueShow,
			},
			{
				Name:  "next",
				Usage: "Advance the saved position, loading pages as needed",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "count",
						Usage: "Number of tracks to advance",
						Value: 1,
					},
				},
				Action: r.QueueNext,
			},
			{
				Name:   "clear",
				Usage:  "Empty the queue",
				Action: r.QueueClear,
			},
			{
				Name:  "export",
				Usage: "Write the queue to files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: csv, markdown or text",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Base path (csv), directory (markdown) or file (text)",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Queue name used for default file names",
						Value: "queue",
					},
				},
				Action: r.QueueExport,
			},
		},
	}
}

// stateCommand prints the playback state.
func stateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show playback state",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the state the player restores to",
				Flags:  []cli.Flag{formatFlag()},
				Action: r.StateShow,
			},
			{
				Name:   "snapshot",
				Usage:  "Print the raw saved snapshot",
				Flags:  []cli.Flag{formatFlag()},
				Action: r.StateSnapshot,
			},
		},
	}
}

// favoriteCommand manages favorites.
func favoriteCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "favorite",
		Aliases: []string{"fav"},
		Usage:   "Manage favorite tracks",
		Commands: []*cli.Command{
			{
				Name:      "toggle",
				Usage:     "Add or remove a favorite",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.FavoriteToggle,
			},
			{
				Name:   "list",
				Usage:  "List favorites, oldest first",
				Flags:  []cli.Flag{formatFlag()},
				Action: r.FavoriteList,
			},
		},
	}
}

// downloadCommand manages offline copies.
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "Manage offline downloads",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Download a track by id, resolving it from the library or catalog",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "uri",
						Usage: "Download from this URI instead of resolving the id",
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Title for a track given by --uri",
					},
					&cli.StringSliceFlag{
						Name:    "header",
						Aliases: []string{"H"},
						Usage:   "Request header as 'Key: Value' (repeatable)",
					},
					&cli.StringFlag{
						Name:  "curl",
						Usage: "cURL command (Copy as cURL) whose -H headers are sent with the download",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up waiting after this long",
						Value: 10 * time.Minute,
					},
				},
				Action: r.DownloadAdd,
			},
			{
				Name:   "list",
				Usage:  "List download records",
				Flags:  []cli.Flag{formatFlag()},
				Action: r.DownloadList,
			},
			{
				Name:      "show",
				Usage:     "Show one download record",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags:     []cli.Flag{formatFlag()},
				Action:    r.DownloadShow,
			},
			{
				Name:   "recover",
				Usage:  "Resume downloads interrupted by a previous run",
				Action: r.DownloadRecover,
			},
		},
	}
}

// catalogCommand talks to or serves a track catalog.
func catalogCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Browse or serve the track catalog",
		Commands: []*cli.Command{
			{
				Name:  "page",
				Usage: "Print one catalog page",
				Flags: []cli.Flag{
					formatFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Page size (default player.page_size)",
					},
					&cli.StringFlag{
						Name:  "token",
						Usage: "Continuation token from a previous page",
					},
					&cli.StringFlag{
						Name:  "after",
						Usage: "Return tracks after this track id",
					},
				},
				Action: r.CatalogPage,
			},
			{
				Name:      "lookup",
				Usage:     "Resolve track ids",
				ArgsUsage: "<id>...",
				Flags:     []cli.Flag{formatFlag()},
				Action:    r.CatalogLookup,
			},
			{
				Name:  "serve",
				Usage: "Serve a static catalog over HTTP",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "size",
						Usage: "Number of generated tracks (default catalog.static_size)",
					},
					&cli.StringFlag{
						Name:  "uri",
						Usage: "Audio URI every generated track streams from",
					},
					&cli.StringFlag{
						Name:  "host",
						Usage: "Listen host (default server.host)",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "Listen port (default server.port)",
					},
				},
				Action: r.CatalogServe,
			},
		},
	}
}
