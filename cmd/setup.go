package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/desertthunder/tapedeck/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file when missing, migrates the database and creates the storage directories.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if r.configPath != "" {
		if err := shared.CreateConfigFile(r.configPath); err == nil {
			r.logger.Info("config file created", "path", r.configPath)
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return err
			}
			r.config = config
		} else if !errors.Is(err, os.ErrExist) {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		}
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	provider := shared.NewDatabaseProvider(r.config.Database, nil)
	if _, err := provider.Open(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := provider.Close(); err != nil {
		return err
	}

	for _, dir := range []string{r.config.Storage.AudioDir, r.config.Storage.ArtworkDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return r.writeLine(r.palette.OK("tapedeck is ready"))
}
