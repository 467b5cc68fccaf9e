package main

import (
	"context"
	"os"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/server"
	"github.com/desertthunder/tapedeck/internal/services"
	"github.com/urfave/cli/v3"
)

// CatalogPage prints one page of the configured catalog.
func (r *Runner) CatalogPage(ctx context.Context, cmd *cli.Command) error {
	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return err
	}

	req := models.PageRequest{PageSize: int(cmd.Int("limit")), LastTrackID: cmd.String("after")}
	if req.PageSize <= 0 {
		req.PageSize = r.config.Player.PageSize
	}
	if cmd.IsSet("token") {
		req.Token = models.Token(cmd.String("token"))
	}

	page, err := catalog.LoadPage(ctx, req)
	if err != nil {
		return err
	}
	if err := r.render(cmd, page.Tracks); err != nil {
		return err
	}
	if page.Next != nil {
		r.logger.Info("more tracks available", "next", *page.Next)
	}
	return nil
}

// CatalogLookup resolves ids in the configured catalog.
func (r *Runner) CatalogLookup(ctx context.Context, cmd *cli.Command) error {
	catalog, err := r.openCatalog(ctx)
	if err != nil {
		return err
	}

	tracks, err := catalog.Resolve(ctx, cmd.Args().Slice())
	if err != nil {
		return err
	}
	return r.render(cmd, tracks)
}

// CatalogServe serves a generated catalog until interrupted.
//
// When catalog.client_id is set and the secret env var holds a value, the API requires client-credentials tokens.
func (r *Runner) CatalogServe(ctx context.Context, cmd *cli.Command) error {
	size := int(cmd.Int("size"))
	if size <= 0 {
		size = r.config.Catalog.StaticSize
	}
	catalog := services.NewStaticCatalog(size, cmd.String("uri"), "")

	cfg := r.config.Server
	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}

	var tokens *server.TokenHandler
	if id := r.config.Catalog.ClientID; id != "" {
		if secret := os.Getenv(r.config.Catalog.ClientSecretEnv); secret != "" {
			tokens = server.NewTokenHandler(id, secret, server.DefaultTokenTTL)
		} else {
			r.writeLine(r.palette.Warn("catalog.client_id is set but its secret is empty; serving without auth"))
		}
	}

	srv := server.NewServer(cfg, server.NewCatalogRouter(catalog, tokens, r.logger), r.logger)
	r.writeLine(r.palette.Title("serving " + catalog.Name() + " catalog on http://" + srv.Addr()))
	return srv.ListenAndServe(ctx)
}
