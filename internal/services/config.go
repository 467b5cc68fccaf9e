package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/tapedeck/internal/shared"
)

// FromConfig selects the catalog described by cfg.
//
// An empty base URL yields a [StaticCatalog]. A client id switches the HTTP client to client-credentials auth,
// with the secret read from the variable named by client_secret_env.
func FromConfig(ctx context.Context, cfg shared.CatalogConfig) (Catalog, error) {
	if cfg.BaseURL == "" {
		return NewStaticCatalog(cfg.StaticSize, "", ""), nil
	}
	if cfg.ClientID == "" {
		return NewHTTPCatalog(cfg.BaseURL, nil), nil
	}

	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: catalog.token_url is required with catalog.client_id", shared.ErrInvalidConfig)
	}
	secret := shared.Getenv(cfg.ClientSecretEnv, "")
	if secret == "" {
		return nil, fmt.Errorf("%w: %s is not set", shared.ErrMissingConfig, cfg.ClientSecretEnv)
	}
	client := NewClientCredentialsClient(ctx, cfg.ClientID, secret, cfg.TokenURL)
	return NewHTTPCatalog(cfg.BaseURL, client), nil
}
