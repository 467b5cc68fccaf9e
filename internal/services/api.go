// HTTP implementation of [Catalog]
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	tracksPath = "/api/tracks"
	lookupPath = "/api/tracks/lookup"
	healthPath = "/health"
)

// HTTPCatalog reads pages from a catalog server.
type HTTPCatalog struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCatalog creates a new catalog client for the server at baseURL.
func NewHTTPCatalog(baseURL string, client *http.Client) *HTTPCatalog {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPCatalog{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
	}
}

// NewClientCredentialsClient returns a client that authenticates every request with a client-credentials token.
//
// Tokens are fetched from tokenURL on first use and refreshed when they expire.
func NewClientCredentialsClient(ctx context.Context, clientID, clientSecret, tokenURL string) *http.Client {
	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return config.Client(ctx)
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Name returns "http".
func (c *HTTPCatalog) Name() string { return "http" }

// BaseURL returns the server address.
func (c *HTTPCatalog) BaseURL() string { return c.baseURL }

// LoadPage performs GET /api/tracks.
func (c *HTTPCatalog) LoadPage(ctx context.Context, req models.PageRequest) (models.PageResult, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(req.PageSize))
	if req.Token != nil {
		query.Set("token", *req.Token)
	}
	if req.LastTrackID != "" {
		query.Set("after", req.LastTrackID)
	}

	var page PageResponse
	if err := c.getJSON(ctx, tracksPath, query, &page); err != nil {
		return models.PageResult{}, err
	}
	return models.PageResult{Tracks: TracksFromDTOs(page.Tracks), Next: page.Next}, nil
}

// Resolve performs GET /api/tracks/lookup.
func (c *HTTPCatalog) Resolve(ctx context.Context, ids []string) ([]models.Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var lookup LookupResponse
	if err := c.getJSON(ctx, lookupPath, url.Values{"ids": ids}, &lookup); err != nil {
		return nil, err
	}
	return TracksFromDTOs(lookup.Tracks), nil
}

// Health performs GET /health and reports whether the server answered 2xx.
func (c *HTTPCatalog) Health(ctx context.Context) error {
	resp, err := c.Get(ctx, healthPath, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health returned %d", shared.ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}

// Get performs a GET request to the specified path and returns the raw response.
func (c *HTTPCatalog) Get(ctx context.Context, path string, query url.Values) (*APIResponse, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

func (c *HTTPCatalog) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d: %s", shared.ErrUnexpectedStatus, path, resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
