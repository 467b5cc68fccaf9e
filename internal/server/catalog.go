package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/services"
	"github.com/desertthunder/tapedeck/internal/shared"
)

const (
	defaultLimit = 20
	maxLimit     = 200
	maxLookupIDs = 500
)

// CatalogHandler serves a [services.Catalog] as JSON.
type CatalogHandler struct {
	catalog services.Catalog
	logger  *log.Logger
}

// NewCatalogHandler creates a handler for catalog.
func NewCatalogHandler(catalog services.Catalog, logger *log.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: shared.WithLogger(logger, "component", "catalog")}
}

// Routes returns the HTTP routes this handler serves.
func (h *CatalogHandler) Routes() []string {
	return []string{"/api/tracks", "/api/tracks/lookup", "/health"}
}

func (h *CatalogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch r.URL.Path {
	case "/api/tracks":
		h.page(w, r)
	case "/api/tracks/lookup":
		h.lookup(w, r)
	case "/health":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "catalog": h.catalog.Name()})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *CatalogHandler) page(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	req := models.PageRequest{LastTrackID: q.Get("after"), PageSize: limit}
	if q.Has("token") {
		req.Token = models.Token(q.Get("token"))
	}

	page, err := h.catalog.LoadPage(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services.PageResponse{Tracks: services.NewTrackDTOs(page.Tracks), Next: page.Next})
}

func (h *CatalogHandler) lookup(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, v := range r.URL.Query()["ids"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	if len(ids) > maxLookupIDs {
		writeError(w, http.StatusBadRequest, "too many ids")
		return
	}

	tracks, err := h.catalog.Resolve(r.Context(), ids)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services.LookupResponse{Tracks: services.NewTrackDTOs(tracks)})
}

func (h *CatalogHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("catalog request failed", "err", err)
	writeError(w, http.StatusBadGateway, "catalog unavailable")
}

// NewCatalogRouter wires the catalog routes with recovery and request logging.
//
// When tokens is non-nil the token endpoint is mounted and the /api routes require a bearer token; /health stays open.
func NewCatalogRouter(catalog services.Catalog, tokens *TokenHandler, logger *log.Logger) *BasicRouter {
	router := NewBasicRouter()
	router.Use(Recover(logger), Logging(logger))

	handler := NewCatalogHandler(catalog, logger)
	if tokens == nil {
		router.Handler(handler)
		return router
	}

	router.Handler(tokens)
	protected := RequireBearer(tokens)(handler)
	for _, route := range handler.Routes() {
		if route == "/health" {
			router.Handle(http.MethodGet, route, handler)
			continue
		}
		router.Handle("", route, protected)
	}
	return router
}
