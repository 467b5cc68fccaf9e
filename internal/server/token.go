package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/tapedeck/internal/shared"
	"golang.org/x/oauth2"
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = time.Hour

// TokenHandler implements the token endpoint of the OAuth2 client-credentials grant for a single client.
type TokenHandler struct {
	clientID     string
	clientSecret string
	ttl          time.Duration
	now          func() time.Time

	mu     sync.Mutex
	issued map[string]time.Time
}

// NewTokenHandler creates a token endpoint for one client. A non-positive ttl selects [DefaultTokenTTL].
func NewTokenHandler(clientID, clientSecret string, ttl time.Duration) *TokenHandler {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenHandler{
		clientID:     clientID,
		clientSecret: clientSecret,
		ttl:          ttl,
		now:          time.Now,
		issued:       make(map[string]time.Time),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *TokenHandler) Routes() []string {
	return []string{"/oauth/token"}
}

// ServeHTTP accepts client credentials as HTTP basic auth or form fields.
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if !h.validClient(id, secret) {
		w.Header().Set("WWW-Authenticate", `Basic realm="tapedeck"`)
		writeError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	token := h.issue()
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, token)
}

func (h *TokenHandler) validClient(id, secret string) bool {
	idOK := subtle.ConstantTimeCompare([]byte(id), []byte(h.clientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(h.clientSecret)) == 1
	return idOK && secretOK
}

func (h *TokenHandler) issue() *oauth2.Token {
	now := h.now()
	expiry := now.Add(h.ttl)
	access := shared.GenerateID()

	h.mu.Lock()
	defer h.mu.Unlock()
	for t, exp := range h.issued {
		if !now.Before(exp) {
			delete(h.issued, t)
		}
	}
	h.issued[access] = expiry

	return &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      expiry,
		ExpiresIn:   int64(h.ttl / time.Second),
	}
}

// Valid reports whether access was issued and has not expired.
func (h *TokenHandler) Valid(access string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	exp, ok := h.issued[access]
	return ok && h.now().Before(exp)
}

// RequireBearer rejects requests without a bearer token that tokens considers valid.
func RequireBearer(tokens *TokenHandler) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			scheme, access, found := strings.Cut(auth, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || !tokens.Valid(strings.TrimSpace(access)) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tapedeck"`)
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
