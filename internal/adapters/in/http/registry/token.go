package registry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/boundaries/in"
	"github.com/coreforge/registry/internal/domain"
)

// defaultTokenTTL is how long an issued bearer token remains valid.
const defaultTokenTTL = 5 * time.Minute

// TokenResponse represents the response from the token server, following
// the Docker Registry v2 bearer token specification.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in,omitempty"`
	IssuedAt  string `json:"issued_at,omitempty"`
}

// TokenHandler implements the Docker Registry v2 token server endpoint: it
// authenticates Basic Auth credentials and issues a bearer token scoped to
// whatever subset of the requested scopes the caller's namespace roles
// actually grant.
type TokenHandler struct {
	tokenSvc in.TokenService
	log      zerowrap.Logger
}

// NewTokenHandler creates a new token handler.
func NewTokenHandler(tokenSvc in.TokenService, log zerowrap.Logger) *TokenHandler {
	return &TokenHandler{tokenSvc: tokenSvc, log: log}
}

// ServeHTTP implements http.Handler for the token endpoint.
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := zerowrap.CtxWithFields(r.Context(), map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "http",
		zerowrap.FieldHandler: "token",
		zerowrap.FieldMethod:  r.Method,
		zerowrap.FieldPath:    r.URL.Path,
	})
	r = r.WithContext(ctx)
	log := zerowrap.FromCtx(ctx)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		h.sendAnonymousToken(w, log)
		return
	}

	subject, err := h.tokenSvc.Authenticate(ctx, username, password)
	if err != nil {
		log.Debug().Err(err).Str("username", username).Msg("token request authentication failed")
		w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	requested := h.parseRequestedScopes(r, log)
	signed, granted, err := h.tokenSvc.Authorize(ctx, subject, requested, defaultTokenTTL)
	if err != nil {
		log.Error().Err(err).Msg("failed to authorize requested scopes")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	response := TokenResponse{
		Token:     signed,
		ExpiresIn: int(defaultTokenTTL.Seconds()),
		IssuedAt:  time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode token response")
	}

	log.Debug().
		Str("subject", subject).
		Int("granted_scopes", len(granted)).
		Msg("access token issued")
}

// sendAnonymousToken issues an empty token with a 60-second expires_in for
// a request with no credentials, matching the Docker v2 auth spec's
// anonymous-access convention.
func (h *TokenHandler) sendAnonymousToken(w http.ResponseWriter, log zerowrap.Logger) {
	response := TokenResponse{ExpiresIn: 60, IssuedAt: time.Now().Format(time.RFC3339)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode anonymous token response")
	}
	log.Debug().Msg("anonymous token issued")
}

// parseRequestedScopes extracts and validates scope parameters from the
// request. Per the Docker Registry v2 auth spec, scope format is
// type:name:actions, and may repeat: ?scope=repository:a:pull&scope=repository:b:push
func (h *TokenHandler) parseRequestedScopes(r *http.Request, log zerowrap.Logger) []domain.Scope {
	scopeParams := r.URL.Query()["scope"]
	if len(scopeParams) == 0 {
		return nil
	}

	scopes := make([]domain.Scope, 0, len(scopeParams))
	for _, raw := range scopeParams {
		scope, err := domain.ParseScope(raw)
		if err != nil {
			log.Debug().Err(err).Str("scope", raw).Msg("invalid scope format, skipping")
			continue
		}
		scopes = append(scopes, *scope)
	}
	return scopes
}
