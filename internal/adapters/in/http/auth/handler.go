// Package auth implements the HTTP adapter for authentication endpoints.
package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/adapters/dto"
	"github.com/coreforge/registry/internal/boundaries/in"
	"github.com/coreforge/registry/internal/domain"
)

// longLivedTokenTTL is how long a token issued via POST /auth/password stays
// valid, for use cases (CI credentials, scripted pushes) where a caller
// cannot repeat the Docker v2 challenge/token dance on every request.
const longLivedTokenTTL = 7 * 24 * time.Hour

// Handler handles authentication requests at /auth/*.
type Handler struct {
	tokenSvc in.TokenService
	log      zerowrap.Logger
}

// NewHandler creates a new auth handler.
func NewHandler(tokenSvc in.TokenService, log zerowrap.Logger) *Handler {
	return &Handler{tokenSvc: tokenSvc, log: log}
}

// PasswordRequest represents the request body for POST /auth/password.
type PasswordRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PasswordResponse represents the response from POST /auth/password.
type PasswordResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	IssuedAt  string `json:"issued_at"`
}

// ServeHTTP routes requests to the appropriate handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/auth"), "/")

	switch path {
	case "/password":
		h.handlePassword(w, r)
	case "/token":
		h.handleToken(w, r)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "not found"})
	}
}

// handlePassword handles POST /auth/password requests: it validates
// username/password and returns a long-lived JWT with every action the
// caller's namespace roles grant, for callers that cannot repeat the
// token-challenge dance on every request.
func (h *Handler) handlePassword(w http.ResponseWriter, r *http.Request) {
	ctx := zerowrap.CtxWithFields(r.Context(), map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "http",
		zerowrap.FieldHandler: "auth",
		zerowrap.FieldMethod:  r.Method,
		zerowrap.FieldPath:    r.URL.Path,
	})
	log := zerowrap.FromCtx(ctx)

	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "method not allowed"})
		return
	}

	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.Username == "" || req.Password == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "username and password are required"})
		return
	}

	subject, err := h.tokenSvc.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		log.Debug().Err(err).Str("username", req.Username).Msg("password authentication failed")
		w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "invalid credentials"})
		return
	}

	requested := []domain.Scope{{Type: domain.ScopeTypeRepository, Name: "*", Actions: []string{domain.ScopeActionAll}}}
	token, granted, err := h.tokenSvc.Authorize(ctx, subject, requested, longLivedTokenTTL)
	if err != nil {
		log.Error().Err(err).Msg("failed to authorize long-lived token")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "failed to generate token"})
		return
	}

	response := PasswordResponse{
		Token:     token,
		ExpiresIn: int(longLivedTokenTTL.Seconds()),
		IssuedAt:  time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode password response")
	}

	log.Debug().
		Str("username", req.Username).
		Int("granted_scopes", len(granted)).
		Int("expires_in", response.ExpiresIn).
		Msg("long-lived token issued via password auth")
}

// handleToken handles GET /auth/token requests, the Docker Registry v2
// token server endpoint, issuing short-lived scoped access tokens.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := zerowrap.CtxWithFields(r.Context(), map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "http",
		zerowrap.FieldHandler: "auth",
		zerowrap.FieldMethod:  r.Method,
		zerowrap.FieldPath:    r.URL.Path,
	})
	log := zerowrap.FromCtx(ctx)

	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "method not allowed"})
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
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "unauthorized"})
		return
	}

	requestedScopes := h.parseRequestedScopes(r, log)
	accessToken, granted, err := h.tokenSvc.Authorize(ctx, subject, requestedScopes, 5*time.Minute)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate access token")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "internal server error"})
		return
	}

	response := dto.TokenResponse{
		Token:     accessToken,
		ExpiresIn: 300,
		IssuedAt:  time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode token response")
	}

	log.Debug().
		Str("username", username).
		Int("granted_scopes", len(granted)).
		Int("expires_in", response.ExpiresIn).
		Msg("access token issued")
}

// sendAnonymousToken sends a token for anonymous/unauthenticated access.
func (h *Handler) sendAnonymousToken(w http.ResponseWriter, log zerowrap.Logger) {
	response := dto.TokenResponse{
		Token:     "",
		ExpiresIn: 60,
		IssuedAt:  time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode anonymous token response")
	}

	log.Debug().Msg("anonymous token issued")
}

// parseRequestedScopes extracts and validates scope parameters from the
// request. Per Docker Registry v2 auth spec, scope format is
// type:name:actions, and may repeat across query params.
func (h *Handler) parseRequestedScopes(r *http.Request, log zerowrap.Logger) []domain.Scope {
	scopeParams := r.URL.Query()["scope"]
	if len(scopeParams) == 0 {
		log.Debug().Msg("no scope requested, using default pull scope")
		return []domain.Scope{{Type: domain.ScopeTypeRepository, Name: "*", Actions: []string{domain.ScopeActionPull}}}
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

	if len(scopes) == 0 {
		log.Debug().Msg("all requested scopes invalid, using default pull scope")
		return []domain.Scope{{Type: domain.ScopeTypeRepository, Name: "*", Actions: []string{domain.ScopeActionPull}}}
	}

	return scopes
}
