package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreforge/registry/internal/domain"
)

type stubTokenService struct {
	subject        string
	authenticateErr error
	granted        []domain.Scope
	jwt            string
	authorizeErr   error
}

func (s *stubTokenService) Authenticate(ctx context.Context, username, password string) (string, error) {
	if s.authenticateErr != nil {
		return "", s.authenticateErr
	}
	return s.subject, nil
}

func (s *stubTokenService) Authorize(ctx context.Context, subject string, requested []domain.Scope, ttl time.Duration) (string, []domain.Scope, error) {
	if s.authorizeErr != nil {
		return "", nil, s.authorizeErr
	}
	if s.granted != nil {
		return s.jwt, s.granted, nil
	}
	return s.jwt, requested, nil
}

func (s *stubTokenService) Verify(ctx context.Context, jwt string) (*domain.TokenClaims, error) {
	return nil, nil
}

func (s *stubTokenService) Revoke(ctx context.Context, jti string) error { return nil }

func testLogger() zerowrap.Logger {
	return zerowrap.New(zerowrap.Config{Level: "error", Format: "console"})
}

func TestHandlePassword(t *testing.T) {
	t.Run("valid credentials return a long-lived token", func(t *testing.T) {
		tokenSvc := &stubTokenService{subject: "alice", jwt: "signed-jwt"}
		h := NewHandler(tokenSvc, testLogger())

		body, _ := json.Marshal(PasswordRequest{Username: "alice", Password: "secret"})
		req := httptest.NewRequest(http.MethodPost, "/auth/password", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp PasswordResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "signed-jwt", resp.Token)
		assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), resp.ExpiresIn)
	})

	t.Run("invalid credentials are unauthorized", func(t *testing.T) {
		tokenSvc := &stubTokenService{authenticateErr: assert.AnError}
		h := NewHandler(tokenSvc, testLogger())

		body, _ := json.Marshal(PasswordRequest{Username: "alice", Password: "wrong"})
		req := httptest.NewRequest(http.MethodPost, "/auth/password", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("missing username or password is a bad request", func(t *testing.T) {
		tokenSvc := &stubTokenService{}
		h := NewHandler(tokenSvc, testLogger())

		body, _ := json.Marshal(PasswordRequest{Username: "alice"})
		req := httptest.NewRequest(http.MethodPost, "/auth/password", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("non-POST method is rejected", func(t *testing.T) {
		tokenSvc := &stubTokenService{}
		h := NewHandler(tokenSvc, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/auth/password", nil)
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestHandleToken(t *testing.T) {
	t.Run("anonymous request returns an empty token", func(t *testing.T) {
		tokenSvc := &stubTokenService{}
		h := NewHandler(tokenSvc, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Token     string `json:"token"`
			ExpiresIn int    `json:"expires_in"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Empty(t, resp.Token)
	})

	t.Run("basic auth with default scope issues a pull token", func(t *testing.T) {
		tokenSvc := &stubTokenService{subject: "alice", jwt: "signed-jwt"}
		h := NewHandler(tokenSvc, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:secret")))
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Token     string `json:"token"`
			ExpiresIn int    `json:"expires_in"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "signed-jwt", resp.Token)
		assert.Equal(t, 300, resp.ExpiresIn)
	})

	t.Run("invalid basic auth credentials are unauthorized", func(t *testing.T) {
		tokenSvc := &stubTokenService{authenticateErr: assert.AnError}
		h := NewHandler(tokenSvc, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:wrong")))
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown path returns 404", func(t *testing.T) {
		tokenSvc := &stubTokenService{}
		h := NewHandler(tokenSvc, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/auth/nope", nil)
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestParseRequestedScopes(t *testing.T) {
	h := NewHandler(&stubTokenService{}, testLogger())

	t.Run("no scope query param defaults to pull everything", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
		scopes := h.parseRequestedScopes(req, testLogger())
		require.Len(t, scopes, 1)
		assert.Equal(t, domain.ScopeActionPull, scopes[0].Actions[0])
	})

	t.Run("valid scope query param is parsed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/token?scope=repository:library/nginx:pull,push", nil)
		scopes := h.parseRequestedScopes(req, testLogger())
		require.Len(t, scopes, 1)
		assert.Equal(t, "library/nginx", scopes[0].Name)
		assert.Equal(t, []string{"pull", "push"}, scopes[0].Actions)
	})

	t.Run("invalid scope falls back to default", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/token?scope=not-a-scope", nil)
		scopes := h.parseRequestedScopes(req, testLogger())
		require.Len(t, scopes, 1)
		assert.Equal(t, "*", scopes[0].Name)
	})
}
