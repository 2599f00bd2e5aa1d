package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreforge/registry/internal/domain"
)

type stubTokenService struct {
	claims *domain.TokenClaims
	err    error
}

func (s *stubTokenService) Authenticate(ctx context.Context, username, password string) (string, error) {
	return "", nil
}

func (s *stubTokenService) Authorize(ctx context.Context, subject string, requested []domain.Scope, ttl time.Duration) (string, []domain.Scope, error) {
	return "", nil, nil
}

func (s *stubTokenService) Verify(ctx context.Context, jwt string) (*domain.TokenClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func (s *stubTokenService) Revoke(ctx context.Context, jti string) error { return nil }

func TestRegistryAuth(t *testing.T) {
	log := testLogger()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	pullScope := domain.Scope{Type: domain.ScopeTypeRepository, Name: "library/nginx", Actions: []string{domain.ScopeActionPull}}
	pushScope := domain.Scope{Type: domain.ScopeTypeRepository, Name: "library/nginx", Actions: []string{domain.ScopeActionPush}}
	allScope := domain.Scope{Type: domain.ScopeTypeRepository, Name: "*", Actions: []string{domain.ScopeActionAll}}
	catalogScope := domain.Scope{Type: domain.ScopeTypeRegistry, Name: "catalog", Actions: []string{domain.ScopeActionPull}}

	tests := []struct {
		name       string
		method     string
		path       string
		authHeader string
		tokenSvc   *stubTokenService
		wantStatus int
	}{
		{
			name:       "base endpoint is unauthenticated",
			method:     http.MethodGet,
			path:       "/v2/",
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing bearer token is unauthorized",
			method:     http.MethodGet,
			path:       "/v2/library/nginx/manifests/latest",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token is unauthorized",
			method:     http.MethodGet,
			path:       "/v2/library/nginx/manifests/latest",
			authHeader: "Bearer bogus",
			tokenSvc:   &stubTokenService{err: assert.AnError},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "pull scope grants GET manifest",
			method:     http.MethodGet,
			path:       "/v2/library/nginx/manifests/latest",
			authHeader: "Bearer valid",
			tokenSvc:   &stubTokenService{claims: &domain.TokenClaims{Subject: "alice", Access: []domain.Scope{pullScope}}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "pull scope does not grant PUT manifest",
			method:     http.MethodPut,
			path:       "/v2/library/nginx/manifests/latest",
			authHeader: "Bearer valid",
			tokenSvc:   &stubTokenService{claims: &domain.TokenClaims{Subject: "alice", Access: []domain.Scope{pullScope}}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "push scope grants PUT manifest",
			method:     http.MethodPut,
			path:       "/v2/library/nginx/manifests/latest",
			authHeader: "Bearer valid",
			tokenSvc:   &stubTokenService{claims: &domain.TokenClaims{Subject: "alice", Access: []domain.Scope{pushScope}}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "wildcard action scope grants DELETE",
			method:     http.MethodDelete,
			path:       "/v2/library/nginx/manifests/latest",
			authHeader: "Bearer valid",
			tokenSvc:   &stubTokenService{claims: &domain.TokenClaims{Subject: "alice", Access: []domain.Scope{allScope}}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "push-only scope does not grant DELETE",
			method:     http.MethodDelete,
			path:       "/v2/library/nginx/manifests/latest",
			authHeader: "Bearer valid",
			tokenSvc:   &stubTokenService{claims: &domain.TokenClaims{Subject: "alice", Access: []domain.Scope{pushScope}}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "catalog scope grants _catalog",
			method:     http.MethodGet,
			path:       "/v2/_catalog",
			authHeader: "Bearer valid",
			tokenSvc:   &stubTokenService{claims: &domain.TokenClaims{Subject: "alice", Access: []domain.Scope{catalogScope}}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "repository scope does not grant _catalog",
			method:     http.MethodGet,
			path:       "/v2/_catalog",
			authHeader: "Bearer valid",
			tokenSvc:   &stubTokenService{claims: &domain.TokenClaims{Subject: "alice", Access: []domain.Scope{allScope}}},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokenSvc *stubTokenService
			if tt.tokenSvc != nil {
				tokenSvc = tt.tokenSvc
			} else {
				tokenSvc = &stubTokenService{}
			}

			handler := RegistryAuth(tokenSvc, "https://token.example.com/token", "registry", log)(ok)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				require.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
