package in

import (
	"context"
	"time"

	"github.com/coreforge/registry/internal/domain"
)

// TokenService implements the bearer-token authorization service: it
// authenticates basic credentials, authorizes a set of requested scopes
// against the caller's namespace roles, and signs the resulting bearer
// token.
type TokenService interface {
	Authenticate(ctx context.Context, username, password string) (subject string, err error)

	// Authorize narrows requestedScopes down to what subject's namespace
	// roles actually grant and signs a bearer token for the result.
	Authorize(ctx context.Context, subject string, requestedScopes []domain.Scope, ttl time.Duration) (jwt string, granted []domain.Scope, err error)

	Verify(ctx context.Context, jwt string) (*domain.TokenClaims, error)

	Revoke(ctx context.Context, jti string) error
}
