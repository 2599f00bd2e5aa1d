package out

import (
	"context"

	"github.com/coreforge/registry/internal/domain"
)

// TokenStore tracks issued bearer tokens for revocation bookkeeping. It
// never stores the signing key; that lives in SignerKeySource.
type TokenStore interface {
	SaveIssued(ctx context.Context, token domain.IssuedToken) error
	GetIssued(ctx context.Context, jti string) (domain.IssuedToken, error)
	Revoke(ctx context.Context, jti string) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	ListIssued(ctx context.Context, subject string) ([]domain.IssuedToken, error)
}
