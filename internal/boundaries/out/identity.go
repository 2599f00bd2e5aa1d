package out

import (
	"context"

	"github.com/coreforge/registry/internal/domain"
)

// CredentialStore verifies basic-auth credentials presented to the token
// endpoint and resolves them to a subject identity.
type CredentialStore interface {
	Authenticate(ctx context.Context, username, password string) (subject string, err error)
}

// RoleStore resolves the NamespaceRole a subject holds over a namespace,
// used to narrow requested scopes down to what the subject may actually be
// granted.
type RoleStore interface {
	GetRole(ctx context.Context, subject, namespace string) (domain.NamespaceRole, error)
}
