package out

import (
	"context"

	"github.com/coreforge/registry/internal/domain"
)

// GraphStore is the digest-keyed metadata store backing ContentGraph:
// Blob, Manifest, and Signature rows, addressed by their own digest. It
// never interprets content; ContentGraph owns all graph-traversal logic.
type GraphStore interface {
	PutBlob(ctx context.Context, b domain.Blob) error
	GetBlob(ctx context.Context, digest string) (domain.Blob, error)
	DeleteBlob(ctx context.Context, digest string) error
	IncBlobRefCount(ctx context.Context, digest string, delta int) (int, error)

	PutManifest(ctx context.Context, m domain.Manifest) error
	GetManifest(ctx context.Context, digest string) (domain.Manifest, error)
	DeleteManifest(ctx context.Context, digest string) error

	PutSignature(ctx context.Context, s domain.Signature) error
	ListSignatures(ctx context.Context, manifestDigest string) ([]domain.Signature, error)

	PutCharacteristics(ctx context.Context, manifestDigest string, c domain.Characteristics) error
	GetCharacteristics(ctx context.Context, manifestDigest string) (domain.Characteristics, error)
}
