package in

import (
	"context"
	"io"

	"github.com/coreforge/registry/internal/domain"
)

// RegistryService is the orchestration contract the HTTP adapter drives:
// it composes ContentGraph and RepositoryEngine into the transactions the
// Distribution v2 wire protocol needs.
type RegistryService interface {
	GetManifest(ctx context.Context, repository, reference string) (*domain.Manifest, error)
	PutManifest(ctx context.Context, repository, reference string, contentType string, data []byte) (digest string, err error)
	DeleteManifest(ctx context.Context, repository, reference string) error

	GetBlob(ctx context.Context, digest string) (io.ReadCloser, int64, error)
	BlobExists(ctx context.Context, digest string) (bool, error)
	MountBlob(ctx context.Context, fromRepository, toRepository, digest string) error

	StartUpload(ctx context.Context, repository string) (uuid string, err error)
	PatchUpload(ctx context.Context, uuid string, atOffset int64, data io.Reader) (newOffset int64, err error)
	FinishUpload(ctx context.Context, uuid string, digest string, finalChunk io.Reader) (size int64, err error)
	CancelUpload(ctx context.Context, uuid string) error
	UploadStatus(ctx context.Context, uuid string) (domain.Upload, error)

	ListTags(ctx context.Context, repository string, limit int, last string) ([]string, error)
	// ListRepositories lists repository names, filtered to those the caller's
	// scopes grant pull access to. scopes is the bearer token's full granted
	// access list; a nil scopes means unrestricted (internal/CLI callers).
	ListRepositories(ctx context.Context, scopes []domain.Scope, limit int, last string) ([]string, error)

	PutSignature(ctx context.Context, repository, manifestDigest string, kind domain.SignatureKind, data []byte) error
	ListSignatures(ctx context.Context, repository, manifestDigest string) ([]domain.Signature, error)
}
