package out

import (
	"context"

	"github.com/coreforge/registry/internal/domain"
)

// RelationalStore persists the RepositoryEngine's relational records:
// Namespace, Distribution, Remote, Repository, RepositoryVersion, Tag, and
// Upload. Implementations back this with a real SQL engine so uniqueness
// and foreign-key constraints are enforced by the database, not by the
// usecase layer.
type RelationalStore interface {
	CreateNamespace(ctx context.Context, ns domain.Namespace) error
	GetNamespace(ctx context.Context, name string) (domain.Namespace, error)

	CreateRepository(ctx context.Context, repo domain.Repository) error
	GetRepository(ctx context.Context, name string) (domain.Repository, error)
	GetRepositoryByID(ctx context.Context, id string) (domain.Repository, error)
	ListRepositories(ctx context.Context, namespace string, limit int, last string) ([]domain.Repository, error)

	// CreateVersion inserts the next RepositoryVersion for a repository and
	// bumps Repository.LatestVersion atomically, returning the new version
	// number. expectedPrev must match the repository's current
	// LatestVersion or ErrVersionConflict is returned (optimistic
	// concurrency, retried by the usecase layer).
	CreateVersion(ctx context.Context, repositoryID string, expectedPrev int64) (int64, error)
	GetVersion(ctx context.Context, repositoryID string, number int64) (domain.RepositoryVersion, error)
	ListVersionContent(ctx context.Context, repositoryID string, number int64) ([]string, error)
	PutVersionContent(ctx context.Context, repositoryID string, number int64, digests []string) error

	PutTag(ctx context.Context, tag domain.Tag) error
	GetTag(ctx context.Context, repositoryID string, version int64, name string) (domain.Tag, error)
	DeleteTag(ctx context.Context, repositoryID string, version int64, name string) error
	ListTags(ctx context.Context, repositoryID string, version int64) ([]domain.Tag, error)

	CreateDistribution(ctx context.Context, d domain.Distribution) error
	GetDistribution(ctx context.Context, basePath string) (domain.Distribution, error)

	CreateRemote(ctx context.Context, r domain.Remote) error
	GetRemote(ctx context.Context, name string) (domain.Remote, error)
	ListRemotes(ctx context.Context) ([]domain.Remote, error)

	PutUpload(ctx context.Context, u domain.Upload) error
	GetUpload(ctx context.Context, uuid string) (domain.Upload, error)
	DeleteUpload(ctx context.Context, uuid string) error
}
