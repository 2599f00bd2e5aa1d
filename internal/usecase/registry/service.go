// Package registry composes ContentGraph and RepositoryEngine into the
// transactions the Distribution v2 wire protocol handler drives, following
// the zerowrap usecase idiom the rest of the usecase layer uses.
package registry

import (
	"context"
	"io"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/boundaries/out"
	"github.com/coreforge/registry/internal/domain"
	"github.com/coreforge/registry/internal/usecase/contentgraph"
	"github.com/coreforge/registry/internal/usecase/repoengine"
)

// Service implements in.RegistryService.
type Service struct {
	content    *contentgraph.Service
	repos      *repoengine.Service
	relational out.RelationalStore
	eventBus   out.EventPublisher
}

// New creates a registry orchestration service.
func New(content *contentgraph.Service, repos *repoengine.Service, relational out.RelationalStore, eventBus out.EventPublisher) *Service {
	return &Service{content: content, repos: repos, relational: relational, eventBus: eventBus}
}

func usecaseCtx(ctx context.Context, name string, fields map[string]any) (context.Context, zerowrap.Logger) {
	merged := map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: name,
	}
	for k, v := range fields {
		merged[k] = v
	}
	ctx = zerowrap.CtxWithFields(ctx, merged)
	return ctx, zerowrap.FromCtx(ctx)
}

func isDigestReference(reference string) bool {
	return strings.Contains(reference, ":")
}

// resolveDigest resolves a tag-or-digest reference within repository's
// latest version to a manifest digest.
func (s *Service) resolveDigest(ctx context.Context, repo domain.Repository, reference string) (string, error) {
	if isDigestReference(reference) {
		return reference, nil
	}
	tag, err := s.relational.GetTag(ctx, repo.ID, repo.LatestVersion, reference)
	if err != nil {
		return "", err
	}
	return tag.ManifestDigest, nil
}

// GetManifest resolves reference (a tag name or digest) within repository
// and returns its manifest node.
func (s *Service) GetManifest(ctx context.Context, repository, reference string) (*domain.Manifest, error) {
	_, log := usecaseCtx(ctx, "GetManifest", map[string]any{"repository": repository, "reference": reference})

	repo, err := s.repos.GetRepository(ctx, repository)
	if err != nil {
		return nil, log.WrapErr(err, "look up repository")
	}
	digest, err := s.resolveDigest(ctx, repo, reference)
	if err != nil {
		return nil, log.WrapErr(err, "resolve reference")
	}
	m, err := s.content.GetManifest(ctx, digest)
	if err != nil {
		return nil, log.WrapErr(err, "look up manifest")
	}
	return &m, nil
}

// PutManifest stores data under the Distribution v2 manifest PUT semantics:
// parse and persist the manifest node, then recursively add its closure to
// the repository's latest version, tagging it if reference is not itself a
// digest.
func (s *Service) PutManifest(ctx context.Context, repository, reference, contentType string, data []byte) (string, error) {
	_, log := usecaseCtx(ctx, "PutManifest", map[string]any{"repository": repository, "reference": reference})

	repo, err := s.repos.GetRepository(ctx, repository)
	if err != nil {
		return "", log.WrapErr(err, "look up repository")
	}

	m, err := s.content.PutManifest(ctx, data, contentType)
	if err != nil {
		return "", err
	}

	if isDigestReference(reference) {
		if _, err := s.repos.AddManifest(ctx, repo.ID, repo.LatestVersion, m.Digest); err != nil {
			return "", log.WrapErr(err, "add manifest to repository version")
		}
		return m.Digest, nil
	}

	if _, err := s.repos.AddTag(ctx, repo.ID, repo.LatestVersion, reference, m.Digest); err != nil {
		return "", log.WrapErr(err, "tag manifest")
	}
	return m.Digest, nil
}

// DeleteManifest removes reference from repository: every tag pointing at
// its resolved digest is untagged first, then the digest's own closure is
// dropped from the version if nothing else still reaches it.
func (s *Service) DeleteManifest(ctx context.Context, repository, reference string) error {
	_, log := usecaseCtx(ctx, "DeleteManifest", map[string]any{"repository": repository, "reference": reference})

	repo, err := s.repos.GetRepository(ctx, repository)
	if err != nil {
		return log.WrapErr(err, "look up repository")
	}
	digest, err := s.resolveDigest(ctx, repo, reference)
	if err != nil {
		return log.WrapErr(err, "resolve reference")
	}

	version := repo.LatestVersion
	tags, err := s.relational.ListTags(ctx, repo.ID, version)
	if err != nil {
		return log.WrapErr(err, "list tags")
	}
	for _, t := range tags {
		if t.ManifestDigest != digest {
			continue
		}
		version, err = s.repos.RemoveTag(ctx, repo.ID, version, t.Name)
		if err != nil {
			return log.WrapErr(err, "untag manifest")
		}
	}

	if _, err := s.repos.RemoveManifest(ctx, repo.ID, version, digest); err != nil {
		return log.WrapErr(err, "remove manifest from repository version")
	}
	return s.content.DeleteManifest(ctx, digest)
}

// GetBlob opens a reader for digest's content.
func (s *Service) GetBlob(ctx context.Context, digest string) (io.ReadCloser, int64, error) {
	return s.content.GetBlob(ctx, digest)
}

// BlobExists reports whether digest is known.
func (s *Service) BlobExists(ctx context.Context, digest string) (bool, error) {
	return s.content.BlobExists(ctx, digest)
}

// MountBlob cross-mounts digest from one repository's closure into
// another's without re-uploading it, implementing the Distribution v2
// cross-repository blob mount: the blob already exists content-addressed,
// so only the destination repository's content set needs the digest added.
func (s *Service) MountBlob(ctx context.Context, fromRepository, toRepository, digest string) error {
	_, log := usecaseCtx(ctx, "MountBlob", map[string]any{"from": fromRepository, "to": toRepository, "digest": digest})

	exists, err := s.content.BlobExists(ctx, digest)
	if err != nil {
		return log.WrapErr(err, "check blob existence")
	}
	if !exists {
		return domain.ErrNotFound
	}

	toRepo, err := s.repos.GetRepository(ctx, toRepository)
	if err != nil {
		return log.WrapErr(err, "look up destination repository")
	}
	if _, err := s.repos.AddManifest(ctx, toRepo.ID, toRepo.LatestVersion, digest); err != nil {
		return log.WrapErr(err, "add mounted blob to destination repository")
	}
	return nil
}

// StartUpload begins a chunked upload session. The repository is not
// recorded with the session.
func (s *Service) StartUpload(ctx context.Context, repository string) (string, error) {
	return s.content.StartUpload(ctx)
}

// PatchUpload appends data to an in-progress upload.
func (s *Service) PatchUpload(ctx context.Context, uuid string, atOffset int64, data io.Reader) (int64, error) {
	return s.content.WriteChunk(ctx, uuid, atOffset, data)
}

// FinishUpload completes an upload and records its resulting Blob node.
func (s *Service) FinishUpload(ctx context.Context, uuid, digest string, finalChunk io.Reader) (int64, error) {
	_, log := usecaseCtx(ctx, "FinishUpload", map[string]any{"upload_id": uuid, "digest": digest})

	if finalChunk != nil {
		offset, err := s.content.UploadSize(ctx, uuid)
		if err != nil {
			return 0, log.WrapErr(err, "read upload offset")
		}
		if _, err := s.content.WriteChunk(ctx, uuid, offset, finalChunk); err != nil {
			return 0, log.WrapErr(err, "write final chunk")
		}
	}

	b, err := s.content.FinishUpload(ctx, uuid, digest, "application/octet-stream")
	if err != nil {
		return 0, err
	}
	return b.Size, nil
}

// CancelUpload discards an in-progress upload.
func (s *Service) CancelUpload(ctx context.Context, uuid string) error {
	return s.content.CancelUpload(ctx, uuid)
}

// UploadStatus is not separately tracked by ContentGraph's object store; it
// reports the current staged size as the offset for a resumable client.
func (s *Service) UploadStatus(ctx context.Context, uuid string) (domain.Upload, error) {
	offset, err := s.content.UploadSize(ctx, uuid)
	if err != nil {
		return domain.Upload{}, err
	}
	return domain.Upload{UUID: uuid, Offset: offset}, nil
}

// ListTags lists tags in repository's latest version.
func (s *Service) ListTags(ctx context.Context, repository string, limit int, last string) ([]string, error) {
	repo, err := s.repos.GetRepository(ctx, repository)
	if err != nil {
		return nil, err
	}
	tags, err := s.relational.ListTags(ctx, repo.ID, repo.LatestVersion)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tags))
	for _, t := range tags {
		if last != "" && t.Name <= last {
			continue
		}
		names = append(names, t.Name)
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

// ListRepositories lists repository names across all namespaces,
// implementing the catalog endpoint. When scopes is non-nil, a repository
// is only included if at least one scope grants it pull access, per the
// catalog scope enforcement rule: a registry:catalog:* token must still
// carry pull permissions to each namespace it reports.
func (s *Service) ListRepositories(ctx context.Context, scopes []domain.Scope, limit int, last string) ([]string, error) {
	// Over-fetch before the caller-visible limit is applied, since scope
	// filtering below may drop repositories the caller cannot see.
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit * 4
	}
	repos, err := s.repos.ListRepositories(ctx, "", fetchLimit, last)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(repos))
	for _, r := range repos {
		if scopes != nil && !scopeGrantsPull(scopes, r.Name) {
			continue
		}
		names = append(names, r.Name)
		if limit > 0 && len(names) == limit {
			break
		}
	}
	return names, nil
}

func scopeGrantsPull(scopes []domain.Scope, repository string) bool {
	for i := range scopes {
		if scopes[i].CanAccess(repository, domain.ScopeActionPull) {
			return true
		}
	}
	return false
}

// PutSignature attaches a detached signature to manifestDigest.
func (s *Service) PutSignature(ctx context.Context, repository, manifestDigest string, kind domain.SignatureKind, data []byte) error {
	_, err := s.content.PutSignature(ctx, manifestDigest, kind, data)
	return err
}

// ListSignatures returns every signature recorded against manifestDigest.
func (s *Service) ListSignatures(ctx context.Context, repository, manifestDigest string) ([]domain.Signature, error) {
	return s.content.ListSignatures(ctx, manifestDigest)
}
