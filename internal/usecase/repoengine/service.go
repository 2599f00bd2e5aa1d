// Package repoengine implements immutable RepositoryVersions and their
// recursive add/remove closures over the content graph, following the same
// zerowrap usecase idiom contentgraph uses.
package repoengine

import (
	"context"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"

	"github.com/coreforge/registry/internal/boundaries/out"
	"github.com/coreforge/registry/internal/domain"
)

// Service implements repository, version, and tag lifecycle operations.
type Service struct {
	relational out.RelationalStore
	graph      out.GraphStore
	eventBus   out.EventPublisher
}

// New creates a RepositoryEngine service.
func New(relational out.RelationalStore, graph out.GraphStore, eventBus out.EventPublisher) *Service {
	return &Service{relational: relational, graph: graph, eventBus: eventBus}
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

// CreateNamespace registers a namespace, implicitly used when a namespace
// equals the requesting user's own name.
func (s *Service) CreateNamespace(ctx context.Context, name, description string) (domain.Namespace, error) {
	if !domain.ValidNamespaceName(name) {
		return domain.Namespace{}, domain.NewRegistryError(domain.CodeNameInvalid, "invalid namespace name", nil)
	}
	ns := domain.Namespace{Name: name, Description: description, CreatedAt: time.Now()}
	if err := s.relational.CreateNamespace(ctx, ns); err != nil {
		return domain.Namespace{}, err
	}
	return ns, nil
}

// CreateRepository registers a repository at version 0 (the empty set).
func (s *Service) CreateRepository(ctx context.Context, namespaceName, name string) (domain.Repository, error) {
	if !domain.ValidRepositoryName(name) {
		return domain.Repository{}, domain.NewRegistryError(domain.CodeNameInvalid, "invalid repository name", nil)
	}
	repo := domain.Repository{
		ID:            uuid.NewString(),
		NamespaceName: namespaceName,
		Name:          name,
		LatestVersion: 0,
		CreatedAt:     time.Now(),
	}
	if err := s.relational.CreateRepository(ctx, repo); err != nil {
		return domain.Repository{}, err
	}
	return repo, nil
}

// GetRepository resolves a repository by its full name.
func (s *Service) GetRepository(ctx context.Context, name string) (domain.Repository, error) {
	return s.relational.GetRepository(ctx, name)
}

// ListRepositories paginates repositories within a namespace.
func (s *Service) ListRepositories(ctx context.Context, namespace string, limit int, last string) ([]domain.Repository, error) {
	return s.relational.ListRepositories(ctx, namespace, limit, last)
}

// closureOf walks digest's content-graph edges, returning digest plus every
// descendant: sub-manifests of an index, or the config/layer blobs of an
// image manifest. A digest with no manifest node is treated as a leaf blob.
func (s *Service) closureOf(ctx context.Context, digest string) ([]string, error) {
	seen := map[string]bool{digest: true}
	closure := []string{digest}

	queue := []string{digest}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		m, err := s.graph.GetManifest(ctx, d)
		if err != nil {
			continue // leaf blob, no further edges
		}
		for _, child := range m.Children {
			if seen[child] {
				continue
			}
			seen[child] = true
			closure = append(closure, child)
			queue = append(queue, child)
		}
	}
	return closure, nil
}

// AddTag performs the recursive_add closure for a Tag: adding a tag also
// adds its manifest and that manifest's full closure, replacing any
// existing tag of the same name in the new version (non-recursive removal
// of the old tag row only, per the repository version invariant).
func (s *Service) AddTag(ctx context.Context, repositoryID string, baseVersion int64, tagName, manifestDigest string) (int64, error) {
	_, log := usecaseCtx(ctx, "AddTag", map[string]any{
		"repository_id": repositoryID, "tag": tagName, "manifest_digest": manifestDigest,
	})

	closure, err := s.closureOf(ctx, manifestDigest)
	if err != nil {
		return 0, log.WrapErr(err, "compute manifest closure")
	}

	existing, err := s.relational.ListVersionContent(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "list base version content")
	}
	baseTags, err := s.relational.ListTags(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "list base version tags")
	}

	newVersion, err := s.createVersionWithRetry(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "create repository version")
	}

	content := unionDigests(existing, closure)
	if err := s.relational.PutVersionContent(ctx, repositoryID, newVersion, content); err != nil {
		return 0, log.WrapErr(err, "write version content")
	}
	for _, t := range baseTags {
		if t.Name == tagName {
			continue
		}
		if err := s.relational.PutTag(ctx, domain.Tag{
			Name: t.Name, ManifestDigest: t.ManifestDigest, RepositoryID: repositoryID, Version: newVersion,
		}); err != nil {
			return 0, log.WrapErr(err, "carry forward base tag")
		}
	}
	if err := s.relational.PutTag(ctx, domain.Tag{
		Name: tagName, ManifestDigest: manifestDigest, RepositoryID: repositoryID, Version: newVersion,
	}); err != nil {
		return 0, log.WrapErr(err, "write tag")
	}

	if s.eventBus != nil {
		_ = s.eventBus.Publish(domain.EventTagCreated, domain.Tag{Name: tagName, ManifestDigest: manifestDigest, RepositoryID: repositoryID, Version: newVersion})
	}
	log.Info().Int64("new_version", newVersion).Msg("tag added")
	return newVersion, nil
}

// RemoveTag performs the recursive_remove closure for a Tag: the tag's
// manifest closure is dropped from the new version's content set unless
// another surviving tag or manifest still reaches the same digests.
func (s *Service) RemoveTag(ctx context.Context, repositoryID string, baseVersion int64, tagName string) (int64, error) {
	_, log := usecaseCtx(ctx, "RemoveTag", map[string]any{"repository_id": repositoryID, "tag": tagName})

	tag, err := s.relational.GetTag(ctx, repositoryID, baseVersion, tagName)
	if err != nil {
		return 0, log.WrapErr(err, "look up tag")
	}

	removedClosure, err := s.closureOf(ctx, tag.ManifestDigest)
	if err != nil {
		return 0, log.WrapErr(err, "compute manifest closure")
	}

	remainingTags, err := s.relational.ListTags(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "list base version tags")
	}

	keep := map[string]bool{}
	for _, t := range remainingTags {
		if t.Name == tagName {
			continue
		}
		closure, err := s.closureOf(ctx, t.ManifestDigest)
		if err != nil {
			return 0, log.WrapErr(err, "compute surviving tag closure")
		}
		for _, d := range closure {
			keep[d] = true
		}
	}

	existing, err := s.relational.ListVersionContent(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "list base version content")
	}

	toRemove := map[string]bool{}
	for _, d := range removedClosure {
		if !keep[d] {
			toRemove[d] = true
		}
	}

	newVersion, err := s.createVersionWithRetry(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "create repository version")
	}

	content := make([]string, 0, len(existing))
	for _, d := range existing {
		if !toRemove[d] {
			content = append(content, d)
		}
	}
	if err := s.relational.PutVersionContent(ctx, repositoryID, newVersion, content); err != nil {
		return 0, log.WrapErr(err, "write version content")
	}

	for _, t := range remainingTags {
		if t.Name == tagName {
			continue
		}
		if err := s.relational.PutTag(ctx, domain.Tag{
			Name: t.Name, ManifestDigest: t.ManifestDigest, RepositoryID: repositoryID, Version: newVersion,
		}); err != nil {
			return 0, log.WrapErr(err, "carry forward surviving tag")
		}
	}

	if s.eventBus != nil {
		_ = s.eventBus.Publish(domain.EventTagDeleted, tag)
	}
	log.Info().Int64("new_version", newVersion).Msg("tag removed")
	return newVersion, nil
}

// AddManifest performs a recursive_add closure for a bare digest push with
// no tag name, used for the push-by-digest path where the client never
// names a tag.
func (s *Service) AddManifest(ctx context.Context, repositoryID string, baseVersion int64, manifestDigest string) (int64, error) {
	_, log := usecaseCtx(ctx, "AddManifest", map[string]any{"repository_id": repositoryID, "manifest_digest": manifestDigest})

	closure, err := s.closureOf(ctx, manifestDigest)
	if err != nil {
		return 0, log.WrapErr(err, "compute manifest closure")
	}
	existing, err := s.relational.ListVersionContent(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "list base version content")
	}
	baseTags, err := s.relational.ListTags(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "list base version tags")
	}

	newVersion, err := s.createVersionWithRetry(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "create repository version")
	}

	content := unionDigests(existing, closure)
	if err := s.relational.PutVersionContent(ctx, repositoryID, newVersion, content); err != nil {
		return 0, log.WrapErr(err, "write version content")
	}
	for _, t := range baseTags {
		if err := s.relational.PutTag(ctx, domain.Tag{
			Name: t.Name, ManifestDigest: t.ManifestDigest, RepositoryID: repositoryID, Version: newVersion,
		}); err != nil {
			return 0, log.WrapErr(err, "carry forward base tag")
		}
	}
	return newVersion, nil
}

// RemoveManifest performs the recursive_remove closure for a bare digest,
// dropping it from the new version's content set unless a surviving tag
// still reaches it.
func (s *Service) RemoveManifest(ctx context.Context, repositoryID string, baseVersion int64, manifestDigest string) (int64, error) {
	_, log := usecaseCtx(ctx, "RemoveManifest", map[string]any{"repository_id": repositoryID, "manifest_digest": manifestDigest})

	removedClosure, err := s.closureOf(ctx, manifestDigest)
	if err != nil {
		return 0, log.WrapErr(err, "compute manifest closure")
	}

	remainingTags, err := s.relational.ListTags(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "list base version tags")
	}
	keep := map[string]bool{}
	for _, t := range remainingTags {
		closure, err := s.closureOf(ctx, t.ManifestDigest)
		if err != nil {
			return 0, log.WrapErr(err, "compute surviving tag closure")
		}
		for _, d := range closure {
			keep[d] = true
		}
	}

	existing, err := s.relational.ListVersionContent(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "list base version content")
	}
	toRemove := map[string]bool{}
	for _, d := range removedClosure {
		if !keep[d] {
			toRemove[d] = true
		}
	}

	newVersion, err := s.createVersionWithRetry(ctx, repositoryID, baseVersion)
	if err != nil {
		return 0, log.WrapErr(err, "create repository version")
	}
	content := make([]string, 0, len(existing))
	for _, d := range existing {
		if !toRemove[d] {
			content = append(content, d)
		}
	}
	if err := s.relational.PutVersionContent(ctx, repositoryID, newVersion, content); err != nil {
		return 0, log.WrapErr(err, "write version content")
	}
	for _, t := range remainingTags {
		if err := s.relational.PutTag(ctx, domain.Tag{
			Name: t.Name, ManifestDigest: t.ManifestDigest, RepositoryID: repositoryID, Version: newVersion,
		}); err != nil {
			return 0, log.WrapErr(err, "carry forward surviving tag")
		}
	}
	return newVersion, nil
}

// CopyTags performs a recursive add of every named tag (or all tags when
// names is nil) from srcVersion into dstRepositoryID's latest version.
func (s *Service) CopyTags(ctx context.Context, srcRepositoryID string, srcVersion int64, dstRepositoryID string, names []string) (int64, error) {
	srcTags, err := s.relational.ListTags(ctx, srcRepositoryID, srcVersion)
	if err != nil {
		return 0, err
	}

	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}

	dstRepo, err := s.relational.GetRepositoryByID(ctx, dstRepositoryID)
	if err != nil {
		return 0, err
	}

	version := dstRepo.LatestVersion
	for _, t := range srcTags {
		if len(names) > 0 && !wanted[t.Name] {
			continue
		}
		version, err = s.AddTag(ctx, dstRepositoryID, version, t.Name, t.ManifestDigest)
		if err != nil {
			return 0, err
		}
	}
	return version, nil
}

// Diff computes the set difference between two repository version content
// sets, purely in Go over the two row sets.
func (s *Service) Diff(ctx context.Context, repositoryID string, a, b int64) (domain.ContentSummary, error) {
	aContent, err := s.relational.ListVersionContent(ctx, repositoryID, a)
	if err != nil {
		return domain.ContentSummary{}, err
	}
	bContent, err := s.relational.ListVersionContent(ctx, repositoryID, b)
	if err != nil {
		return domain.ContentSummary{}, err
	}

	aSet := toSet(aContent)
	bSet := toSet(bContent)

	var summary domain.ContentSummary
	for d := range bSet {
		if !aSet[d] {
			summary.Added = append(summary.Added, d)
		}
	}
	for d := range aSet {
		if !bSet[d] {
			summary.Removed = append(summary.Removed, d)
		}
	}
	return summary, nil
}

// createVersionWithRetry retries CreateVersion on ErrVersionConflict,
// re-reading the repository's current latest version each attempt, since a
// concurrent writer may have already bumped it past expectedPrev.
func (s *Service) createVersionWithRetry(ctx context.Context, repositoryID string, expectedPrev int64) (int64, error) {
	for attempt := 0; attempt < 5; attempt++ {
		next, err := s.relational.CreateVersion(ctx, repositoryID, expectedPrev)
		if err == nil {
			return next, nil
		}
		if err != domain.ErrVersionConflict {
			return 0, err
		}
		repo, getErr := s.relational.GetRepositoryByID(ctx, repositoryID)
		if getErr != nil {
			return 0, getErr
		}
		expectedPrev = repo.LatestVersion
	}
	return 0, domain.ErrVersionConflict
}

func unionDigests(a, b []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, d := range a {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, d := range b {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func toSet(digests []string) map[string]bool {
	set := make(map[string]bool, len(digests))
	for _, d := range digests {
		set[d] = true
	}
	return set
}
