// Package sync implements the Synchronizer: it pulls tags, manifests,
// blobs, and signatures from a Remote registry and folds them into a
// Repository's content set via RepositoryEngine, following the mirror vs
// additive policy and the teacher's errgroup-based parallel-fanout style
// (see _examples/yeetrun-yeet's use of golang.org/x/sync/errgroup).
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/boundaries/out"
	"github.com/coreforge/registry/internal/domain"
	"github.com/coreforge/registry/internal/usecase/contentgraph"
	"github.com/coreforge/registry/internal/usecase/repoengine"
	"github.com/coreforge/registry/pkg/manifest"
)

// Service implements the Synchronizer use case.
type Service struct {
	upstream   out.UpstreamClient
	content    *contentgraph.Service
	repos      *repoengine.Service
	relational out.RelationalStore
	log        zerowrap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Synchronizer driving upstream and folding results into
// repos/content.
func New(upstream out.UpstreamClient, content *contentgraph.Service, repos *repoengine.Service, relational out.RelationalStore, log zerowrap.Logger) *Service {
	return &Service{upstream: upstream, content: content, repos: repos, relational: relational, log: log, limiters: make(map[string]*rate.Limiter)}
}

func (s *Service) limiterFor(remote domain.Remote) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[remote.Name]
	if !ok {
		qps := remote.RateLimitQPS
		if qps <= 0 {
			qps = 10
		}
		l = rate.NewLimiter(rate.Limit(qps), 1)
		s.limiters[remote.Name] = l
	}
	return l
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

// Result summarizes one sync run.
type Result struct {
	TagsSynced  []string
	TagsRemoved []string
	NewVersion  int64
}

// Sync performs a full repository sync against remote's upstream
// repository path, applying remote.Mode's mirror/additive policy.
func (s *Service) Sync(ctx context.Context, repositoryID string, baseVersion int64, remote domain.Remote, upstreamRepository string) (Result, error) {
	_, log := usecaseCtx(ctx, "Sync", map[string]any{"remote": remote.Name, "upstream_repository": upstreamRepository})

	credential, err := s.upstream.Authenticate(ctx, remote, fmt.Sprintf("repository:%s:pull", upstreamRepository))
	if err != nil {
		return Result{}, log.WrapErr(err, "authenticate to upstream")
	}

	allTags, err := s.upstream.ListTags(ctx, remote, credential, upstreamRepository)
	if err != nil {
		return Result{}, log.WrapErr(err, "list upstream tags")
	}

	filtered := filterTags(allTags, remote.IncludeTags, remote.ExcludeTags)
	log.Info().Int("upstream_tags", len(allTags)).Int("filtered_tags", len(filtered)).Msg("synchronizing tags")

	digests := make(map[string]string, len(filtered))
	group, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, tag := range filtered {
		tag := tag
		group.Go(func() error {
			if err := s.limiterFor(remote).Wait(gctx); err != nil {
				return err
			}
			digest, err := s.syncTag(gctx, remote, credential, upstreamRepository, tag)
			if err != nil {
				log.Warn().Err(err).Str("tag", tag).Msg("failed to sync tag")
				return nil // a single tag failure is not fatal to the run
			}
			mu.Lock()
			digests[tag] = digest
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, log.WrapErr(err, "sync tags")
	}

	version := baseVersion
	var synced []string
	for tag, digest := range digests {
		version, err = s.repos.AddTag(ctx, repositoryID, version, tag, digest)
		if err != nil {
			return Result{}, log.WrapErr(err, "add synced tag")
		}
		synced = append(synced, tag)
	}

	var removed []string
	if remote.Mode == domain.SyncModeMirror {
		removed, version, err = s.removeAbsentTags(ctx, repositoryID, version, filtered)
		if err != nil {
			return Result{}, log.WrapErr(err, "remove absent tags")
		}
	}

	if err := s.discoverSignatures(ctx, remote, credential, upstreamRepository, digests); err != nil {
		log.Warn().Err(err).Msg("signature discovery failed")
	}

	return Result{TagsSynced: synced, TagsRemoved: removed, NewVersion: version}, nil
}

// syncTag fetches a tag's manifest (and its sub-manifests and blobs, per
// policy) and returns the manifest's own digest. The manifest is always
// fetched; when the local ContentGraph already holds its digest it is not
// ingested again.
func (s *Service) syncTag(ctx context.Context, remote domain.Remote, credential, upstreamRepository, tag string) (string, error) {
	data, contentType, digest, err := s.upstream.GetManifest(ctx, remote, credential, upstreamRepository, tag)
	if err != nil {
		return "", err
	}

	if exists, _ := s.content.BlobExists(ctx, digest); exists {
		return digest, nil
	}
	if _, err := s.content.GetManifest(ctx, digest); err == nil {
		return digest, nil
	}

	if err := s.ingestManifest(ctx, remote, credential, upstreamRepository, data, contentType); err != nil {
		return "", err
	}
	return digest, nil
}

// ingestManifest fetches every child (sub-manifest or blob) a manifest
// references that is not yet present locally, then stores the manifest
// itself — ContentGraph.PutManifest requires its children already exist.
func (s *Service) ingestManifest(ctx context.Context, remote domain.Remote, credential, upstreamRepository string, data []byte, contentType string) error {
	parsed, err := manifest.Parse(data, contentType)
	if err != nil {
		return fmt.Errorf("parse upstream manifest: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, child := range parsed.Children {
		child := child
		group.Go(func() error {
			if err := s.limiterFor(remote).Wait(gctx); err != nil {
				return err
			}
			return s.ensureContent(gctx, remote, credential, upstreamRepository, child)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if remote.EffectivePolicy() == domain.DownloadPolicyImmediate {
		_, err = s.content.PutManifest(ctx, data, contentType)
	} else {
		// Some children above may have been left as references or
		// skipped entirely under on_demand/streamed; the strict
		// children-must-exist check would reject this manifest.
		_, err = s.content.PutManifestDeferred(ctx, data, contentType)
	}
	return err
}

// ensureContent makes digest available locally per remote's download
// policy: immediate fetches sub-manifests and blobs in full; on_demand
// records a blob reference without its bytes and skips sub-manifests
// entirely; streamed stores nothing, not even a reference. Nothing fetches
// the skipped content later: a pull of an on_demand blob fails with
// ErrBlobNotStored, and a skipped sub-manifest or streamed blob is not found.
func (s *Service) ensureContent(ctx context.Context, remote domain.Remote, credential, upstreamRepository, digest string) error {
	if exists, err := s.content.BlobExists(ctx, digest); err == nil && exists {
		return nil
	}
	if _, err := s.content.GetManifest(ctx, digest); err == nil {
		return nil
	}

	switch remote.EffectivePolicy() {
	case domain.DownloadPolicyOnDemand, domain.DownloadPolicyStreamed:
		return s.ensureContentDeferred(ctx, remote, credential, upstreamRepository, digest)
	default:
		return s.ensureContentImmediate(ctx, remote, credential, upstreamRepository, digest)
	}
}

func (s *Service) ensureContentImmediate(ctx context.Context, remote domain.Remote, credential, upstreamRepository, digest string) error {
	data, contentType, _, err := s.upstream.GetManifest(ctx, remote, credential, upstreamRepository, digest)
	if err == nil && manifest.IsManifestType(contentType) {
		return s.ingestManifest(ctx, remote, credential, upstreamRepository, data, contentType)
	}

	reader, _, err := s.upstream.GetBlob(ctx, remote, credential, upstreamRepository, digest)
	if err != nil {
		return fmt.Errorf("fetch blob %s: %w", digest, err)
	}
	defer reader.Close()

	_, err = s.content.PutBlob(ctx, digest, reader, "application/octet-stream")
	return err
}

// ensureContentDeferred probes digest without fetching its body. A
// sub-manifest is left entirely absent per §4.1 invariant (c); a blob gets
// a reference-only node under on_demand, and no node at all under
// streamed, since "streamed" means bytes are never stored.
func (s *Service) ensureContentDeferred(ctx context.Context, remote domain.Remote, credential, upstreamRepository, digest string) error {
	contentType, size, isManifest, err := s.upstream.Head(ctx, remote, credential, upstreamRepository, digest)
	if err != nil {
		return fmt.Errorf("probe content %s: %w", digest, err)
	}
	if isManifest {
		return nil
	}
	if remote.EffectivePolicy() == domain.DownloadPolicyStreamed {
		return nil
	}
	_, err = s.content.PutBlobReference(ctx, digest, size, contentType)
	return err
}

// removeAbsentTags untags every local tag not present in the upstream
// filtered set, implementing the mirror sync result policy.
func (s *Service) removeAbsentTags(ctx context.Context, repositoryID string, version int64, upstreamTags []string) ([]string, int64, error) {
	present := make(map[string]bool, len(upstreamTags))
	for _, t := range upstreamTags {
		present[t] = true
	}

	localTags, err := s.relational.ListTags(ctx, repositoryID, version)
	if err != nil {
		return nil, version, err
	}

	var removed []string
	for _, t := range localTags {
		if present[t.Name] {
			continue
		}
		version, err = s.repos.RemoveTag(ctx, repositoryID, version, t.Name)
		if err != nil {
			return removed, version, err
		}
		removed = append(removed, t.Name)
	}
	return removed, version, nil
}

// discoverSignatures checks every signature mechanism the spec names for
// each newly synced manifest digest: the Docker API signatures extension,
// cosign objects stored as tags, and an external sigstore URL layout.
func (s *Service) discoverSignatures(ctx context.Context, remote domain.Remote, credential, upstreamRepository string, digests map[string]string) error {
	for _, digest := range digests {
		if err := s.discoverExtensionSignatures(ctx, remote, credential, upstreamRepository, digest); err != nil {
			return err
		}
		if err := s.discoverCosignTagSignatures(ctx, remote, credential, upstreamRepository, digest); err != nil {
			return err
		}
		if remote.SigstoreURL != "" {
			if err := s.discoverSigstoreURLSignatures(ctx, remote, credential, upstreamRepository, digest); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) discoverExtensionSignatures(ctx context.Context, remote domain.Remote, credential, upstreamRepository, digest string) error {
	sigs, err := s.upstream.GetSignatures(ctx, remote, credential, upstreamRepository, digest)
	if err != nil {
		return err
	}
	for _, sig := range sigs {
		if _, err := s.content.PutSignature(ctx, digest, sig.Kind, sig.Data); err != nil {
			return err
		}
	}
	return nil
}

// cosignTagSuffixes maps each cosign artifact a manifest digest may have
// attached, stored as a separate tag named sha256-<hex>.<suffix>.
var cosignTagSuffixes = []string{"sig", "att", "sbom"}

// discoverCosignTagSignatures looks for cosign's tag-based convention:
// sha256:<hex> becomes a tag sha256-<hex>.sig (or .att/.sbom) holding a
// small OCI manifest whose layers are the signature payload itself.
func (s *Service) discoverCosignTagSignatures(ctx context.Context, remote domain.Remote, credential, upstreamRepository, digest string) error {
	algo, hex, ok := strings.Cut(digest, ":")
	if !ok || algo != "sha256" {
		return nil
	}

	for _, suffix := range cosignTagSuffixes {
		tag := fmt.Sprintf("sha256-%s.%s", hex, suffix)
		data, contentType, _, err := s.upstream.GetManifest(ctx, remote, credential, upstreamRepository, tag)
		if err != nil {
			continue // no cosign object of this kind for this digest
		}
		parsed, err := manifest.Parse(data, contentType)
		if err != nil {
			continue
		}
		for _, child := range parsed.Children {
			reader, _, err := s.upstream.GetBlob(ctx, remote, credential, upstreamRepository, child)
			if err != nil {
				continue
			}
			payload, err := io.ReadAll(reader)
			reader.Close()
			if err != nil {
				continue
			}
			if _, err := s.content.PutSignature(ctx, digest, domain.SignatureKindCosign, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// discoverSigstoreURLSignatures fetches sequential signature-{n} objects
// from remote's external sigstore layout until one is not found.
func (s *Service) discoverSigstoreURLSignatures(ctx context.Context, remote domain.Remote, credential, upstreamRepository, digest string) error {
	algo, hex, ok := strings.Cut(digest, ":")
	if !ok {
		return nil
	}

	base := strings.TrimRight(remote.SigstoreURL, "/")
	for n := 1; ; n++ {
		u := fmt.Sprintf("%s/%s@%s=%s/signature-%d", base, upstreamRepository, algo, hex, n)
		data, err := s.upstream.FetchRaw(ctx, remote, credential, u)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		if _, err := s.content.PutSignature(ctx, digest, domain.SignatureKindAtomic, data); err != nil {
			return err
		}
	}
}

// filterTags applies include-then-exclude shell-glob filtering, following
// the spec's mirror/additive tag selection rule.
func filterTags(tags, include, exclude []string) []string {
	var out []string
	for _, t := range tags {
		if len(include) > 0 && !matchesAny(t, include) {
			continue
		}
		if matchesAny(t, exclude) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}
