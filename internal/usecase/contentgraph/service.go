// Package contentgraph implements the digest-keyed object store and
// content graph: blobs, manifests, signatures, and the edges between them,
// following the zerowrap context-field-then-log usecase idiom the teacher's
// registry service established.
package contentgraph

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bnema/zerowrap"
	godigest "github.com/opencontainers/go-digest"

	"github.com/coreforge/registry/internal/boundaries/out"
	"github.com/coreforge/registry/internal/domain"
	pkgdigest "github.com/coreforge/registry/pkg/digest"
	"github.com/coreforge/registry/pkg/manifest"
)

// Service implements the content-addressed object store and its graph of
// blob/manifest/signature nodes.
type Service struct {
	objects  out.ObjectStore
	graph    out.GraphStore
	eventBus out.EventPublisher
	mediaTypes *manifest.Registry
}

// New creates a ContentGraph service over objects and graph, publishing
// push/delete events on eventBus (which may be nil in tests).
func New(objects out.ObjectStore, graph out.GraphStore, eventBus out.EventPublisher, mediaTypes *manifest.Registry) *Service {
	return &Service{objects: objects, graph: graph, eventBus: eventBus, mediaTypes: mediaTypes}
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

// PutBlob verifies data matches digest while streaming it into the object
// store, then records or dedups the Blob node in the graph.
func (s *Service) PutBlob(ctx context.Context, digest string, data io.Reader, mediaType string) (domain.Blob, error) {
	_, log := usecaseCtx(ctx, "PutBlob", map[string]any{"digest": digest})

	algo := pkgdigest.AlgorithmOf(digest)
	verifier, err := pkgdigest.NewVerifier(data, algo)
	if err != nil {
		return domain.Blob{}, log.WrapErr(err, "build digest verifier")
	}

	size, err := s.objects.Put(ctx, digest, verifier)
	if err != nil {
		return domain.Blob{}, log.WrapErr(err, "write blob to object store")
	}
	if verifier.Digest(algo) != digest {
		_ = s.objects.Delete(ctx, digest)
		return domain.Blob{}, domain.ErrDigestMismatch
	}

	existing, err := s.graph.GetBlob(ctx, digest)
	if err == nil {
		if _, err := s.graph.IncBlobRefCount(ctx, digest, 1); err != nil {
			return domain.Blob{}, log.WrapErr(err, "increment blob ref count")
		}
		existing.RefCount++
		return existing, nil
	}

	b := domain.Blob{Digest: digest, Size: size, MediaType: mediaType, CreatedAt: time.Now(), RefCount: 1, Stored: true}
	if err := s.graph.PutBlob(ctx, b); err != nil {
		return domain.Blob{}, log.WrapErr(err, "record blob node")
	}

	if s.eventBus != nil {
		_ = s.eventBus.Publish(domain.EventBlobPushed, b)
	}
	log.Info().Int64(zerowrap.FieldSize, size).Msg("blob stored")
	return b, nil
}

// PutBlobReference records digest as a known blob without fetching or
// storing its bytes, for a Remote synced under DownloadPolicyOnDemand
// (bytes deferred until first pull) or DownloadPolicyStreamed (bytes never
// stored locally at all). If digest is already known, its existing node
// is returned unchanged rather than clobbering a Stored byte with a
// reference-only one.
func (s *Service) PutBlobReference(ctx context.Context, digest string, size int64, mediaType string) (domain.Blob, error) {
	_, log := usecaseCtx(ctx, "PutBlobReference", map[string]any{"digest": digest})

	if existing, err := s.graph.GetBlob(ctx, digest); err == nil {
		return existing, nil
	}

	b := domain.Blob{Digest: digest, Size: size, MediaType: mediaType, CreatedAt: time.Now(), RefCount: 1, Stored: false}
	if err := s.graph.PutBlob(ctx, b); err != nil {
		return domain.Blob{}, log.WrapErr(err, "record blob reference")
	}
	return b, nil
}

// GetBlob opens a reader for digest's content; callers must Close it.
// ErrBlobNotStored is returned for a blob node whose bytes were deferred
// under an on_demand or streamed download policy and never fetched.
func (s *Service) GetBlob(ctx context.Context, digest string) (io.ReadCloser, int64, error) {
	_, log := usecaseCtx(ctx, "GetBlob", map[string]any{"digest": digest})
	b, err := s.graph.GetBlob(ctx, digest)
	if err != nil {
		return nil, 0, log.WrapErr(err, "look up blob node")
	}
	if !b.Stored {
		return nil, 0, domain.ErrBlobNotStored
	}
	reader, err := s.objects.Get(ctx, digest)
	if err != nil {
		return nil, 0, log.WrapErr(err, "open blob content")
	}
	return reader, b.Size, nil
}

// BlobExists reports whether digest is a known blob.
func (s *Service) BlobExists(ctx context.Context, digest string) (bool, error) {
	_, err := s.graph.GetBlob(ctx, digest)
	if err == nil {
		return true, nil
	}
	if err == domain.ErrNotFound {
		return false, nil
	}
	return false, err
}

// DeleteBlob decrements digest's reference count, physically removing it
// once no manifest references it any longer.
func (s *Service) DeleteBlob(ctx context.Context, digest string) error {
	_, log := usecaseCtx(ctx, "DeleteBlob", map[string]any{"digest": digest})

	count, err := s.graph.IncBlobRefCount(ctx, digest, -1)
	if err != nil {
		return log.WrapErr(err, "decrement blob ref count")
	}
	if count > 0 {
		return nil
	}

	if err := s.objects.Delete(ctx, digest); err != nil {
		return log.WrapErr(err, "delete blob content")
	}
	if err := s.graph.DeleteBlob(ctx, digest); err != nil {
		return log.WrapErr(err, "delete blob node")
	}
	if s.eventBus != nil {
		_ = s.eventBus.Publish(domain.EventBlobDeleted, digest)
	}
	return nil
}

// StartUpload begins a chunked blob upload session.
func (s *Service) StartUpload(ctx context.Context) (string, error) {
	return s.objects.StartUpload(ctx)
}

// WriteChunk appends data at atOffset to an in-progress upload.
func (s *Service) WriteChunk(ctx context.Context, uploadID string, atOffset int64, data io.Reader) (int64, error) {
	return s.objects.WriteChunk(ctx, uploadID, atOffset, data)
}

// UploadSize reports an in-progress upload's current size.
func (s *Service) UploadSize(ctx context.Context, uploadID string) (int64, error) {
	return s.objects.UploadSize(ctx, uploadID)
}

// FinishUpload completes a chunked upload, verifying the declared digest
// and registering the resulting Blob node in the graph.
func (s *Service) FinishUpload(ctx context.Context, uploadID, digest, mediaType string) (domain.Blob, error) {
	_, log := usecaseCtx(ctx, "FinishUpload", map[string]any{"upload_id": uploadID, "digest": digest})

	size, err := s.objects.FinishUpload(ctx, uploadID, digest)
	if err != nil {
		return domain.Blob{}, log.WrapErr(err, "finish blob upload")
	}

	existing, err := s.graph.GetBlob(ctx, digest)
	if err == nil {
		if _, err := s.graph.IncBlobRefCount(ctx, digest, 1); err != nil {
			return domain.Blob{}, log.WrapErr(err, "increment blob ref count")
		}
		existing.RefCount++
		return existing, nil
	}

	b := domain.Blob{Digest: digest, Size: size, MediaType: mediaType, CreatedAt: time.Now(), RefCount: 1, Stored: true}
	if err := s.graph.PutBlob(ctx, b); err != nil {
		return domain.Blob{}, log.WrapErr(err, "record blob node")
	}
	if s.eventBus != nil {
		_ = s.eventBus.Publish(domain.EventBlobPushed, b)
	}
	return b, nil
}

// CancelUpload discards an in-progress upload's staged data.
func (s *Service) CancelUpload(ctx context.Context, uploadID string) error {
	return s.objects.CancelUpload(ctx, uploadID)
}

// PutManifest parses, validates, and records a manifest node, verifying
// every child digest it references already exists in the graph (the
// manifest-blob-unknown invariant) before it is made visible to readers.
func (s *Service) PutManifest(ctx context.Context, data []byte, contentType string) (domain.Manifest, error) {
	return s.putManifest(ctx, data, contentType, true)
}

// PutManifestDeferred records a manifest node without requiring its
// children to already exist, for content synced under
// DownloadPolicyOnDemand or DownloadPolicyStreamed: a ManifestList may
// reference sub-manifests, and an image manifest may reference blobs,
// that the Synchronizer deliberately left unfetched.
func (s *Service) PutManifestDeferred(ctx context.Context, data []byte, contentType string) (domain.Manifest, error) {
	return s.putManifest(ctx, data, contentType, false)
}

func (s *Service) putManifest(ctx context.Context, data []byte, contentType string, requireChildren bool) (domain.Manifest, error) {
	_, log := usecaseCtx(ctx, "PutManifest", map[string]any{"content_type": contentType})

	if !manifest.IsManifestType(contentType) {
		return domain.Manifest{}, domain.NewRegistryError(domain.CodeManifestInvalid, "unsupported manifest content type", nil)
	}

	parsed, err := manifest.Parse(data, contentType)
	if err != nil {
		return domain.Manifest{}, domain.NewRegistryError(domain.CodeManifestInvalid, err.Error(), err)
	}

	if s.mediaTypes != nil {
		for _, lt := range parsed.LayerTypes {
			if !s.mediaTypes.AllowsLayer(lt) {
				return domain.Manifest{}, domain.NewRegistryError(domain.CodeManifestInvalid, "layer media type not allowed: "+lt, nil)
			}
		}
	}

	if requireChildren {
		for _, child := range parsed.Children {
			if exists, err := s.BlobExists(ctx, child); err != nil {
				return domain.Manifest{}, log.WrapErr(err, "check manifest child blob")
			} else if !exists {
				if _, mErr := s.GetManifest(ctx, child); mErr != nil {
					return domain.Manifest{}, domain.NewRegistryError(domain.CodeManifestBlobUnknown, child, nil).WithDetail(child)
				}
			}
		}
	}

	dig := godigest.FromBytes(data).String()
	kind := manifestKind(contentType, parsed.IsIndex)

	m := domain.Manifest{
		Digest:      dig,
		ContentType: contentType,
		Kind:        kind,
		Size:        int64(len(data)),
		Data:        data,
		Children:    parsed.Children,
		Subject:     parsed.Subject,
		Annotations: parsed.Annotations,
		CreatedAt:   time.Now(),
	}
	if err := s.graph.PutManifest(ctx, m); err != nil {
		return domain.Manifest{}, log.WrapErr(err, "record manifest node")
	}

	isBootable, isFlatpak, isHelm, isCosign := manifest.DeriveCharacteristics(parsed)
	chars := domain.Characteristics{
		IsBootable:      isBootable,
		IsFlatpak:       isFlatpak,
		IsHelmChart:     isHelm,
		IsCosignSignature: isCosign,
		LayerMediaTypes: parsed.LayerTypes,
	}
	if err := s.graph.PutCharacteristics(ctx, dig, chars); err != nil {
		return domain.Manifest{}, log.WrapErr(err, "record manifest characteristics")
	}

	if s.eventBus != nil {
		_ = s.eventBus.Publish(domain.EventManifestPushed, domain.ManifestPushedPayload{
			Digest:      dig,
			ContentType: contentType,
			Annotations: parsed.Annotations,
		})
	}
	log.Info().Str("digest", dig).Msg("manifest stored")
	return m, nil
}

func manifestKind(contentType string, isIndex bool) domain.ManifestKind {
	switch contentType {
	case manifest.MediaTypeOCIIndex, manifest.MediaTypeDockerList:
		return domain.ManifestKindIndex
	case manifest.MediaTypeDockerManifest:
		return domain.ManifestKindDockerV2S2
	case manifest.MediaTypeDockerManifest1:
		return domain.ManifestKindDockerV2S1
	default:
		if isIndex {
			return domain.ManifestKindIndex
		}
		return domain.ManifestKindImage
	}
}

// GetManifest fetches a manifest node by its own digest.
func (s *Service) GetManifest(ctx context.Context, digest string) (domain.Manifest, error) {
	m, err := s.graph.GetManifest(ctx, digest)
	if err != nil {
		return domain.Manifest{}, err
	}
	return m, nil
}

// DeleteManifest removes a manifest node and drops a reference from each of
// its children, physically reclaiming any blob that reaches zero.
func (s *Service) DeleteManifest(ctx context.Context, digest string) error {
	_, log := usecaseCtx(ctx, "DeleteManifest", map[string]any{"digest": digest})

	m, err := s.graph.GetManifest(ctx, digest)
	if err != nil {
		return log.WrapErr(err, "look up manifest node")
	}

	for _, child := range m.Children {
		if err := s.DeleteBlob(ctx, child); err != nil && err != domain.ErrNotFound {
			log.Warn().Err(err).Str("child", child).Msg("failed to release manifest child reference")
		}
	}

	if err := s.graph.DeleteManifest(ctx, digest); err != nil {
		return log.WrapErr(err, "delete manifest node")
	}
	if s.eventBus != nil {
		_ = s.eventBus.Publish(domain.EventManifestDeleted, digest)
	}
	return nil
}

// PutSignature stores a detached signature keyed by its own digest,
// cross-referenced under manifestDigest.
func (s *Service) PutSignature(ctx context.Context, manifestDigest string, kind domain.SignatureKind, data []byte) (domain.Signature, error) {
	if _, err := s.graph.GetManifest(ctx, manifestDigest); err != nil {
		return domain.Signature{}, fmt.Errorf("signed manifest not found: %w", err)
	}

	sig := domain.Signature{
		Digest:         godigest.FromBytes(data).String(),
		ManifestDigest: manifestDigest,
		Kind:           kind,
		Data:           data,
		CreatedAt:      time.Now(),
	}
	if err := s.graph.PutSignature(ctx, sig); err != nil {
		return domain.Signature{}, err
	}
	if s.eventBus != nil {
		_ = s.eventBus.Publish(domain.EventSignatureAdded, sig)
	}
	return sig, nil
}

// ListSignatures returns every signature recorded against manifestDigest.
func (s *Service) ListSignatures(ctx context.Context, manifestDigest string) ([]domain.Signature, error) {
	return s.graph.ListSignatures(ctx, manifestDigest)
}
