// Package signing implements the SigningAdapter: it drives an external
// SignerInvoker over a manifest digest and records the resulting detached
// signature in the content graph.
package signing

import (
	"context"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/boundaries/out"
	"github.com/coreforge/registry/internal/domain"
	"github.com/coreforge/registry/internal/usecase/contentgraph"
)

// Service implements the SigningAdapter use case.
type Service struct {
	invoker out.SignerInvoker
	content *contentgraph.Service
	log     zerowrap.Logger
}

// New creates a signing service driving invoker and recording results via
// content.
func New(invoker out.SignerInvoker, content *contentgraph.Service, log zerowrap.Logger) *Service {
	return &Service{invoker: invoker, content: content, log: log}
}

// SignManifest signs manifestDigest and records the resulting signature.
func (s *Service) SignManifest(ctx context.Context, manifestDigest string) (domain.Signature, error) {
	sig, kind, err := s.invoker.Sign(ctx, manifestDigest)
	if err != nil {
		return domain.Signature{}, err
	}

	stored, err := s.content.PutSignature(ctx, manifestDigest, signatureKind(kind), sig)
	if err != nil {
		return domain.Signature{}, err
	}

	s.log.Info().
		Str(zerowrap.FieldLayer, "usecase").
		Str("manifest_digest", manifestDigest).
		Str("signature_digest", stored.Digest).
		Msg("manifest signed")
	return stored, nil
}

// signatureKind maps a SignerInvoker's reported kind string to the domain
// vocabulary. "noop" is the dev/test invoker's placeholder for cosign, not
// a kind of its own, so it resolves to SignatureKindCosign too.
func signatureKind(kind string) domain.SignatureKind {
	switch kind {
	case string(domain.SignatureKindAtomic):
		return domain.SignatureKindAtomic
	case "noop":
		return domain.SignatureKindCosign
	default:
		return domain.SignatureKindCosign
	}
}
