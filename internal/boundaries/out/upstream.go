package out

import (
	"context"
	"io"

	"github.com/coreforge/registry/internal/domain"
)

// UpstreamClient speaks the Distribution v2 wire protocol against a remote
// registry on behalf of the Synchronizer.
type UpstreamClient interface {
	// Authenticate performs the WWW-Authenticate challenge/response
	// exchange and returns an opaque credential the other methods attach to
	// their requests as a Bearer token. Only Bearer challenges are handled:
	// the challenge's realm is used as a token endpoint, and the Remote's
	// username and password are sent there, not to the registry itself.
	Authenticate(ctx context.Context, remote domain.Remote, scope string) (string, error)

	ListTags(ctx context.Context, remote domain.Remote, credential, repository string) ([]string, error)

	GetManifest(ctx context.Context, remote domain.Remote, credential, repository, reference string) (data []byte, contentType string, digest string, err error)

	GetBlob(ctx context.Context, remote domain.Remote, credential, repository, digest string) (io.ReadCloser, int64, error)

	// Head probes digest's content without fetching its body, for an
	// on_demand or streamed download policy that defers fetching bytes.
	// isManifest reports whether digest resolved as a manifest (vs. a
	// blob) at the upstream.
	Head(ctx context.Context, remote domain.Remote, credential, repository, digest string) (contentType string, size int64, isManifest bool, err error)

	GetSignatures(ctx context.Context, remote domain.Remote, credential, repository, manifestDigest string) ([]domain.Signature, error)

	// FetchRaw GETs an absolute URL outside the Distribution v2 path
	// layout, for the external sigstore signature-store layout. A 404 is
	// reported via domain.ErrNotFound so sequential signature-{n} probing
	// can stop cleanly.
	FetchRaw(ctx context.Context, remote domain.Remote, credential, rawURL string) ([]byte, error)
}
