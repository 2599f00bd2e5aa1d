package out

import "context"

// SignerInvoker invokes an external signing tool over a manifest digest and
// returns the detached signature bytes it produces. A real deployment
// shells out to a signer binary (e.g. cosign); this port exists so
// SigningAdapter never depends on how signing is actually performed.
type SignerInvoker interface {
	Sign(ctx context.Context, manifestDigest string) (signature []byte, kind string, err error)
}
