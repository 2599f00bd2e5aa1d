package signer

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// Noop implements SignerInvoker for development and test environments that
// have no real signing key configured; it derives a deterministic
// placeholder signature from the digest rather than calling out to cosign.
type Noop struct{}

// Sign returns a deterministic placeholder signature, never a real one.
func (Noop) Sign(_ context.Context, manifestDigest string) ([]byte, string, error) {
	sum := sha256.Sum256([]byte(manifestDigest))
	return []byte(fmt.Sprintf("noop:%x", sum)), "noop", nil
}
