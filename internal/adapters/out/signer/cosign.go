// Package signer implements the SignerInvoker port by shelling out to an
// external signing binary, following the same exec.CommandContext pattern
// the teacher uses for its "pass" secrets provider.
package signer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/bnema/zerowrap"
)

// Cosign invokes the cosign binary to produce a detached signature over a
// manifest digest.
type Cosign struct {
	binaryPath string
	keyRef     string
	timeout    time.Duration
	log        zerowrap.Logger
}

// NewCosign creates a signer that shells out to binaryPath (typically
// "cosign" resolved from PATH) using keyRef (a file path or KMS URI) as the
// signing key.
func NewCosign(binaryPath, keyRef string, log zerowrap.Logger) *Cosign {
	if binaryPath == "" {
		binaryPath = "cosign"
	}
	return &Cosign{binaryPath: binaryPath, keyRef: keyRef, timeout: 30 * time.Second, log: log}
}

// Sign runs `cosign sign-blob --yes --key <keyRef> -` with the digest on
// stdin and returns the signature bytes it prints to stdout.
func (c *Cosign) Sign(ctx context.Context, manifestDigest string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binaryPath, "sign-blob", "--yes", "--key", c.keyRef, "-")
	cmd.Stdin = bytes.NewBufferString(manifestDigest)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("cosign sign-blob failed: %w: %s", err, stderr.String())
	}

	c.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "signer-cosign").
		Str("digest", manifestDigest).
		Msg("signature produced")

	return bytes.TrimSpace(stdout.Bytes()), "cosign", nil
}

// IsAvailable reports whether the cosign binary can be invoked.
func (c *Cosign) IsAvailable() bool {
	return exec.Command(c.binaryPath, "version").Run() == nil
}
