// Package digest computes and verifies content digests across the
// algorithms the registry accepts, wrapping
// github.com/opencontainers/go-digest for the canonical string type and
// stdlib crypto for the actual hashing.
package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"

	godigest "github.com/opencontainers/go-digest"
)

// Algorithm is one of the digest algorithms this registry supports.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

func newHash(a Algorithm) (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", a)
	}
}

// Verifier wraps a reader, computing one or more algorithms' digests as
// the data streams through so ContentGraph never buffers a full blob in
// memory to verify it.
type Verifier struct {
	r       io.Reader
	hashers map[Algorithm]hash.Hash
}

// NewVerifier wraps r, hashing with every algorithm in algos as bytes are
// read through the Verifier.
func NewVerifier(r io.Reader, algos ...Algorithm) (*Verifier, error) {
	if len(algos) == 0 {
		algos = []Algorithm{SHA256}
	}
	hashers := make(map[Algorithm]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, a := range algos {
		h, err := newHash(a)
		if err != nil {
			return nil, err
		}
		hashers[a] = h
		writers = append(writers, h)
	}
	return &Verifier{r: io.TeeReader(r, io.MultiWriter(writers...)), hashers: hashers}, nil
}

func (v *Verifier) Read(p []byte) (int, error) { return v.r.Read(p) }

// Digest returns the canonical "<algo>:<hex>" digest string computed so
// far for algo.
func (v *Verifier) Digest(algo Algorithm) string {
	h, ok := v.hashers[algo]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%x", algo, h.Sum(nil))
}

// Parse validates a digest string using go-digest's parser, returning it
// unchanged as a godigest.Digest.
func Parse(s string) (godigest.Digest, error) {
	d := godigest.Digest(s)
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", s, err)
	}
	return d, nil
}

// AlgorithmOf extracts the algorithm prefix from a digest string.
func AlgorithmOf(s string) Algorithm {
	d := godigest.Digest(s)
	return Algorithm(d.Algorithm().String())
}

// ShardPath returns the <algo>/<first2hex>/<rest> layout ObjectStore
// adapters lay digests out under.
func ShardPath(s string) (algo, shard, rest string, err error) {
	d, err := Parse(s)
	if err != nil {
		return "", "", "", err
	}
	hexPart := d.Encoded()
	if len(hexPart) < 3 {
		return "", "", "", fmt.Errorf("digest hex too short: %s", s)
	}
	return d.Algorithm().String(), hexPart[:2], hexPart[2:], nil
}
