// Package domain contains pure business types without external dependencies.
package domain

import "time"

// Blob is a content-addressed binary object: a layer, a config, or any
// other byte payload referenced by a Manifest.
type Blob struct {
	Digest    string
	Size      int64
	MediaType string
	CreatedAt time.Time
	RefCount  int
	// Stored reports whether the blob's bytes are actually present in the
	// object store. A blob node can exist with Stored false when a sync
	// run registered the reference under an on_demand or streamed
	// download policy without fetching its bytes.
	Stored bool
}

// ManifestKind distinguishes the shapes a Manifest's Data can take.
// A Manifest is a tagged-variant type: its meaning depends on ContentType,
// not on its own Go type, matching how the wire protocol dispatches on the
// Content-Type / Accept headers rather than on a discriminator field.
type ManifestKind string

const (
	ManifestKindImage      ManifestKind = "image"
	ManifestKindIndex      ManifestKind = "index"
	ManifestKindDockerV2S2 ManifestKind = "docker-v2s2"
	ManifestKindDockerV2S1 ManifestKind = "docker-v2s1"
)

// Manifest is a JSON document describing an image, an image index, or a
// manifest list. Data is the canonical byte representation whose digest is
// Digest; Manifest never mutates Data in place because Digest is derived
// from it.
type Manifest struct {
	Digest      string
	ContentType string
	Kind        ManifestKind
	Size        int64
	Data        []byte
	// Children holds the digests of sub-manifests (for indexes/lists) or of
	// referenced blobs (config + layers) that make up this manifest's
	// content-graph edges. Populated at put-time by parsing Data.
	Children    []string
	Subject     string // OCI referrers "subject" digest, if any
	Annotations map[string]string
	Labels      map[string]string
	CreatedAt   time.Time
}

// Characteristics summarizes derived properties of a manifest's content,
// computed once at put_manifest time and cached alongside the graph node.
type Characteristics struct {
	IsBootable         bool
	IsFlatpak          bool
	IsHelmChart        bool
	IsCosignSignature  bool
	LayerMediaTypes    []string
}

// Tag is a mutable pointer from a human-readable name to a manifest digest
// within one RepositoryVersion.
type Tag struct {
	Name           string
	ManifestDigest string
	RepositoryID   string
	Version        int64
}

// SignatureKind distinguishes detached signature formats.
type SignatureKind string

const (
	SignatureKindCosign SignatureKind = "cosign"
	SignatureKindAtomic SignatureKind = "atomic"
)

// Signature is a detached signature over a manifest digest, stored as its
// own content-addressed node so it can be deduplicated like any other blob.
type Signature struct {
	Digest           string // digest of the signature payload itself
	ManifestDigest   string // digest of the manifest being signed
	Kind             SignatureKind
	Data             []byte
	CreatedAt        time.Time
}

// ContentSummary is the set-difference result between two RepositoryVersion
// content sets, used by RepositoryEngine.Diff.
type ContentSummary struct {
	Added   []string // digests present in the target, absent from the base
	Removed []string // digests present in the base, absent from the target
}
