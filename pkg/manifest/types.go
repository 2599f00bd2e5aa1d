package manifest

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// OCI manifests and indexes are decoded directly into the upstream
// image-spec types; Docker's own v2.2 manifest/list wire shapes differ
// just enough (no annotations on the single-platform manifest, a
// "schemaVersion"/"mediaType" pair repeated at every level) to need their
// own small structs below.

// DockerManifest represents a Docker Distribution v2.2 image manifest.
type DockerManifest struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType"`
	Config        ocispec.Descriptor   `json:"config"`
	Layers        []ocispec.Descriptor `json:"layers"`
}

// DockerManifestList represents a Docker Distribution v2.2 manifest list.
type DockerManifestList struct {
	SchemaVersion int                     `json:"schemaVersion"`
	MediaType     string                  `json:"mediaType"`
	Manifests     []DockerListDescriptor  `json:"manifests"`
}

// DockerListDescriptor is one entry of a DockerManifestList.
type DockerListDescriptor struct {
	MediaType string             `json:"mediaType"`
	Digest    string             `json:"digest"`
	Size      int64              `json:"size"`
	Platform  *ocispec.Platform  `json:"platform,omitempty"`
}
