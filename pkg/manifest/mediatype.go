// Package manifest parses and classifies the manifest media types the
// registry accepts, deriving the annotations and characteristics the
// content graph attaches to a pushed manifest.
package manifest

// Built-in media types the registry always understands.
const (
	MediaTypeOCIManifest     = "application/vnd.oci.image.manifest.v1+json"
	MediaTypeOCIIndex        = "application/vnd.oci.image.index.v1+json"
	MediaTypeDockerManifest  = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifest1 = "application/vnd.docker.distribution.manifest.v1+json"
	MediaTypeDockerList      = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeDockerConfig    = "application/vnd.docker.container.image.v1+json"

	MediaTypeHelmChartConfig = "application/vnd.cncf.helm.config.v1+json"
	MediaTypeHelmChartLayer  = "application/vnd.cncf.helm.chart.content.v1.tar+gzip"
	MediaTypeCosignSignature = "application/vnd.dev.cosign.simplesigning.v1+json"
	MediaTypeInTotoPayload   = "application/vnd.in-toto+json"

	MediaTypeFlatpakRef = "application/vnd.flatpak.ref.v1"
)

// SpecMode controls how strictly layer media types are checked against the
// registry's known set, resolving the spec's Open Question on strictness.
type SpecMode string

const (
	SpecModeStrict  SpecMode = "strict"
	SpecModeRelaxed SpecMode = "relaxed"
)

// Registry is the set of manifest/layer media types a deployment accepts,
// seeded with the built-ins and extendable via
// additional_oci_artifact_types configuration.
type Registry struct {
	mode             SpecMode
	additionalLayers map[string]bool
}

// NewRegistry builds a media-type registry. additionalTypes widens the
// layer allow-list beyond the built-in OCI/Docker/Helm/Cosign set, as
// configured by additional_oci_artifact_types.
func NewRegistry(mode SpecMode, additionalTypes []string) *Registry {
	r := &Registry{mode: mode, additionalLayers: make(map[string]bool, len(additionalTypes))}
	for _, t := range additionalTypes {
		r.additionalLayers[t] = true
	}
	return r
}

// IsManifestType reports whether contentType names a manifest/index we can
// parse (as opposed to a layer media type).
func IsManifestType(contentType string) bool {
	switch contentType {
	case MediaTypeOCIManifest, MediaTypeOCIIndex,
		MediaTypeDockerManifest, MediaTypeDockerManifest1, MediaTypeDockerList:
		return true
	default:
		return false
	}
}

// IsIndexType reports whether contentType is a multi-platform index/list
// rather than a single-platform image manifest.
func IsIndexType(contentType string) bool {
	return contentType == MediaTypeOCIIndex || contentType == MediaTypeDockerList
}

// AllowsLayer reports whether a layer's media type is acceptable under the
// registry's configured strictness and allow-list.
func (r *Registry) AllowsLayer(mediaType string) bool {
	if r.mode == SpecModeRelaxed {
		return true
	}
	switch mediaType {
	case "application/vnd.oci.image.layer.v1.tar",
		"application/vnd.oci.image.layer.v1.tar+gzip",
		"application/vnd.oci.image.layer.v1.tar+zstd",
		"application/vnd.oci.image.config.v1+json",
		"application/vnd.docker.image.rootfs.diff.tar.gzip",
		"application/vnd.docker.image.rootfs.foreign.diff.tar.gzip",
		MediaTypeDockerConfig,
		MediaTypeHelmChartConfig, MediaTypeHelmChartLayer,
		MediaTypeCosignSignature, MediaTypeInTotoPayload:
		return true
	default:
		return r.additionalLayers[mediaType]
	}
}
