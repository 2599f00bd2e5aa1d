package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Parsed is the result of decoding a manifest or index, independent of its
// wire-level media type.
type Parsed struct {
	ContentType string
	IsIndex     bool
	Children    []string // config + layer digests, or sub-manifest digests for an index
	LayerTypes  []string
	Annotations map[string]string
	Subject     string
}

// Parse decodes manifestData according to contentType and extracts the
// content-graph edges (Children) and annotations ContentGraph needs.
func Parse(manifestData []byte, contentType string) (*Parsed, error) {
	switch contentType {
	case MediaTypeOCIManifest:
		return parseOCIManifest(manifestData)
	case MediaTypeDockerManifest:
		return parseDockerManifest(manifestData)
	case MediaTypeDockerManifest1:
		return &Parsed{ContentType: contentType, Annotations: map[string]string{}}, nil
	case MediaTypeOCIIndex:
		return parseOCIIndex(manifestData)
	case MediaTypeDockerList:
		return parseDockerList(manifestData)
	default:
		return nil, fmt.Errorf("unsupported manifest media type: %s", contentType)
	}
}

func parseOCIManifest(data []byte) (*Parsed, error) {
	var m ocispec.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode OCI manifest: %w", err)
	}

	children := make([]string, 0, len(m.Layers)+1)
	layerTypes := make([]string, 0, len(m.Layers))
	children = append(children, m.Config.Digest.String())
	for _, l := range m.Layers {
		children = append(children, l.Digest.String())
		layerTypes = append(layerTypes, l.MediaType)
	}

	subject := ""
	if m.Subject != nil {
		subject = m.Subject.Digest.String()
	}

	ann := m.Annotations
	if ann == nil {
		ann = map[string]string{}
	}

	return &Parsed{
		ContentType: MediaTypeOCIManifest,
		Children:    children,
		LayerTypes:  layerTypes,
		Annotations: ann,
		Subject:     subject,
	}, nil
}

func parseDockerManifest(data []byte) (*Parsed, error) {
	var m DockerManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode docker manifest: %w", err)
	}

	children := make([]string, 0, len(m.Layers)+1)
	layerTypes := make([]string, 0, len(m.Layers))
	children = append(children, m.Config.Digest.String())
	for _, l := range m.Layers {
		children = append(children, l.Digest.String())
		layerTypes = append(layerTypes, l.MediaType)
	}

	return &Parsed{
		ContentType: MediaTypeDockerManifest,
		Children:    children,
		LayerTypes:  layerTypes,
		Annotations: map[string]string{},
	}, nil
}

func parseOCIIndex(data []byte) (*Parsed, error) {
	var idx ocispec.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode OCI index: %w", err)
	}

	children := make([]string, 0, len(idx.Manifests))
	for _, d := range idx.Manifests {
		children = append(children, d.Digest.String())
	}

	ann := idx.Annotations
	if ann == nil {
		ann = map[string]string{}
	}

	return &Parsed{
		ContentType: MediaTypeOCIIndex,
		IsIndex:     true,
		Children:    children,
		Annotations: ann,
	}, nil
}

func parseDockerList(data []byte) (*Parsed, error) {
	var list DockerManifestList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode docker manifest list: %w", err)
	}

	children := make([]string, 0, len(list.Manifests))
	for _, d := range list.Manifests {
		children = append(children, d.Digest)
	}

	return &Parsed{
		ContentType: MediaTypeDockerList,
		IsIndex:     true,
		Children:    children,
		Annotations: map[string]string{},
	}, nil
}

// IsVersionedDeployment reports whether annotations carry a deployment
// version marker.
func IsVersionedDeployment(annotations map[string]string) bool {
	_, exists := annotations["version"]
	return exists
}

// GetDeploymentVersion extracts the deployment version annotation, if any.
func GetDeploymentVersion(annotations map[string]string) string {
	if version, exists := annotations["version"]; exists && version != "" {
		return version
	}
	return ""
}

// DeriveCharacteristics inspects a parsed manifest's layer media types and
// annotations to compute the cached boolean flags ContentGraph stores
// alongside the manifest node.
func DeriveCharacteristics(p *Parsed) (isBootable, isFlatpak, isHelm, isCosign bool) {
	for _, lt := range p.LayerTypes {
		switch {
		case strings.Contains(lt, "flatpak"):
			isFlatpak = true
		case lt == MediaTypeHelmChartLayer || lt == MediaTypeHelmChartConfig:
			isHelm = true
		case lt == MediaTypeCosignSignature:
			isCosign = true
		}
	}
	if _, ok := p.Annotations["org.opencontainers.image.bootable"]; ok {
		isBootable = true
	}
	return
}
