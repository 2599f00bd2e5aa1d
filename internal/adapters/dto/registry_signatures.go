package dto

// SignatureItem represents a single detached signature in the
// extensions/v2 signatures list response.
type SignatureItem struct {
	Digest string `json:"digest"`
	Kind   string `json:"kind"`
}

// SignatureListResponse represents the extensions/v2 signatures list
// response for a manifest digest.
type SignatureListResponse struct {
	ManifestDigest string          `json:"manifest_digest"`
	Signatures     []SignatureItem `json:"signatures"`
}
