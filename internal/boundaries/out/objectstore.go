package out

import (
	"context"
	"io"
)

// ObjectStore defines the content-addressed blob storage contract used by
// ContentGraph. Keys are digest strings ("sha256:...") laid out by the
// adapter as <algo>/<first2hex>/<rest>; callers never see the layout.
type ObjectStore interface {
	// Put writes data under digest, computing and verifying the digest as
	// it streams if the adapter supports it. Returns the stored size.
	Put(ctx context.Context, digest string, data io.Reader) (int64, error)

	// Get returns a reader for the object at digest. Callers must Close it.
	Get(ctx context.Context, digest string) (io.ReadCloser, error)

	// Exists reports whether an object is present without reading it.
	Exists(ctx context.Context, digest string) (bool, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, digest string) error

	// StartUpload creates a new staging area for a chunked upload and
	// returns its identifier.
	StartUpload(ctx context.Context) (uploadID string, err error)

	// WriteChunk appends data at the given offset to an in-progress
	// upload, returning the new total size. atOffset must equal the
	// upload's current size or a RANGE_INVALID RegistryError is returned.
	WriteChunk(ctx context.Context, uploadID string, atOffset int64, data io.Reader) (int64, error)

	// UploadSize returns the current size of an in-progress upload.
	UploadSize(ctx context.Context, uploadID string) (int64, error)

	// FinishUpload moves a completed upload's staged data to its final
	// digest-addressed location. The adapter verifies the digest matches
	// before making the move durable.
	FinishUpload(ctx context.Context, uploadID string, digest string) (int64, error)

	// CancelUpload discards a staged upload's data.
	CancelUpload(ctx context.Context, uploadID string) error
}
