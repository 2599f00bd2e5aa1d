// Package objectstore implements the ObjectStore port using the local
// filesystem.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"

	"github.com/coreforge/registry/internal/domain"
	"github.com/coreforge/registry/pkg/digest"
)

// Filesystem implements out.ObjectStore using a sharded blobs/ tree plus an
// uploads/ staging area, following the same atomic tmp-then-rename
// discipline the teacher's blob adapter uses.
type Filesystem struct {
	rootDir string
	log     zerowrap.Logger
}

// NewFilesystem creates a filesystem-backed object store rooted at
// rootDir, creating the blobs/ and uploads/ directories if absent.
func NewFilesystem(rootDir string, log zerowrap.Logger) (*Filesystem, error) {
	for _, dir := range []string{
		filepath.Join(rootDir, "blobs"),
		filepath.Join(rootDir, "uploads"),
	} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "objectstore-filesystem").
		Str("root_dir", rootDir).
		Msg("object store initialized")

	return &Filesystem{rootDir: rootDir, log: log}, nil
}

func (f *Filesystem) blobPath(dig string) (string, error) {
	algo, shard, rest, err := digest.ShardPath(dig)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.rootDir, "blobs", algo, shard, rest), nil
}

func (f *Filesystem) uploadPath(uploadID string) string {
	return filepath.Join(f.rootDir, "uploads", uploadID)
}

// Put writes data under digest in one shot and returns the number of bytes
// written. It does not check the bytes against the digest.
func (f *Filesystem) Put(ctx context.Context, dig string, data io.Reader) (int64, error) {
	path, err := f.blobPath(dig)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return 0, fmt.Errorf("create blob directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp blob file: %w", err)
	}

	written, copyErr := io.Copy(file, data)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr != nil {
			return 0, fmt.Errorf("write blob data: %w", copyErr)
		}
		return 0, fmt.Errorf("close temp blob file: %w", closeErr)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("move blob into place: %w", err)
	}

	return written, nil
}

// Get opens a reader for the object at digest.
func (f *Filesystem) Get(ctx context.Context, dig string) (io.ReadCloser, error) {
	path, err := f.blobPath(dig)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", dig)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return file, nil
}

// Exists reports whether digest is already stored.
func (f *Filesystem) Exists(ctx context.Context, dig string) (bool, error) {
	path, err := f.blobPath(dig)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, statErr
}

// Delete removes the object at digest, if present.
func (f *Filesystem) Delete(ctx context.Context, dig string) error {
	path, err := f.blobPath(dig)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// StartUpload creates a new empty staging file and returns its ID.
func (f *Filesystem) StartUpload(ctx context.Context) (string, error) {
	id := uuid.NewString()
	file, err := os.Create(f.uploadPath(id))
	if err != nil {
		return "", fmt.Errorf("create upload staging file: %w", err)
	}
	file.Close()
	return id, nil
}

// WriteChunk appends data at atOffset, which must match the upload's
// current size.
func (f *Filesystem) WriteChunk(ctx context.Context, uploadID string, atOffset int64, data io.Reader) (int64, error) {
	path := f.uploadPath(uploadID)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("upload not found: %s", uploadID)
		}
		return 0, fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() != atOffset {
		msg := fmt.Sprintf("upload chunk out of order: have %d, want offset %d", info.Size(), atOffset)
		return 0, domain.NewRegistryError(domain.CodeRangeInvalid, msg, nil)
	}

	file, err := os.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return 0, fmt.Errorf("open upload staging file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(atOffset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek upload staging file: %w", err)
	}

	written, err := io.Copy(file, data)
	if err != nil {
		return 0, fmt.Errorf("write upload chunk: %w", err)
	}

	return atOffset + written, nil
}

// UploadSize reports the current size of the staged upload.
func (f *Filesystem) UploadSize(ctx context.Context, uploadID string) (int64, error) {
	info, err := os.Stat(f.uploadPath(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("upload not found: %s", uploadID)
		}
		return 0, fmt.Errorf("stat upload: %w", err)
	}
	return info.Size(), nil
}

// FinishUpload moves the staged file into its final digest-addressed
// location after verifying the caller's declared digest against the
// content that was actually written.
func (f *Filesystem) FinishUpload(ctx context.Context, uploadID string, dig string) (int64, error) {
	src := f.uploadPath(uploadID)

	verifyFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open upload staging file: %w", err)
	}
	algo := digest.AlgorithmOf(dig)
	verifier, err := digest.NewVerifier(verifyFile, algo)
	if err != nil {
		verifyFile.Close()
		return 0, err
	}
	written, err := io.Copy(io.Discard, verifier)
	verifyFile.Close()
	if err != nil {
		return 0, fmt.Errorf("verify upload digest: %w", err)
	}
	if verifier.Digest(algo) != dig {
		return 0, fmt.Errorf("digest mismatch: computed %s, expected %s", verifier.Digest(algo), dig)
	}

	dst, err := f.blobPath(dig)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return 0, fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return 0, fmt.Errorf("move upload into blob storage: %w", err)
	}

	return written, nil
}

// CancelUpload discards the staged upload.
func (f *Filesystem) CancelUpload(ctx context.Context, uploadID string) error {
	if err := os.Remove(f.uploadPath(uploadID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload staging file: %w", err)
	}
	return nil
}
