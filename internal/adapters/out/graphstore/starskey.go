// Package graphstore implements the GraphStore port over an embedded
// starskey LSM store, keyed by content digest.
package graphstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bnema/zerowrap"
	"github.com/starskey-io/starskey"

	"github.com/coreforge/registry/internal/domain"
)

const (
	prefixBlob            = "blob:"
	prefixManifest        = "manifest:"
	prefixSignature       = "signature:"
	prefixCharacteristics = "chars:"
)

// Starskey implements out.GraphStore using a single embedded LSM database
// with prefixed keys separating blob, manifest, signature, and derived
// characteristics rows.
type Starskey struct {
	db  *starskey.Starskey
	log zerowrap.Logger
}

// NewStarskey opens (or creates) a starskey database at dbPath.
func NewStarskey(dbPath string, log zerowrap.Logger) (*Starskey, error) {
	db, err := starskey.Open(&starskey.Config{
		Permission:        0750,
		Directory:         dbPath,
		FlushThreshold:    64 * 1024 * 1024,
		MaxLevel:          5,
		SizeFactor:        10,
		BloomFilter:       true,
		SuRF:              false,
		Logging:           false,
		Compression:       true,
		CompressionOption: starskey.SnappyCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("open starskey graph store: %w", err)
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "graphstore-starskey").
		Str("path", dbPath).
		Msg("content graph store initialized")

	return &Starskey{db: db, log: log}, nil
}

// Close releases the underlying database.
func (s *Starskey) Close() error { return s.db.Close() }

func (s *Starskey) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *starskey.Txn) error {
		txn.Put([]byte(key), data)
		return nil
	})
}

func (s *Starskey) get(key string, v any) error {
	data, err := s.db.Get([]byte(key))
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if data == nil {
		return domain.ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func (s *Starskey) PutBlob(ctx context.Context, b domain.Blob) error {
	return s.put(prefixBlob+b.Digest, b)
}

func (s *Starskey) GetBlob(ctx context.Context, digest string) (domain.Blob, error) {
	var b domain.Blob
	err := s.get(prefixBlob+digest, &b)
	return b, err
}

func (s *Starskey) DeleteBlob(ctx context.Context, digest string) error {
	return s.db.Delete([]byte(prefixBlob + digest))
}

// IncBlobRefCount adjusts a blob's reference count transactionally,
// implementing the content graph's shared-blob dedup accounting.
func (s *Starskey) IncBlobRefCount(ctx context.Context, digest string, delta int) (int, error) {
	key := []byte(prefixBlob + digest)
	var newCount int
	err := s.db.Update(func(txn *starskey.Txn) error {
		data, err := txn.Get(key)
		if err != nil {
			return err
		}
		if data == nil {
			return domain.ErrNotFound
		}
		var b domain.Blob
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		b.RefCount += delta
		newCount = b.RefCount
		out, err := json.Marshal(b)
		if err != nil {
			return err
		}
		txn.Put(key, out)
		return nil
	})
	return newCount, err
}

func (s *Starskey) PutManifest(ctx context.Context, m domain.Manifest) error {
	return s.put(prefixManifest+m.Digest, m)
}

func (s *Starskey) GetManifest(ctx context.Context, digest string) (domain.Manifest, error) {
	var m domain.Manifest
	err := s.get(prefixManifest+digest, &m)
	return m, err
}

func (s *Starskey) DeleteManifest(ctx context.Context, digest string) error {
	return s.db.Delete([]byte(prefixManifest + digest))
}

func (s *Starskey) PutSignature(ctx context.Context, sig domain.Signature) error {
	return s.put(prefixSignature+sig.ManifestDigest+":"+sig.Digest, sig)
}

// ListSignatures uses starskey's key-filtering scan since the store has no
// native secondary index on ManifestDigest.
func (s *Starskey) ListSignatures(ctx context.Context, manifestDigest string) ([]domain.Signature, error) {
	prefix := []byte(prefixSignature + manifestDigest + ":")
	results, err := s.db.FilterKeys(func(key []byte) bool {
		if len(key) < len(prefix) {
			return false
		}
		for i, b := range prefix {
			if key[i] != b {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("filter signatures: %w", err)
	}

	sigs := make([]domain.Signature, 0, len(results)/2)
	for i := 0; i+1 < len(results); i += 2 {
		var sig domain.Signature
		if err := json.Unmarshal(results[i+1], &sig); err != nil {
			continue
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func (s *Starskey) PutCharacteristics(ctx context.Context, manifestDigest string, c domain.Characteristics) error {
	return s.put(prefixCharacteristics+manifestDigest, c)
}

func (s *Starskey) GetCharacteristics(ctx context.Context, manifestDigest string) (domain.Characteristics, error) {
	var c domain.Characteristics
	err := s.get(prefixCharacteristics+manifestDigest, &c)
	return c, err
}
