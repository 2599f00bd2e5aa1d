// Package signingkey implements SignerKeySource by loading an ECDSA P-256
// key pair from a PEM file on disk, generating one on first use if absent.
package signingkey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/domain"
)

// File loads or generates an ES256 signing key pair persisted as a PEM file.
type File struct {
	keyID      string
	privateKey *ecdsa.PrivateKey
}

// Load reads the EC private key at path, generating and writing a new one
// if the file does not yet exist.
func Load(path string, log zerowrap.Logger) (*File, error) {
	key, err := readKey(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		key, err = generateAndWriteKey(path)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "signingkey-file").
			Str("path", path).
			Msg("generated new token signing key")
	}

	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(pub)
	return &File{keyID: hex.EncodeToString(sum[:8]), privateKey: key}, nil
}

// Algorithm reports the signing algorithm this key pair is used with.
func (f *File) Algorithm() domain.SigningAlgorithm { return domain.SigningAlgES256 }

// PrivateKey returns the EC private key used to sign tokens.
func (f *File) PrivateKey() crypto.PrivateKey { return f.privateKey }

// PublicKey returns the EC public key used to verify tokens.
func (f *File) PublicKey() crypto.PublicKey { return &f.privateKey.PublicKey }

// KeyID returns a stable identifier derived from the public key, suitable
// for a JWT "kid" header so verifiers can pick the right key on rotation.
func (f *File) KeyID() string { return f.keyID }

func readKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode PEM block from %s", path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse EC private key: %w", err)
	}
	return key, nil
}

func generateAndWriteKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate EC key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal EC private key: %w", err)
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}
