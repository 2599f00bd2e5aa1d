// Package tokenstore implements the TokenStore port, adapted from the
// teacher's plaintext file-backed secrets store: one JSON file per issued
// token keyed by a hash of its JTI, plus a JSON revocation list.
package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/domain"
)

const (
	issuedTokenDir  = "registry/tokens"
	revokedListFile = "registry/revoked.json"
)

func sanitizeJTI(jti string) string {
	hash := sha256.Sum256([]byte(jti))
	return hex.EncodeToString(hash[:])
}

// Filesystem implements out.TokenStore using one JSON file per issued
// token under dataDir, plus a shared revocation list file.
type Filesystem struct {
	dataDir string
	log     zerowrap.Logger
}

// NewFilesystem creates a file-based token store rooted at dataDir.
func NewFilesystem(dataDir string, log zerowrap.Logger) *Filesystem {
	return &Filesystem{dataDir: dataDir, log: log}
}

func (s *Filesystem) tokenPath(jti string) string {
	return filepath.Join(s.dataDir, issuedTokenDir, sanitizeJTI(jti)+".json")
}

// SaveIssued persists token's metadata so later verify/revoke calls can
// look it up by JTI.
func (s *Filesystem) SaveIssued(_ context.Context, token domain.IssuedToken) error {
	dir := filepath.Join(s.dataDir, issuedTokenDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal issued token: %w", err)
	}
	if err := os.WriteFile(s.tokenPath(token.JTI), data, 0600); err != nil {
		return fmt.Errorf("write issued token: %w", err)
	}

	s.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "tokenstore").
		Str("jti", token.JTI).
		Str("subject", token.Subject).
		Msg("issued token stored")
	return nil
}

// GetIssued reads back a previously saved token's metadata.
func (s *Filesystem) GetIssued(_ context.Context, jti string) (domain.IssuedToken, error) {
	data, err := os.ReadFile(s.tokenPath(jti))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.IssuedToken{}, domain.ErrNotFound
		}
		return domain.IssuedToken{}, fmt.Errorf("read issued token: %w", err)
	}
	var token domain.IssuedToken
	if err := json.Unmarshal(data, &token); err != nil {
		return domain.IssuedToken{}, fmt.Errorf("unmarshal issued token: %w", err)
	}
	return token, nil
}

// Revoke appends jti to the shared revocation list, if not already present.
func (s *Filesystem) Revoke(_ context.Context, jti string) error {
	path := filepath.Join(s.dataDir, revokedListFile)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create revocation directory: %w", err)
	}

	revoked, err := s.readRevokedList(path)
	if err != nil {
		return err
	}
	for _, id := range revoked {
		if id == jti {
			return nil
		}
	}
	revoked = append(revoked, jti)

	data, err := json.MarshalIndent(revoked, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal revocation list: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write revocation list: %w", err)
	}

	s.log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "tokenstore").
		Str("jti", jti).
		Msg("token revoked")
	return nil
}

// IsRevoked reports whether jti appears in the revocation list.
func (s *Filesystem) IsRevoked(_ context.Context, jti string) (bool, error) {
	revoked, err := s.readRevokedList(filepath.Join(s.dataDir, revokedListFile))
	if err != nil {
		return false, err
	}
	for _, id := range revoked {
		if id == jti {
			return true, nil
		}
	}
	return false, nil
}

// ListIssued scans the token directory for tokens belonging to subject.
func (s *Filesystem) ListIssued(_ context.Context, subject string) ([]domain.IssuedToken, error) {
	dir := filepath.Join(s.dataDir, issuedTokenDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token directory: %w", err)
	}

	var tokens []domain.IssuedToken
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("failed to read issued token file")
			continue
		}
		var token domain.IssuedToken
		if err := json.Unmarshal(data, &token); err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("failed to unmarshal issued token")
			continue
		}
		if token.Subject == subject {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func (s *Filesystem) readRevokedList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read revocation list: %w", err)
	}
	var revoked []string
	if err := json.Unmarshal(data, &revoked); err != nil {
		return nil, fmt.Errorf("unmarshal revocation list: %w", err)
	}
	return revoked, nil
}
