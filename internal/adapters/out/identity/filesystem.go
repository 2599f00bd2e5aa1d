// Package identity implements the CredentialStore and RoleStore ports as
// flat JSON files under the data directory, following the same
// file-per-record layout the teacher uses for its unsafe secrets backend.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/domain"
)

const (
	usersFile = "registry/users.json"
	rolesFile = "registry/roles.json"
)

type userRecord struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// Filesystem implements out.CredentialStore and out.RoleStore over two
// JSON files: a user/bcrypt-hash table and a subject+namespace role table.
// Both are small, infrequently-written tables, so the whole file is
// rewritten under a mutex rather than using a database.
type Filesystem struct {
	dataDir string
	log     zerowrap.Logger
	mu      sync.Mutex
}

// NewFilesystem creates an identity store rooted at dataDir.
func NewFilesystem(dataDir string, log zerowrap.Logger) *Filesystem {
	return &Filesystem{dataDir: dataDir, log: log}
}

// CreateUser registers a new user with a bcrypt-hashed password, used by
// administrative setup rather than the token endpoint itself.
func (s *Filesystem) CreateUser(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.Username == username {
			return domain.ErrAlreadyExists
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	users = append(users, userRecord{Username: username, PasswordHash: string(hash)})
	return s.writeUsers(users)
}

// Authenticate implements out.CredentialStore.
func (s *Filesystem) Authenticate(_ context.Context, username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if u.Username != username {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
			return "", domain.ErrUnauthorized
		}
		return u.Username, nil
	}
	return "", domain.ErrUnauthorized
}

// SetRole implements administrative role assignment.
func (s *Filesystem) SetRole(subject, namespace string, role domain.NamespaceRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles, err := s.readRoles()
	if err != nil {
		return err
	}
	roles[subject+"/"+namespace] = role
	return s.writeRoles(roles)
}

// GetRole implements out.RoleStore.
func (s *Filesystem) GetRole(_ context.Context, subject, namespace string) (domain.NamespaceRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles, err := s.readRoles()
	if err != nil {
		return "", err
	}
	if role, ok := roles[subject+"/"+namespace]; ok {
		return role, nil
	}
	// A subject always owns a namespace matching their own username, the
	// same default the teacher applies to per-user container namespaces.
	if subject == namespace {
		return domain.RoleOwner, nil
	}
	return "", domain.ErrNotFound
}

func (s *Filesystem) readUsers() ([]userRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, usersFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var users []userRecord
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("unmarshal users file: %w", err)
	}
	return users, nil
}

func (s *Filesystem) writeUsers(users []userRecord) error {
	path := filepath.Join(s.dataDir, usersFile)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users file: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (s *Filesystem) readRoles() (map[string]domain.NamespaceRole, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, rolesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.NamespaceRole{}, nil
		}
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	roles := map[string]domain.NamespaceRole{}
	if err := json.Unmarshal(data, &roles); err != nil {
		return nil, fmt.Errorf("unmarshal roles file: %w", err)
	}
	return roles, nil
}

func (s *Filesystem) writeRoles(roles map[string]domain.NamespaceRole) error {
	path := filepath.Join(s.dataDir, rolesFile)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}
	data, err := json.MarshalIndent(roles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal roles file: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
