package app

import (
	"path/filepath"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/require"

	"github.com/coreforge/registry/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Storage: config.StorageConfig{
			DataDir:      dir,
			ObjectStore:  filepath.Join(dir, "objects"),
			GraphStore:   filepath.Join(dir, "graph"),
			RelationalDB: filepath.Join(dir, "registry.db"),
			IdentityDir:  filepath.Join(dir, "identity"),
		},
		Auth: config.AuthConfig{
			TokenAuthDisabled:       true,
			TokenSignatureAlgorithm: "ES256",
			TokenIssuer:             "test-issuer",
			TokenAudience:           "test-registry",
			PrivateKeyPath:          filepath.Join(dir, "signing_key.pem"),
			TokenExpirationSeconds:  300,
		},
		Content: config.ContentConfig{
			SpecMode:           "strict",
			OCIPayloadMaxBytes: 10 * 1024 * 1024,
		},
		Sync: config.SyncConfig{
			MaxParallelFetches: 4,
			HTTPRetries:        1,
		},
		Signing: config.SigningConfig{
			MaxParallelSigningTasks: 2,
		},
	}
}

func TestNewRegistryWiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	log := zerowrap.New(zerowrap.Config{Level: "error", Format: "console"})

	registry, err := NewRegistry(cfg, log)
	require.NoError(t, err)
	require.NotNil(t, registry.server)
	require.NotNil(t, registry.tasks)
	require.NotNil(t, registry.events)
	require.NotNil(t, registry.sync)
	require.NotNil(t, registry.signing)
	require.NotNil(t, registry.token)
}
