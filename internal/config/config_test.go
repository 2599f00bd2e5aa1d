package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "strict", cfg.Content.SpecMode)
	assert.Equal(t, "ES256", cfg.Auth.TokenSignatureAlgorithm)
	assert.False(t, cfg.Auth.TokenAuthDisabled)
	assert.Equal(t, int64(10*1024*1024), cfg.Content.OCIPayloadMaxBytes)
	assert.Equal(t, 4, cfg.Signing.MaxParallelSigningTasks)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.toml")
	contents := []byte(`
[server]
host = "127.0.0.1"
port = 5555

[content]
spec_mode = "relaxed"
flatpak_index_enabled = true
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5555, cfg.Server.Port)
	assert.Equal(t, "relaxed", cfg.Content.SpecMode)
	assert.True(t, cfg.Content.FlatpakIndexEnabled)
}

func TestLoadRejectsInvalidSpecMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.toml")
	require.NoError(t, os.WriteFile(path, []byte("[content]\nspec_mode = \"bogus\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
