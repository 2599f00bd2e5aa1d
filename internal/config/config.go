// Package config loads the registry's configuration from TOML files and
// environment variables via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for the registry service.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Content ContentConfig `mapstructure:"content"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Signing SigningConfig `mapstructure:"signing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// TrustedProxies lists CIDR ranges allowed to set X-Forwarded-For when
	// determining a request's client IP.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// AllowedNetworks, when non-empty, restricts registry access to the
	// listed CIDR ranges (localhost is always allowed).
	AllowedNetworks []string `mapstructure:"allowed_networks"`
}

// StorageConfig configures where repository state and content bytes live.
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	ObjectStore string `mapstructure:"object_store_dir"`
	GraphStore  string `mapstructure:"graph_store_path"`
	RelationalDB string `mapstructure:"relational_db_path"`
	IdentityDir string `mapstructure:"identity_dir"`
}

// AuthConfig configures the bearer-token service, following spec §6's
// token configuration table.
type AuthConfig struct {
	TokenAuthDisabled      bool   `mapstructure:"token_auth_disabled"`
	TokenServerURL         string `mapstructure:"token_server_url"`
	TokenSignatureAlgorithm string `mapstructure:"token_signature_algorithm"`
	TokenIssuer            string `mapstructure:"token_issuer"`
	TokenAudience          string `mapstructure:"token_audience"`
	PublicKeyPath          string `mapstructure:"public_key_path"`
	PrivateKeyPath         string `mapstructure:"private_key_path"`
	TokenExpirationSeconds int    `mapstructure:"token_expiration_seconds"`
}

// ContentConfig configures content-graph validation behavior.
type ContentConfig struct {
	SpecMode                   string            `mapstructure:"spec_mode"`
	AdditionalOCIArtifactTypes map[string]string `mapstructure:"additional_oci_artifact_types"`
	OCIPayloadMaxBytes         int64             `mapstructure:"oci_payload_max_bytes"`
	FlatpakIndexEnabled        bool              `mapstructure:"flatpak_index_enabled"`
	CacheEnabled               bool              `mapstructure:"cache_enabled"`
}

// SyncConfig configures the Synchronizer's default behavior.
type SyncConfig struct {
	MaxParallelFetches int `mapstructure:"max_parallel_fetches"`
	HTTPRetries        int `mapstructure:"http_retries"`
}

// SigningConfig configures the SigningAdapter.
type SigningConfig struct {
	Enabled                  bool   `mapstructure:"enabled"`
	BinaryPath               string `mapstructure:"binary_path"`
	KeyRef                   string `mapstructure:"key_ref"`
	MaxParallelSigningTasks  int    `mapstructure:"max_parallel_signing_tasks"`
}

// Load reads configuration from defaults, the given TOML file path (if
// non-empty), and environment variables prefixed REGISTRY_, in that order
// of increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("registry")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.allowed_networks", []string{})

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.object_store_dir", filepath.Join(dataDir, "objects"))
	v.SetDefault("storage.graph_store_path", filepath.Join(dataDir, "graph"))
	v.SetDefault("storage.relational_db_path", filepath.Join(dataDir, "registry.db"))
	v.SetDefault("storage.identity_dir", filepath.Join(dataDir, "identity"))

	v.SetDefault("auth.token_auth_disabled", false)
	v.SetDefault("auth.token_signature_algorithm", "ES256")
	v.SetDefault("auth.token_issuer", "registry-token-service")
	v.SetDefault("auth.token_audience", "registry")
	v.SetDefault("auth.public_key_path", filepath.Join(dataDir, "token_signing_key.pub"))
	v.SetDefault("auth.private_key_path", filepath.Join(dataDir, "token_signing_key"))
	v.SetDefault("auth.token_expiration_seconds", 300)

	v.SetDefault("content.spec_mode", "strict")
	v.SetDefault("content.oci_payload_max_bytes", 10*1024*1024)
	v.SetDefault("content.flatpak_index_enabled", false)
	v.SetDefault("content.cache_enabled", true)

	v.SetDefault("sync.max_parallel_fetches", 8)
	v.SetDefault("sync.http_retries", 3)

	v.SetDefault("signing.enabled", false)
	v.SetDefault("signing.max_parallel_signing_tasks", 4)
}

func (c *Config) validate() error {
	validSpecModes := []string{"strict", "relaxed"}
	if !contains(validSpecModes, c.Content.SpecMode) {
		return fmt.Errorf("content.spec_mode must be one of: %s", strings.Join(validSpecModes, ", "))
	}

	if !c.Auth.TokenAuthDisabled {
		validAlgorithms := []string{"ES256", "RS256", "PS256"}
		if !contains(validAlgorithms, c.Auth.TokenSignatureAlgorithm) {
			return fmt.Errorf("auth.token_signature_algorithm must be one of: %s", strings.Join(validAlgorithms, ", "))
		}
	}

	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// defaultDataDir returns a platform-appropriate default data directory.
func defaultDataDir() string {
	uid := os.Getuid()
	if uid != 0 {
		if homeDir, err := os.UserHomeDir(); err == nil {
			dataDir := filepath.Join(homeDir, ".local/share/registry")
			log.Debug().Str("data_dir", dataDir).Msg("using user data directory for rootless environment")
			return dataDir
		}
	}
	return "./data"
}
