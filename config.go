package veil

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable LoadConfig falls back to when no
// path is given.
const EnvConfig = "VEIL_CONFIG"

// Config is the file form of the engine's settings.
//
//	strict: false
//	max_depth: 64
//	masking:
//	  opt_out_param: disableMasking
//	key_provider:
//	  type: vault
//	  vault:
//	    address: https://vault.internal:8200
//	    mount: secret
//	    path: veil/keys
//	  cache:
//	    redis_url: redis://localhost:6379/0
//	    ttl: 10m
//	  breaker:
//	    max_failures: 5
//	    timeout: 30s
type Config struct {
	Strict      bool              `yaml:"strict"`
	MaxDepth    int               `yaml:"max_depth"`
	Masking     MaskingConfig     `yaml:"masking"`
	KeyProvider KeyProviderConfig `yaml:"key_provider"`
}

// MaskingConfig configures HTTP masking hooks.
type MaskingConfig struct {
	// OptOutParam is the query parameter that disables masking for a request.
	OptOutParam string `yaml:"opt_out_param"`
}

// KeyProviderConfig selects and configures the private key provider chain.
type KeyProviderConfig struct {
	Type    string        `yaml:"type"` // static or vault
	Static  StaticConfig  `yaml:"static"`
	Vault   VaultConfig   `yaml:"vault"`
	Cache   CacheConfig   `yaml:"cache"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// StaticConfig lists private keys held in configuration or on disk.
type StaticConfig struct {
	Keys  []string `yaml:"keys"`  // PEM, JWK, hex or base64
	Files []string `yaml:"files"` // paths to key files
}

// VaultConfig locates private keys in a Vault KV v2 engine. Keys are read
// from <mount>/data/<path>/<fingerprint>, field Field.
type VaultConfig struct {
	Address   string `yaml:"address"`
	Token     string `yaml:"token"`
	Namespace string `yaml:"namespace"`
	Mount     string `yaml:"mount"`
	Path      string `yaml:"path"`
	Field     string `yaml:"field"`
}

// CacheConfig enables a Redis cache in front of the provider.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// BreakerConfig enables a circuit breaker around the provider.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Key provider types.
const (
	ProviderStatic = "static"
	ProviderVault  = "vault"
)

// Defaults applied by ParseConfig.
const (
	DefaultOptOutParam = "disableMasking"
	DefaultVaultMount  = "secret"
	DefaultVaultField  = "private_key"
	DefaultCachePrefix = "veil:key:"
	DefaultCacheTTL    = 10 * time.Minute
)

// ErrInvalidConfig reports a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig reads and parses a YAML config file. An empty path falls back
// to $VEIL_CONFIG; with neither set the default config is returned.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return ParseConfig(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config, applies defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Masking.OptOutParam == "" {
		c.Masking.OptOutParam = DefaultOptOutParam
	}
	kp := &c.KeyProvider
	if kp.Type == ProviderVault {
		if kp.Vault.Mount == "" {
			kp.Vault.Mount = DefaultVaultMount
		}
		if kp.Vault.Field == "" {
			kp.Vault.Field = DefaultVaultField
		}
	}
	if kp.Cache.RedisURL != "" {
		if kp.Cache.Prefix == "" {
			kp.Cache.Prefix = DefaultCachePrefix
		}
		if kp.Cache.TTL == 0 {
			kp.Cache.TTL = DefaultCacheTTL
		}
	}
}

// Validate checks field ranges and provider requirements.
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must not be negative", ErrInvalidConfig)
	}
	kp := c.KeyProvider
	switch kp.Type {
	case "":
	case ProviderStatic:
		if len(kp.Static.Keys) == 0 && len(kp.Static.Files) == 0 {
			return fmt.Errorf("%w: static key provider needs keys or files", ErrInvalidConfig)
		}
	case ProviderVault:
		if kp.Vault.Path == "" {
			return fmt.Errorf("%w: vault key provider needs a path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown key provider type %q", ErrInvalidConfig, kp.Type)
	}
	if kp.Cache.TTL < 0 {
		return fmt.Errorf("%w: cache ttl must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Options returns the walker options described by c.
func (c *Config) Options() []Option {
	return []Option{WithStrict(c.Strict), WithMaxDepth(c.MaxDepth)}
}
