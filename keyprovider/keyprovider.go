// Package keyprovider resolves RSA private keys for veil.Confidentiality.
//
// Providers are looked up by the fingerprint of the public key carried next
// to the encrypted fields (see veil.Fingerprint). Static serves keys held in
// memory, Vault reads them from a KV v2 engine, and Cache and Breaker wrap
// either with a Redis cache and a circuit breaker.
package keyprovider

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/veil"
	"go.uber.org/zap"
)

// ErrKeyNotFound reports that a provider has no key for a fingerprint.
var ErrKeyNotFound = errors.New("private key not found")

// ErrKeyMismatch reports a stored private key whose public half does not
// match the fingerprint it was stored under.
var ErrKeyMismatch = errors.New("private key does not match public key")

// FromConfig builds the provider chain described by cfg: the base provider,
// wrapped by Breaker when cfg.Breaker.MaxFailures is set, wrapped by Cache
// when cfg.Cache.RedisURL is set. An empty cfg.Type yields a nil provider.
// The returned func releases connections held by the chain.
func FromConfig(ctx context.Context, cfg veil.KeyProviderConfig, logger *zap.Logger) (veil.KeyProvider, func() error, error) {
	noop := func() error { return nil }
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   veil.KeyProvider
		err error
	)
	switch cfg.Type {
	case "":
		return nil, noop, nil
	case veil.ProviderStatic:
		p, err = LoadStatic(cfg.Static)
	case veil.ProviderVault:
		p, err = NewVault(cfg.Vault, logger)
	default:
		err = fmt.Errorf("%w: unknown key provider type %q", veil.ErrInvalidConfig, cfg.Type)
	}
	if err != nil {
		return nil, noop, err
	}

	if cfg.Breaker.MaxFailures > 0 {
		p = NewBreaker(p, cfg.Breaker, logger)
	}

	if cfg.Cache.RedisURL == "" {
		return p, noop, nil
	}
	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, noop, fmt.Errorf("%w: redis url: %w", veil.ErrInvalidConfig, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, noop, fmt.Errorf("connect to redis: %w", err)
	}
	return NewCache(p, client, cfg.Cache, logger), client.Close, nil
}

func fingerprintOf(priv *rsa.PrivateKey) (string, error) {
	pub, err := veil.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return "", err
	}
	return veil.Fingerprint(pub)
}

func nameOf(p veil.KeyProvider) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}
