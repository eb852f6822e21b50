package keyprovider

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/veil"
	"go.uber.org/zap"
)

// Cache keeps keys fetched from another provider in Redis as PKCS#8 PEM.
// Redis errors are logged and fall through to the wrapped provider.
type Cache struct {
	next   veil.KeyProvider
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewCache wraps next. Zero TTL and prefix in cfg take the package defaults.
func NewCache(next veil.KeyProvider, client redis.UniversalClient, cfg veil.CacheConfig, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = veil.DefaultCacheTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = veil.DefaultCachePrefix
	}
	return &Cache{
		next:   next,
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		logger: logger,
	}
}

// FetchPrivateKey serves publicKey from Redis, falling back to the wrapped
// provider on a miss and caching what it returns.
func (c *Cache) FetchPrivateKey(ctx context.Context, publicKey string) (*rsa.PrivateKey, error) {
	fp, err := veil.Fingerprint(publicKey)
	if err != nil {
		return nil, err
	}
	key := c.prefix + fp

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		priv, perr := veil.ParsePrivateKey(cached)
		if perr == nil {
			return priv, nil
		}
		c.logger.Warn("discarding unreadable cached key", zap.String("key", key), zap.Error(perr))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("key cache read failed", zap.String("key", key), zap.Error(err))
	}

	priv, err := c.next.FetchPrivateKey(ctx, publicKey)
	if err != nil {
		return nil, err
	}

	encoded, err := veil.EncodePrivateKeyPEM(priv)
	if err != nil {
		return priv, nil
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.logger.Warn("key cache write failed", zap.String("key", key), zap.Error(err))
	}
	return priv, nil
}

// Invalidate drops the cached key for publicKey.
func (c *Cache) Invalidate(ctx context.Context, publicKey string) error {
	fp, err := veil.Fingerprint(publicKey)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, c.prefix+fp).Err()
}

// Name reports the wrapped provider.
func (c *Cache) Name() string { return nameOf(c.next) }
