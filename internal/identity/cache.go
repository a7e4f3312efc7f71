// Package identity resolves the current user for a request, with a best-effort
// cache in front of the credential store.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"kontakt.org/internal/auth"
	"kontakt.org/internal/obs"
)

// DefaultTTL is how long a cached identity lives.
const DefaultTTL = 900 * time.Second

// ErrCacheMiss is returned by a Backend when the key is absent.
var ErrCacheMiss = errors.New("identity: cache miss")

// Backend is the minimal key/value surface the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisBackend adapts a go-redis client to Backend.
type RedisBackend struct {
	client redis.Cmdable
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(client redis.Cmdable) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return raw, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

// Cache is a fail-open, cache-aside store of public user snapshots keyed by email.
// A nil *Cache or a Cache without a backend behaves as a permanent miss.
type Cache struct {
	backend Backend
	ttl     time.Duration
	log     *zap.Logger
}

// CacheOption configures Cache.
type CacheOption func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for swallowed backend errors.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCache builds a cache over backend. Pass a nil backend when the cache is disabled.
func NewCache(backend Backend, opts ...CacheOption) *Cache {
	c := &Cache{backend: backend, ttl: DefaultTTL, log: obs.Logger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether lookups can ever hit.
func (c *Cache) Enabled() bool { return c != nil && c.backend != nil }

// Key is the backend key for email.
func Key(email string) string { return "user:" + email }

// Get returns the cached user. Backend and decode failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, email string) (*auth.User, bool) {
	if !c.Enabled() {
		return nil, false
	}
	raw, err := c.backend.Get(ctx, Key(email))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			obs.ObserveCache(obs.CacheMiss)
		} else {
			c.fail("get", email, err)
		}
		return nil, false
	}
	var u auth.User
	if err := json.Unmarshal(raw, &u); err != nil {
		c.fail("decode", email, err)
		return nil, false
	}
	obs.ObserveCache(obs.CacheHit)
	return &u, true
}

// Put stores user for the configured TTL. Errors are swallowed.
func (c *Cache) Put(ctx context.Context, user *auth.User) {
	if !c.Enabled() || user == nil || user.Email == "" {
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		c.fail("encode", user.Email, err)
		return
	}
	key := Key(user.Email)
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		c.fail("set", user.Email, err)
		return
	}
	if err := c.backend.Expire(ctx, key, c.ttl); err != nil {
		c.fail("expire", user.Email, err)
	}
}

// Forget drops the entry for email. Errors are swallowed.
func (c *Cache) Forget(ctx context.Context, email string) {
	if !c.Enabled() || email == "" {
		return
	}
	if err := c.backend.Expire(ctx, Key(email), 0); err != nil {
		c.fail("forget", email, err)
	}
}

func (c *Cache) fail(op, email string, err error) {
	obs.ObserveCache(obs.CacheError)
	c.log.Warn("identity cache degraded",
		zap.String("op", op),
		zap.String("key", Key(email)),
		zap.Error(err),
	)
}
