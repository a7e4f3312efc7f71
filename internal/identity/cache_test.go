package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"kontakt.org/internal/auth"
)

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(NewRedisBackend(client), WithLogger(zap.NewNop())), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)

	_, ok := cache.Get(ctx, "ann@example.com")
	assert.False(t, ok, "empty cache must miss")

	user := &auth.User{ID: "u-1", Username: "ann", Email: "ann@example.com", Role: auth.RoleUser, Confirmed: true}
	cache.Put(ctx, user)

	assert.True(t, mr.Exists("user:ann@example.com"))
	assert.Equal(t, 900*time.Second, mr.TTL("user:ann@example.com"))

	got, ok := cache.Get(ctx, "ann@example.com")
	require.True(t, ok)
	assert.Equal(t, *user, *got)

	mr.FastForward(901 * time.Second)
	_, ok = cache.Get(ctx, "ann@example.com")
	assert.False(t, ok, "entry must expire after ttl")
}

func TestRedisCacheNeverStoresSecrets(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)
	refresh := "refresh-token-value"
	cred := &auth.Credential{ID: "u-1", Email: "ann@example.com", PasswordHash: "$2a$10$hash", RefreshToken: &refresh}
	user := cred.Public()
	cache.Put(ctx, &user)

	raw, err := mr.Get("user:ann@example.com")
	require.NoError(t, err)
	assert.NotContains(t, raw, "$2a$10$hash")
	assert.NotContains(t, raw, refresh)
}

func TestRedisCacheUnreachableIsMiss(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(NewRedisBackend(client), WithLogger(zap.NewNop()))

	cache.Put(ctx, &auth.User{Email: "ann@example.com"})
	_, ok := cache.Get(ctx, "ann@example.com")
	assert.False(t, ok)
}

type failingBackend struct{ calls atomic.Int32 }

func (f *failingBackend) Get(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	return nil, errors.New("backend down")
}

func (f *failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	f.calls.Add(1)
	return errors.New("backend down")
}

func (f *failingBackend) Expire(context.Context, string, time.Duration) error {
	f.calls.Add(1)
	return errors.New("backend down")
}

func TestCacheFailOpenLogsAndMisses(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	backend := &failingBackend{}
	cache := NewCache(backend, WithLogger(zap.New(core)))
	ctx := context.Background()

	_, ok := cache.Get(ctx, "ann@example.com")
	assert.False(t, ok)
	cache.Put(ctx, &auth.User{Email: "ann@example.com"})
	cache.Forget(ctx, "ann@example.com")

	assert.EqualValues(t, 3, backend.calls.Load())
	entries := logs.FilterMessage("identity cache degraded").All()
	require.Len(t, entries, 3)
	assert.Equal(t, "get", entries[0].ContextMap()["op"])
	assert.Equal(t, "user:ann@example.com", entries[0].ContextMap()["key"])
}

type corruptBackend struct{ failingBackend }

func (*corruptBackend) Get(context.Context, string) ([]byte, error) { return []byte("{not json"), nil }

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	cache := NewCache(&corruptBackend{}, WithLogger(zap.NewNop()))
	_, ok := cache.Get(context.Background(), "ann@example.com")
	assert.False(t, ok)
}

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	var nilCache *Cache
	assert.False(t, nilCache.Enabled())
	_, ok := nilCache.Get(ctx, "ann@example.com")
	assert.False(t, ok)
	nilCache.Put(ctx, &auth.User{Email: "ann@example.com"})
	nilCache.Forget(ctx, "ann@example.com")

	disabled := NewCache(nil)
	assert.False(t, disabled.Enabled())
	_, ok = disabled.Get(ctx, "ann@example.com")
	assert.False(t, ok)
}

func TestForgetExpiresKey(t *testing.T) {
	ctx := context.Background()
	rec := &recordingBackend{}
	cache := NewCache(rec, WithTTL(time.Minute))
	cache.Put(ctx, &auth.User{Email: "ann@example.com"})
	cache.Forget(ctx, "ann@example.com")

	require.Equal(t, []time.Duration{time.Minute, time.Minute, 0}, rec.ttls)
}

type recordingBackend struct{ ttls []time.Duration }

func (r *recordingBackend) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (r *recordingBackend) Set(_ context.Context, _ string, _ []byte, ttl time.Duration) error {
	r.ttls = append(r.ttls, ttl)
	return nil
}

func (r *recordingBackend) Expire(_ context.Context, _ string, ttl time.Duration) error {
	r.ttls = append(r.ttls, ttl)
	return nil
}
