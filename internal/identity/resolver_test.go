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

	"kontakt.org/internal/auth"
)

type countingStore struct {
	*auth.MemoryStore
	lookups atomic.Int32
	fail    error
}

func (s *countingStore) FindCredentialByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	s.lookups.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	return s.MemoryStore.FindCredentialByEmail(ctx, email)
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type fixture struct {
	store *countingStore
	svc   *auth.Service
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &countingStore{MemoryStore: auth.NewMemoryStore()}
	clk := &clock{t: time.Now()}
	svc, err := auth.NewService(store, auth.WithTokenSecret("test-secret"), auth.WithClock(clk.Now))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Signup(ctx, auth.SignupInput{Username: "ann", Email: "ann@example.com", Password: "secret12"})
	require.NoError(t, err)
	require.NoError(t, store.SetConfirmed(ctx, "ann@example.com"))
	store.lookups.Store(0)
	return &fixture{store: store, svc: svc, clock: clk}
}

func TestResolveFailsOpenWhenCacheBroken(t *testing.T) {
	f := newFixture(t)
	backend := &failingBackend{}
	r := NewResolver(f.svc, f.store, NewCache(backend, WithLogger(zap.NewNop())))

	access, err := f.svc.CreateAccessToken("ann@example.com")
	require.NoError(t, err)

	res, err := r.ResolveCurrentUser(context.Background(), Credentials{Bearer: access.Value})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", res.User.Email)
	assert.Nil(t, res.Refreshed)
	assert.Positive(t, backend.calls.Load(), "cache must have been consulted")
	assert.EqualValues(t, 1, f.store.lookups.Load())
}

func TestResolveUsesCacheOnSecondCall(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewResolver(f.svc, f.store, NewCache(NewRedisBackend(client), WithLogger(zap.NewNop())))

	access, err := f.svc.CreateAccessToken("ann@example.com")
	require.NoError(t, err)
	ctx := context.Background()

	first, err := r.ResolveCurrentUser(ctx, Credentials{Bearer: access.Value})
	require.NoError(t, err)
	second, err := r.ResolveCurrentUser(ctx, Credentials{Bearer: access.Value})
	require.NoError(t, err)

	assert.Equal(t, first.User, second.User, "cache and store paths return the same shape")
	assert.EqualValues(t, 1, f.store.lookups.Load(), "second lookup served from cache")
}

func TestResolvePrefersBearerOverCookie(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.svc, f.store, NewCache(nil))

	access, err := f.svc.CreateAccessToken("ann@example.com")
	require.NoError(t, err)

	res, err := r.ResolveCurrentUser(context.Background(), Credentials{AccessCookie: access.Value})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", res.User.Email)

	_, err = r.ResolveCurrentUser(context.Background(), Credentials{Bearer: "garbage", AccessCookie: access.Value})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated, "a bad bearer is not rescued by the access cookie")
}

func TestResolveSilentRefresh(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.svc, f.store, NewCache(nil))
	ctx := context.Background()

	pair, _, err := r.Login(ctx, "ann@example.com", "secret12")
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(20 * time.Minute)
	_, err = f.svc.DecodeAccessToken(pair.Access.Value)
	require.ErrorIs(t, err, auth.ErrTokenExpired)

	res, err := r.ResolveCurrentUser(ctx, Credentials{
		Bearer:        pair.Access.Value,
		RefreshCookie: pair.Refresh.Value,
	})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", res.User.Email)
	require.NotNil(t, res.Refreshed)
	sub, err := f.svc.DecodeAccessToken(res.Refreshed.Value)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", sub)
}

func TestResolveRevokedRefresh(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.svc, f.store, NewCache(nil))
	ctx := context.Background()

	first, _, err := r.Login(ctx, "ann@example.com", "secret12")
	require.NoError(t, err)
	_, _, err = r.Rotate(ctx, first.Refresh.Value)
	require.NoError(t, err)

	_, err = r.ResolveCurrentUser(ctx, Credentials{RefreshCookie: first.Refresh.Value})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.ErrorIs(t, err, auth.ErrRefreshRevoked)
}

func TestRevokedRefreshForgetsCachedUser(t *testing.T) {
	f := newFixture(t)
	rec := &memBackend{data: map[string][]byte{}}
	r := NewResolver(f.svc, f.store, NewCache(rec, WithLogger(zap.NewNop())))
	ctx := context.Background()

	first, _, err := r.Login(ctx, "ann@example.com", "secret12")
	require.NoError(t, err)
	_, _, err = r.Rotate(ctx, first.Refresh.Value)
	require.NoError(t, err)
	require.Contains(t, rec.data, "user:ann@example.com")

	_, err = r.ResolveCurrentUser(ctx, Credentials{RefreshCookie: first.Refresh.Value})
	require.ErrorIs(t, err, auth.ErrRefreshRevoked)
	assert.NotContains(t, rec.data, "user:ann@example.com", "reuse clears the session and its snapshot")

	f.store.lookups.Store(0)
	access, err := f.svc.CreateAccessToken("ann@example.com")
	require.NoError(t, err)
	_, err = r.ResolveCurrentUser(ctx, Credentials{Bearer: access.Value})
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.store.lookups.Load(), "next lookup goes to the store")
}

func TestResolveWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.svc, f.store, NewCache(nil))
	_, err := r.ResolveCurrentUser(context.Background(), Credentials{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	refresh, err := f.svc.CreateRefreshToken("ann@example.com")
	require.NoError(t, err)
	_, err = r.ResolveCurrentUser(context.Background(), Credentials{Bearer: refresh.Value})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.ErrorIs(t, err, auth.ErrInvalidScope)
}

func TestResolveStoreFailureIsNotUnauthenticated(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.svc, f.store, NewCache(nil))
	access, err := f.svc.CreateAccessToken("ann@example.com")
	require.NoError(t, err)

	f.store.fail = errors.Join(auth.ErrStore, errors.New("db down"))
	_, err = r.ResolveCurrentUser(context.Background(), Credentials{Bearer: access.Value})
	assert.ErrorIs(t, err, auth.ErrStore)
	assert.NotErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestWritePathsRefreshCache(t *testing.T) {
	f := newFixture(t)
	rec := &memBackend{data: map[string][]byte{}}
	r := NewResolver(f.svc, f.store, NewCache(rec, WithLogger(zap.NewNop())))
	ctx := context.Background()

	user, err := r.Signup(ctx, auth.SignupInput{Username: "bob", Email: "bob@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.False(t, user.Confirmed)
	assert.Contains(t, rec.data, "user:bob@example.com")

	tok, _, err := r.ConfirmationToken(ctx, "bob@example.com")
	require.NoError(t, err)
	confirmed, already, err := r.ConfirmEmail(ctx, tok.Value)
	require.NoError(t, err)
	assert.False(t, already)
	assert.True(t, confirmed.Confirmed)

	cached, ok := NewCache(rec).Get(ctx, "bob@example.com")
	require.True(t, ok)
	assert.True(t, cached.Confirmed, "confirmation replaces the cached snapshot")

	require.NoError(t, r.Logout(ctx, "bob@example.com"))
	assert.NotContains(t, rec.data, "user:bob@example.com")
}

type memBackend struct{ data map[string][]byte }

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		delete(m.data, key)
	}
	return nil
}
