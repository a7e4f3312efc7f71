package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kontakt.org/internal/auth"
	"kontakt.org/internal/obs"
)

// Credentials are the token-bearing parts of a request.
type Credentials struct {
	Bearer        string
	AccessCookie  string
	RefreshCookie string
}

// Resolution is the outcome of ResolveCurrentUser. Refreshed is set when the
// user was recovered through the refresh cookie and carries the new access token.
type Resolution struct {
	User      auth.User
	Refreshed *auth.Token
}

// Resolver answers "who is calling" using the auth service, the cache and the credential store.
// Every security decision reads the store; the cache only short-circuits profile lookups.
type Resolver struct {
	auth  *auth.Service
	store auth.Store
	cache *Cache
}

func NewResolver(svc *auth.Service, store auth.Store, cache *Cache) *Resolver {
	return &Resolver{auth: svc, store: store, cache: cache}
}

// Auth exposes the underlying token service.
func (r *Resolver) Auth() *auth.Service { return r.auth }

// ResolveCurrentUser tries the bearer token, then the access cookie, then a silent
// refresh via the refresh cookie. Token problems yield an error matching
// auth.ErrUnauthenticated; store failures are returned unchanged.
func (r *Resolver) ResolveCurrentUser(ctx context.Context, creds Credentials) (Resolution, error) {
	token := strings.TrimSpace(creds.Bearer)
	if token == "" {
		token = strings.TrimSpace(creds.AccessCookie)
	}

	var cause error = auth.ErrUnauthenticated
	if token != "" {
		email, err := r.auth.DecodeAccessToken(token)
		if err == nil {
			user, err := r.lookup(ctx, email)
			switch {
			case err == nil:
				return Resolution{User: *user}, nil
			case errors.Is(err, auth.ErrNotFound):
				// Token outlived its account; a refresh cannot help either.
				return Resolution{}, auth.ErrUnauthenticated
			default:
				return Resolution{}, err
			}
		}
		cause = err
	}

	refresh := strings.TrimSpace(creds.RefreshCookie)
	if refresh == "" {
		return Resolution{}, unauthenticated(cause)
	}
	access, cred, err := r.auth.RefreshAccessToken(ctx, refresh)
	if err != nil {
		if !auth.IsTokenError(err) {
			return Resolution{}, err
		}
		obs.ObserveAuth("silent_refresh", outcome(err))
		if errors.Is(err, auth.ErrRefreshRevoked) {
			// the stored token was just cleared; drop the snapshot as Logout does
			if email, derr := r.auth.DecodeRefreshToken(refresh); derr == nil {
				r.cache.Forget(ctx, email)
			}
		}
		return Resolution{}, unauthenticated(err)
	}
	obs.ObserveAuth("silent_refresh", "ok")
	user := cred.Public()
	r.cache.Put(ctx, &user)
	return Resolution{User: user, Refreshed: &access}, nil
}

// Login authenticates against the store and refreshes the cached snapshot.
func (r *Resolver) Login(ctx context.Context, email, password string) (auth.TokenPair, auth.User, error) {
	pair, cred, err := r.auth.Login(ctx, email, password)
	obs.ObserveAuth("login", outcome(err))
	if err != nil {
		return auth.TokenPair{}, auth.User{}, err
	}
	user := cred.Public()
	r.cache.Put(ctx, &user)
	return pair, user, nil
}

// Signup registers the account and seeds the cache with it.
func (r *Resolver) Signup(ctx context.Context, in auth.SignupInput) (auth.User, error) {
	cred, err := r.auth.Signup(ctx, in)
	obs.ObserveAuth("signup", outcome(err))
	if err != nil {
		return auth.User{}, err
	}
	user := cred.Public()
	r.cache.Put(ctx, &user)
	return user, nil
}

// ConfirmEmail confirms the token's subject and replaces its cached snapshot.
func (r *Resolver) ConfirmEmail(ctx context.Context, token string) (auth.User, bool, error) {
	cred, already, err := r.auth.ConfirmEmail(ctx, token)
	obs.ObserveAuth("confirm_email", outcome(err))
	if err != nil {
		return auth.User{}, false, err
	}
	user := cred.Public()
	r.cache.Put(ctx, &user)
	return user, already, nil
}

// Rotate exchanges a refresh token for a new pair.
func (r *Resolver) Rotate(ctx context.Context, refreshToken string) (auth.TokenPair, auth.User, error) {
	pair, cred, err := r.auth.Rotate(ctx, refreshToken)
	obs.ObserveAuth("rotate", outcome(err))
	if err != nil {
		return auth.TokenPair{}, auth.User{}, err
	}
	user := cred.Public()
	r.cache.Put(ctx, &user)
	return pair, user, nil
}

// Logout revokes the stored refresh token and forgets the cached snapshot.
func (r *Resolver) Logout(ctx context.Context, email string) error {
	err := r.auth.Logout(ctx, email)
	obs.ObserveAuth("logout", outcome(err))
	r.cache.Forget(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		return nil
	}
	return err
}

// ConfirmationToken returns a fresh email-confirmation token for an unconfirmed account.
func (r *Resolver) ConfirmationToken(ctx context.Context, email string) (auth.Token, auth.User, error) {
	tok, cred, err := r.auth.ConfirmationToken(ctx, email)
	if err != nil {
		return auth.Token{}, auth.User{}, err
	}
	return tok, cred.Public(), nil
}

func (r *Resolver) lookup(ctx context.Context, email string) (*auth.User, error) {
	if u, ok := r.cache.Get(ctx, email); ok {
		return u, nil
	}
	cred, err := r.store.FindCredentialByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	user := cred.Public()
	r.cache.Put(ctx, &user)
	return &user, nil
}

func unauthenticated(cause error) error {
	if cause == nil || errors.Is(cause, auth.ErrUnauthenticated) {
		return auth.ErrUnauthenticated
	}
	return fmt.Errorf("%w: %w", auth.ErrUnauthenticated, cause)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrNotConfirmed):
		return "not_confirmed"
	case errors.Is(err, auth.ErrRefreshRevoked):
		return "revoked"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrAlreadyExists):
		return "exists"
	case auth.IsTokenError(err):
		return "invalid_token"
	default:
		return "error"
	}
}
