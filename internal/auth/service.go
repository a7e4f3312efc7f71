package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kontakt.org/internal/ids"
)

const (
	defaultAccessTTL    = 15 * time.Minute
	defaultDevAccessTTL = 12 * time.Hour
	defaultRefreshTTL   = 7 * 24 * time.Hour
	defaultEmailTTL     = 7 * 24 * time.Hour
)

// Service issues and verifies tokens and runs the credential flows
// (signup, login, refresh rotation, email confirmation).
type Service struct {
	store Store
	codec *Codec
	now   func() time.Time

	tokenSecret  string
	accessTTL    time.Duration
	accessTTLSet bool
	devMode      bool
	refreshTTL   time.Duration
	emailTTL     time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 signing secret. Required.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		s.tokenSecret = strings.TrimSpace(secret)
		return nil
	}
}

// WithAccessTTL configures access token lifetime. It takes precedence over WithDevMode.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
			s.accessTTLSet = true
		}
		return nil
	}
}

// WithDevMode stretches the default access token lifetime to 12h.
func WithDevMode(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.devMode = enabled
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithEmailTTL configures the lifetime of email confirmation tokens.
func WithEmailTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.emailTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		emailTTL:   defaultEmailTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.devMode && !svc.accessTTLSet {
		svc.accessTTL = defaultDevAccessTTL
	}
	codec, err := NewCodec(svc.tokenSecret, svc.now)
	if err != nil {
		return nil, err
	}
	svc.codec = codec
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Service) CreateAccessToken(subject string) (Token, error) {
	return s.codec.Issue(subject, ScopeAccess, s.accessTTL)
}

// CreateRefreshToken mints a refresh token. The caller persists it; only the stored one is honored.
func (s *Service) CreateRefreshToken(subject string) (Token, error) {
	return s.codec.Issue(subject, ScopeRefresh, s.refreshTTL)
}

func (s *Service) CreateEmailToken(subject string) (Token, error) {
	return s.codec.Issue(subject, ScopeEmailConfirm, s.emailTTL)
}

// DecodeAccessToken returns the subject or one of ErrInvalidSignature, ErrTokenExpired, ErrInvalidScope.
func (s *Service) DecodeAccessToken(token string) (string, error) {
	return s.codec.Decode(token, ScopeAccess)
}

func (s *Service) DecodeRefreshToken(token string) (string, error) {
	return s.codec.Decode(token, ScopeRefresh)
}

func (s *Service) DecodeEmailToken(token string) (string, error) {
	return s.codec.Decode(token, ScopeEmailConfirm)
}

// VerifyRefresh accepts token only if it decodes and equals the stored refresh token.
// On mismatch the stored token is cleared, forcing a fresh login, and ErrRefreshRevoked is returned.
func (s *Service) VerifyRefresh(ctx context.Context, token string) (*Credential, error) {
	email, err := s.DecodeRefreshToken(token)
	if err != nil {
		return nil, err
	}
	cred, err := s.store.FindCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if cred.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*cred.RefreshToken), []byte(token)) != 1 {
		if err := s.store.UpdateRefreshToken(ctx, email, nil); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, ErrRefreshRevoked
	}
	return cred, nil
}

// RefreshAccessToken issues a new access token and leaves the refresh token in place.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (Token, *Credential, error) {
	cred, err := s.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return Token{}, nil, err
	}
	access, err := s.CreateAccessToken(cred.Email)
	if err != nil {
		return Token{}, nil, err
	}
	return access, cred, nil
}

// Rotate exchanges a valid refresh token for a new pair and makes the presented token stale.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (TokenPair, *Credential, error) {
	cred, err := s.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mintTokens(ctx, cred)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, cred, nil
}

// Login checks the password before the confirmation flag, so an unconfirmed
// account is only revealed to someone who already knows its password.
func (s *Service) Login(ctx context.Context, identifier, password string) (TokenPair, *Credential, error) {
	email := normalizeEmail(identifier)
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	cred, err := s.store.FindCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}
	if !VerifyPassword(cred.PasswordHash, password) {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if !cred.Confirmed {
		return TokenPair{}, nil, ErrNotConfirmed
	}
	pair, err := s.mintTokens(ctx, cred)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, cred, nil
}

// Signup registers an unconfirmed account with role user.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Credential, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	if err := validateSignup(in); err != nil {
		return nil, err
	}

	_, err := s.store.FindCredentialByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, ErrAlreadyExists
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	cred := &Credential{
		ID:           ids.New(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Avatar:       GravatarURL(in.Email),
		Role:         RoleUser,
	}
	if err := s.store.Persist(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// ConfirmEmail marks the token's subject confirmed. Replaying a link is a no-op
// reported through alreadyConfirmed.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (cred *Credential, alreadyConfirmed bool, err error) {
	email, err := s.DecodeEmailToken(token)
	if err != nil {
		return nil, false, err
	}
	cred, err = s.store.FindCredentialByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	if cred.Confirmed {
		return cred, true, nil
	}
	if err := s.store.SetConfirmed(ctx, email); err != nil {
		return nil, false, err
	}
	cred.Confirmed = true
	return cred, false, nil
}

// ConfirmationToken mints a fresh email token for an existing, unconfirmed account.
// A confirmed account yields ErrAlreadyExists.
func (s *Service) ConfirmationToken(ctx context.Context, email string) (Token, *Credential, error) {
	cred, err := s.store.FindCredentialByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Token{}, nil, err
	}
	if cred.Confirmed {
		return Token{}, cred, ErrAlreadyExists
	}
	tok, err := s.CreateEmailToken(cred.Email)
	if err != nil {
		return Token{}, nil, err
	}
	return tok, cred, nil
}

// Logout drops the stored refresh token.
func (s *Service) Logout(ctx context.Context, email string) error {
	return s.store.UpdateRefreshToken(ctx, normalizeEmail(email), nil)
}

func (s *Service) mintTokens(ctx context.Context, cred *Credential) (TokenPair, error) {
	access, err := s.CreateAccessToken(cred.Email)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.CreateRefreshToken(cred.Email)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.UpdateRefreshToken(ctx, cred.Email, &refresh.Value); err != nil {
		return TokenPair{}, err
	}
	cred.RefreshToken = &refresh.Value
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func validateSignup(in SignupInput) error {
	if n := len([]rune(in.Username)); n < 2 || n > 150 {
		return fmt.Errorf("%w: username must be 2-150 characters", ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	if n := len(in.Password); n < 6 || n > 64 {
		return fmt.Errorf("%w: password must be 6-64 characters", ErrInvalidInput)
	}
	return nil
}

var (
	decoyOnce sync.Once
	decoyHash []byte
)

// burnPasswordCheck spends one bcrypt comparison so unknown emails take as long as wrong passwords.
func burnPasswordCheck(password string) {
	decoyOnce.Do(func() {
		decoyHash, _ = bcrypt.GenerateFromPassword([]byte("kontakt-decoy"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(decoyHash, []byte(password))
}
