package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "kontakt"

// Scope restricts what a signed token may be used for.
type Scope string

const (
	ScopeAccess       Scope = "access"
	ScopeRefresh      Scope = "refresh"
	ScopeEmailConfirm Scope = "email_confirm"
)

// Claims represents JWT claims used across the service.
type Claims struct {
	Scope Scope `json:"scope"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 tokens.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec returns a codec bound to secret. clock may be nil.
func NewCodec(secret string, clock func() time.Time) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Codec{secret: []byte(secret), now: clock}, nil
}

// Issue signs a token for subject with the given scope and lifetime.
func (c *Codec) Issue(subject string, scope Scope, ttl time.Duration) (Token, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Token{}, errors.New("subject is required")
	}
	if ttl <= 0 {
		return Token{}, errors.New("ttl must be greater than zero")
	}

	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// jti keeps two tokens minted in the same second distinct; rotation relies on that.
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Decode verifies signature and expiry first, then the scope, and returns the subject.
func (c *Codec) Decode(token string, scope Scope) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidSignature
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidSignature
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidSignature
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidSignature
	}
	if claims.Scope != scope {
		return "", ErrInvalidScope
	}
	return claims.Subject, nil
}
