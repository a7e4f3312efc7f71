package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	codec, err := NewCodec("test-secret", clock.Now)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestCodecRoundTripAndExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	for _, ttl := range []time.Duration{time.Second, 15 * time.Minute, 12 * time.Hour} {
		tok, err := codec.Issue("ann@example.com", ScopeAccess, ttl)
		if err != nil {
			t.Fatalf("Issue(%v): %v", ttl, err)
		}
		if !tok.ExpiresAt.Equal(clock.Now().Add(ttl)) {
			t.Fatalf("unexpected expiry %v for ttl %v", tok.ExpiresAt, ttl)
		}

		sub, err := codec.Decode(tok.Value, ScopeAccess)
		if err != nil || sub != "ann@example.com" {
			t.Fatalf("Decode before expiry: sub=%q err=%v", sub, err)
		}

		saved := clock.t
		clock.Advance(ttl + time.Second)
		if _, err := codec.Decode(tok.Value, ScopeAccess); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired after %v, got %v", ttl, err)
		}
		clock.t = saved
	}
}

func TestCodecRejectsScopeConfusion(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	codec := newTestCodec(t, clock)

	for _, scope := range []Scope{ScopeRefresh, ScopeEmailConfirm} {
		tok, err := codec.Issue("ann@example.com", scope, time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, err := codec.Decode(tok.Value, ScopeAccess); !errors.Is(err, ErrInvalidScope) {
			t.Fatalf("%s token accepted as access: %v", scope, err)
		}
	}
}

func TestCodecRejectsTampering(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	codec := newTestCodec(t, clock)
	tok, err := codec.Issue("ann@example.com", ScopeAccess, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewCodec("other-secret", clock.Now)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if _, err := other.Decode(tok.Value, ScopeAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for foreign secret, got %v", err)
	}

	parts := strings.Split(tok.Value, ".")
	forged := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := codec.Decode(forged, ScopeAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for forged signature, got %v", err)
	}

	for _, garbage := range []string{"", "   ", "a.b", "not-a-jwt"} {
		if _, err := codec.Decode(garbage, ScopeAccess); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("Decode(%q): expected ErrInvalidSignature, got %v", garbage, err)
		}
	}
}

func TestCodecRejectsAlgNone(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	codec := newTestCodec(t, clock)

	claims := Claims{
		Scope: ScopeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "mallory@example.com",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := codec.Decode(unsigned, ScopeAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("alg=none accepted: %v", err)
	}
}

func TestCodecMintsDistinctTokensWithinSameSecond(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)
	a, _ := codec.Issue("ann@example.com", ScopeRefresh, time.Hour)
	b, _ := codec.Issue("ann@example.com", ScopeRefresh, time.Hour)
	if a.Value == b.Value {
		t.Fatal("tokens minted at the same instant must differ")
	}
}

func TestNewCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec("  ", nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
