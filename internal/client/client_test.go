package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"kontakt.org/internal/contacts"
)

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, want: contacts.ErrNotFound},
		{name: "conflict", status: http.StatusConflict, want: contacts.ErrAlreadyExists},
		{name: "validation", status: http.StatusUnprocessableEntity, want: contacts.ErrInvalidInput},
		{name: "bad request", status: http.StatusBadRequest, want: contacts.ErrInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var err error = &Error{Status: tc.status, Message: "x"}
			if !errors.Is(err, tc.want) {
				t.Fatalf("errors.Is(%v, %v) = false", err, tc.want)
			}
		})
	}

	if errors.Unwrap(&Error{Status: http.StatusInternalServerError}) != nil {
		t.Fatal("5xx must not map to a domain error")
	}
}

func TestLoginThenCreateContact(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("username") != "ann@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Tokens{AccessToken: "tok", TokenType: "bearer"})
	})
	mux.HandleFunc("/api/contacts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in contacts.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if in.Email == "dup@example.com" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"contact with this email already exists","request_id":"r1"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(contacts.Contact{ID: "c1", Email: in.Email})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL+"/", WithHTTPClient(srv.Client()))
	ctx := context.Background()

	if _, err := c.CreateContact(ctx, contacts.Input{Email: "a@example.com"}); err == nil {
		t.Fatal("expected 401 before login")
	}
	if _, err := c.Login(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	got, err := c.CreateContact(ctx, contacts.Input{Email: "a@example.com"})
	if err != nil || got.ID != "c1" {
		t.Fatalf("CreateContact: %+v %v", got, err)
	}

	_, err = c.CreateContact(ctx, contacts.Input{Email: "dup@example.com"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.RequestID != "r1" || !errors.Is(err, contacts.ErrAlreadyExists) {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestCreateContactRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in contacts.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email != "a@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(contacts.Contact{ID: "c1", Email: in.Email})
	}))
	defer srv.Close()
	ctx := context.Background()

	c := New(srv.URL, WithHTTPClient(srv.Client()), WithRetry(time.Millisecond, 5))
	got, err := c.CreateContact(ctx, contacts.Input{Email: "a@example.com"})
	if err != nil || got.ID != "c1" {
		t.Fatalf("CreateContact: %+v %v", got, err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected 3 attempts with the body replayed, got %d", n)
	}

	calls.Store(0)
	limited := New(srv.URL, WithHTTPClient(srv.Client()), WithRetry(time.Millisecond, 1))
	_, err = limited.CreateContact(ctx, contacts.Input{Email: "a@example.com"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after retries ran out, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected one retry, got %d attempts", n)
	}

	calls.Store(0)
	plain := New(srv.URL, WithHTTPClient(srv.Client()))
	_, err = plain.CreateContact(ctx, contacts.Input{Email: "a@example.com"})
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests || calls.Load() != 1 {
		t.Fatalf("without WithRetry a 429 is returned at once: %v after %d calls", err, calls.Load())
	}
}

func TestFakeContactIsValid(t *testing.T) {
	f := gofakeit.New(42)
	seen := map[string]bool{}
	leapDays := 0
	for i := 0; i < 50; i++ {
		in, err := FakeContact(f, i).Normalize()
		if err != nil {
			t.Fatalf("fake contact %d invalid: %v", i, err)
		}
		if seen[in.Email] {
			t.Fatalf("duplicate email %s", in.Email)
		}
		seen[in.Email] = true
		if in.Birthday == nil {
			t.Fatalf("fake contact %d has no birthday", i)
		}
		if in.Birthday.Month() == time.February && in.Birthday.Day() == 29 {
			leapDays++
		}
	}
	if leapDays < 5 {
		t.Fatalf("expected at least 5 contacts born on 29 February, got %d", leapDays)
	}
}

func TestFakeContactIsDeterministicPerSeed(t *testing.T) {
	a := FakeContact(gofakeit.New(7), 3)
	b := FakeContact(gofakeit.New(7), 3)
	if a.Email != b.Email || !a.Birthday.Equal(b.Birthday.Time) {
		t.Fatalf("same seed produced %+v and %+v", a, b)
	}
}
