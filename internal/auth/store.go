package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store is the durable source of truth for credentials. Implementations return
// ErrNotFound for missing rows and wrap other failures with ErrStore.
type Store interface {
	FindCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	FindCredentialByID(ctx context.Context, id string) (*Credential, error)
	Persist(ctx context.Context, cred *Credential) error
	UpdateRefreshToken(ctx context.Context, email string, token *string) error
	SetConfirmed(ctx context.Context, email string) error
}

// MemoryStore implements Store with in-process concurrency safety.
// Used by tests and by the API when no database DSN is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*Credential
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]*Credential), now: time.Now}
}

func (s *MemoryStore) FindCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCredential(cred), nil
}

func (s *MemoryStore) FindCredentialByID(ctx context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cred := range s.byEmail {
		if cred.ID == id {
			return cloneCredential(cred), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Persist(ctx context.Context, cred *Credential) error {
	if cred == nil || cred.Email == "" {
		return ErrInvalidInput
	}
	if cred.Role == "" {
		cred.Role = RoleUser
	}
	if !cred.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, cred.Role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeEmail(cred.Email)
	if existing, ok := s.byEmail[key]; ok && existing.ID != cred.ID {
		return ErrAlreadyExists
	}
	now := s.now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	s.byEmail[key] = cloneCredential(cred)
	return nil
}

func (s *MemoryStore) UpdateRefreshToken(ctx context.Context, email string, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	if token == nil {
		cred.RefreshToken = nil
	} else {
		v := *token
		cred.RefreshToken = &v
	}
	cred.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) SetConfirmed(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	cred.Confirmed = true
	cred.UpdatedAt = s.now().UTC()
	return nil
}

func cloneCredential(c *Credential) *Credential {
	out := *c
	if c.RefreshToken != nil {
		v := *c.RefreshToken
		out.RefreshToken = &v
	}
	return &out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
