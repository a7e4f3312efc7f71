package contacts

import (
	"context"
	"sync"
	"time"
)

// Service defines address-book operations. Every call is scoped to userID;
// records of other users behave as absent.
type Service interface {
	Create(ctx context.Context, userID string, in Input) (Contact, error)
	Get(ctx context.Context, userID, id string) (Contact, error)
	List(ctx context.Context, userID string, q ListQuery) ([]Contact, error)
	Update(ctx context.Context, userID, id string, in Input) (Contact, error)
	SetFavorite(ctx context.Context, userID, id string, favorite bool) (Contact, error)
	Delete(ctx context.Context, userID, id string) (Contact, error)
	Search(ctx context.Context, userID string, q SearchQuery) ([]Contact, error)
	UpcomingBirthdays(ctx context.Context, userID string, q BirthdayQuery) ([]Contact, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	byID  map[string]*Contact
	order []string // insertion order, mirrors "order by id" in SQL
	now   func() time.Time
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty address book.
func NewInMemory() *InMemory {
	return &InMemory{
		byID: make(map[string]*Contact),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Create(ctx context.Context, userID string, in Input) (Contact, error) {
	in, err := in.Normalize()
	if err != nil {
		return Contact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTaken(userID, in.Email, "") {
		return Contact{}, ErrAlreadyExists
	}
	now := s.now()
	c := &Contact{ID: newID(), UserID: userID, CreatedAt: now}
	apply(c, in, now)
	s.byID[c.ID] = c
	s.order = append(s.order, c.ID)
	return clone(c), nil
}

func (s *InMemory) Get(ctx context.Context, userID, id string) (Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.owned(userID, id)
	if !ok {
		return Contact{}, ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemory) List(ctx context.Context, userID string, q ListQuery) ([]Contact, error) {
	page, err := q.Page.Normalize()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Contact
	for _, c := range s.userContacts(userID) {
		if q.Favorite != nil && c.Favorite != *q.Favorite {
			continue
		}
		res = append(res, c)
	}
	return paginate(res, page), nil
}

func (s *InMemory) Update(ctx context.Context, userID, id string, in Input) (Contact, error) {
	in, err := in.Normalize()
	if err != nil {
		return Contact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.owned(userID, id)
	if !ok {
		return Contact{}, ErrNotFound
	}
	if s.emailTaken(userID, in.Email, id) {
		return Contact{}, ErrAlreadyExists
	}
	apply(c, in, s.now())
	return clone(c), nil
}

func (s *InMemory) SetFavorite(ctx context.Context, userID, id string, favorite bool) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.owned(userID, id)
	if !ok {
		return Contact{}, ErrNotFound
	}
	c.Favorite = favorite
	c.UpdatedAt = s.now()
	return clone(c), nil
}

func (s *InMemory) Delete(ctx context.Context, userID, id string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.owned(userID, id)
	if !ok {
		return Contact{}, ErrNotFound
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return clone(c), nil
}

func (s *InMemory) Search(ctx context.Context, userID string, q SearchQuery) ([]Contact, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Contact
	for _, c := range s.userContacts(userID) {
		if q.matches(c) {
			res = append(res, c)
		}
	}
	return paginate(res, q.Page), nil
}

func (s *InMemory) UpcomingBirthdays(ctx context.Context, userID string, q BirthdayQuery) ([]Contact, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	months := WindowMonths(q.Now, q.Days)
	s.mu.RLock()
	candidates := make([]Contact, 0)
	for _, c := range s.userContacts(userID) {
		if c.Birthday != nil && monthIn(c.Birthday.Month(), months) {
			candidates = append(candidates, c)
		}
	}
	s.mu.RUnlock()
	return FilterUpcoming(candidates, q), nil
}

// Caller holds the lock.
func (s *InMemory) owned(userID, id string) (*Contact, bool) {
	c, ok := s.byID[id]
	if !ok || c.UserID != userID {
		return nil, false
	}
	return c, true
}

// Caller holds the lock.
func (s *InMemory) userContacts(userID string) []Contact {
	var res []Contact
	for _, id := range s.order {
		if c := s.byID[id]; c.UserID == userID {
			res = append(res, clone(c))
		}
	}
	return res
}

// Caller holds the lock.
func (s *InMemory) emailTaken(userID, email, exceptID string) bool {
	for _, c := range s.byID {
		if c.UserID == userID && c.Email == email && c.ID != exceptID {
			return true
		}
	}
	return false
}

func apply(c *Contact, in Input, now time.Time) {
	c.FirstName = in.FirstName
	c.LastName = in.LastName
	c.Email = in.Email
	c.Phone = in.Phone
	c.Birthday = nil
	if in.Birthday != nil && !in.Birthday.IsZero() {
		b := *in.Birthday
		c.Birthday = &b
	}
	c.Comments = in.Comments
	c.Favorite = in.Favorite
	c.UpdatedAt = now
}

func clone(c *Contact) Contact {
	out := *c
	if c.Birthday != nil {
		b := *c.Birthday
		out.Birthday = &b
	}
	return out
}

func monthIn(m time.Month, months []time.Month) bool {
	for _, mm := range months {
		if mm == m {
			return true
		}
	}
	return false
}
