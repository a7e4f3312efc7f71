// Package contacts holds the per-user address book: records, search and the
// upcoming-birthday window.
package contacts

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"kontakt.org/internal/ids"
)

const dateLayout = "2006-01-02"

var (
	ErrNotFound      = errors.New("contacts: not found")
	ErrAlreadyExists = errors.New("contacts: email already used by another contact")
	ErrInvalidInput  = errors.New("contacts: invalid input")
	ErrStore         = errors.New("contacts: store failure")
)

// Date is a calendar date without time of day, encoded as "2006-01-02".
type Date struct {
	time.Time
}

// NewDate returns the calendar date y-m-d in UTC.
func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: birthday %q: want YYYY-MM-DD", ErrInvalidInput, s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Contact is one address-book entry. It always belongs to exactly one user.
type Contact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Birthday  *Date     `json:"birthday"`
	Comments  string    `json:"comments"`
	Favorite  bool      `json:"favorite"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the writable part of a Contact.
type Input struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Birthday  *Date  `json:"birthday"`
	Comments  string `json:"comments"`
	Favorite  bool   `json:"favorite"`
}

const (
	maxNameLen     = 50
	maxPhoneLen    = 20
	maxCommentsLen = 2000
)

// Normalize trims fields, lowercases the email and validates lengths.
func (in Input) Normalize() (Input, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Comments = strings.TrimSpace(in.Comments)

	var problems []string
	if utf8.RuneCountInString(in.FirstName) > maxNameLen {
		problems = append(problems, "first_name too long")
	}
	if utf8.RuneCountInString(in.LastName) > maxNameLen {
		problems = append(problems, "last_name too long")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		problems = append(problems, "email is not a valid address")
	}
	if utf8.RuneCountInString(in.Phone) > maxPhoneLen {
		problems = append(problems, "phone too long")
	}
	if utf8.RuneCountInString(in.Comments) > maxCommentsLen {
		problems = append(problems, "comments too long")
	}
	if len(problems) > 0 {
		return Input{}, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return in, nil
}

// Page is skip/limit pagination shared by list endpoints.
type Page struct {
	Skip  int
	Limit int
}

const (
	DefaultLimit = 10
	MinLimit     = 10
	MaxLimit     = 100
)

// CheckLimit validates an explicit page size. Zero is out of range here;
// only an absent limit gets the default.
func CheckLimit(n int) error {
	if n < MinLimit || n > MaxLimit {
		return fmt.Errorf("%w: limit must be in [%d, %d]", ErrInvalidInput, MinLimit, MaxLimit)
	}
	return nil
}

// Normalize applies the default limit to a zero Limit and validates ranges.
func (p Page) Normalize() (Page, error) {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if err := CheckLimit(p.Limit); err != nil {
		return Page{}, err
	}
	if p.Skip < 0 {
		return Page{}, fmt.Errorf("%w: skip must be >= 0", ErrInvalidInput)
	}
	return p, nil
}

// ListQuery selects a user's contacts, optionally by favorite flag.
type ListQuery struct {
	Page
	Favorite *bool
}

// SearchQuery matches contacts whose fields contain every non-empty filter,
// case-insensitively.
type SearchQuery struct {
	Page
	FirstName string
	LastName  string
	Email     string
}

// Normalize trims filters, requires at least one and validates the page.
func (q SearchQuery) Normalize() (SearchQuery, error) {
	q.FirstName = strings.TrimSpace(q.FirstName)
	q.LastName = strings.TrimSpace(q.LastName)
	q.Email = strings.TrimSpace(q.Email)
	if q.FirstName == "" && q.LastName == "" && q.Email == "" {
		return SearchQuery{}, fmt.Errorf("%w: at least one of first_name, last_name, email is required", ErrInvalidInput)
	}
	page, err := q.Page.Normalize()
	if err != nil {
		return SearchQuery{}, err
	}
	q.Page = page
	return q, nil
}

func (q SearchQuery) matches(c Contact) bool {
	return containsFold(c.FirstName, q.FirstName) &&
		containsFold(c.LastName, q.LastName) &&
		containsFold(c.Email, q.Email)
}

func containsFold(field, sub string) bool {
	return sub == "" || strings.Contains(strings.ToLower(field), strings.ToLower(sub))
}

func newID() string { return ids.New() }
