// Package client is a small HTTP client for the kontakt API, used by CLI tools.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"kontakt.org/internal/contacts"
)

// Error is a non-2xx API answer.
type Error struct {
	Status    int
	Message   string
	RequestID string
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("kontakt api: %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("kontakt api: %d %s", e.Status, e.Message)
}

// Unwrap maps the status to the contacts sentinel errors so callers can use errors.Is.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return contacts.ErrNotFound
	case http.StatusConflict:
		return contacts.ErrAlreadyExists
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return contacts.ErrInvalidInput
	}
	return nil
}

// Client talks to one API base URL with an optional bearer token.
type Client struct {
	base    string
	http    *http.Client
	token   string
	backoff func() retry.Backoff
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the default client with a 10s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetry retries requests answered with 429 using exponential backoff from
// base, at most maxRetries times. Each delay is capped at 30s.
func WithRetry(base time.Duration, maxRetries uint64) Option {
	return func(c *Client) {
		if base <= 0 || maxRetries == 0 {
			c.backoff = nil
			return
		}
		c.backoff = func() retry.Backoff {
			b := retry.NewExponential(base)
			b = retry.WithJitterPercent(10, b)
			b = retry.WithCappedDuration(30*time.Second, b)
			return retry.WithMaxRetries(maxRetries, b)
		}
	}
}

// New creates a client with sensible defaults.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens is the login answer.
type Tokens struct {
	AccessToken        string    `json:"access_token"`
	TokenType          string    `json:"token_type"`
	ExpireAccessToken  time.Time `json:"expire_access_token"`
	RefreshToken       string    `json:"refresh_token"`
	ExpireRefreshToken time.Time `json:"expire_refresh_token"`
}

// Signup registers an account. The account still needs email confirmation.
func (c *Client) Signup(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	return c.doJSON(ctx, http.MethodPost, "/api/auth/signup", body, nil)
}

// Login exchanges credentials for tokens and keeps the access token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (Tokens, error) {
	form := url.Values{"username": {email}, "password": {password}}
	var tokens Tokens
	err := c.send(ctx, http.MethodPost, "/api/auth/login", "application/x-www-form-urlencoded", []byte(form.Encode()), &tokens)
	if err != nil {
		return Tokens{}, err
	}
	c.token = tokens.AccessToken
	return tokens, nil
}

// SetToken sets the bearer token used by authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) CreateContact(ctx context.Context, in contacts.Input) (contacts.Contact, error) {
	var out contacts.Contact
	err := c.doJSON(ctx, http.MethodPost, "/api/contacts", in, &out)
	return out, err
}

func (c *Client) ListContacts(ctx context.Context, skip, limit int) ([]contacts.Contact, error) {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", fmt.Sprint(skip))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/contacts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []contacts.Contact
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) UpcomingBirthdays(ctx context.Context, days int) ([]contacts.Contact, error) {
	var out []contacts.Contact
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/contacts/search/birthdays?days=%d", days), nil, &out)
	return out, err
}

// Helpers -----------------------------------------------------------------

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if body == nil {
		return c.send(ctx, method, path, "", nil, out)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, "application/json", raw, out)
}

// send builds a fresh request per attempt so the body can be replayed on retry.
func (c *Client) send(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	attempt := func(ctx context.Context) error {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
		if err != nil {
			return err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		err = c.do(req, out)
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
			return retry.RetryableError(err)
		}
		return err
	}
	if c.backoff == nil {
		return c.once(ctx, attempt)
	}
	return retry.Do(ctx, c.backoff(), attempt)
}

// once runs a single attempt and drops the retry marker from a 429.
func (c *Client) once(ctx context.Context, attempt retry.RetryFunc) error {
	err := attempt(ctx)
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: payload.Error, RequestID: payload.RequestID}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
