package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"kontakt.org/api/spec"
	"kontakt.org/internal/contacts"
	"kontakt.org/internal/identity"
	"kontakt.org/internal/mail"
	"kontakt.org/internal/obs"
)

const serviceName = "kontakt-api"

// ReadyProbe: простая проверка готовности (ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Identity *identity.Resolver
	Contacts contacts.Service
	Mailer   *mail.Dispatcher
}

// Option configures API.
type Option func(*API)

// WithBaseURL sets the public address used in confirmation links. An https
// base URL also marks token cookies Secure.
func WithBaseURL(u string) Option {
	return func(a *API) {
		if u = strings.TrimSpace(u); u != "" {
			a.baseURL = u
			a.secureCookies = strings.HasPrefix(u, "https://")
		}
	}
}

// WithCookies makes login and refresh set HttpOnly token cookies.
func WithCookies(enabled bool) Option {
	return func(a *API) { a.setCookies = enabled }
}

// WithRateLimit enables per-IP limiting on /api/ routes.
func WithRateLimit(enabled bool, burst, perSecond int) Option {
	return func(a *API) {
		a.rateLimit = enabled
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

// WithCORSOrigins lists browser origins allowed to call the API with credentials.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithLocalOrigins also admits localhost browser origins. Dev mode only.
func WithLocalOrigins(enabled bool) Option {
	return func(a *API) { a.localOrigins = enabled }
}

// WithTrustedProxy makes the client IP come from X-Forwarded-For.
func WithTrustedProxy(enabled bool) Option {
	return func(a *API) { a.trustProxy = enabled }
}

// WithClock overrides the time source for the birthday window.
func WithClock(fn func() time.Time) Option {
	return func(a *API) {
		if fn != nil {
			a.now = fn
		}
	}
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	identity *identity.Resolver
	contacts contacts.Service
	mailer   *mail.Dispatcher

	baseURL       string
	setCookies    bool
	secureCookies bool
	rateLimit     bool
	rateBurst     int
	ratePerSec    int
	corsOrigins   []string
	localOrigins  bool
	trustProxy    bool
	now           func() time.Time
}

func New(rp readinessChecker, version string, deps Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		identity:   deps.Identity,
		contacts:   deps.Contacts,
		mailer:     deps.Mailer,
		baseURL:    "http://localhost:8080",
		rateBurst:  20,
		ratePerSec: 10,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/api/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/refresh_token", a.handleRefreshToken)
	a.mux.HandleFunc("/api/auth/confirmed_email/", a.handleConfirmedEmail)
	a.mux.HandleFunc("/api/auth/request_email", a.handleRequestEmail)
	a.mux.HandleFunc("/api/auth/logout", a.withAuth(a.handleLogout))
	a.mux.HandleFunc("/api/auth/secret", a.withAuth(a.handleSecret))

	// users
	a.mux.HandleFunc("/api/users/me", a.withAuth(a.handleMe))
	a.mux.HandleFunc("/api/users/me/", a.withAuth(a.handleMe))

	// contacts
	a.mux.HandleFunc("/api/contacts", a.withAuth(a.handleContactsCollection))
	a.mux.HandleFunc("/api/contacts/", a.withAuth(a.handleContactResource))

	// всё остальное: 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	if a.rateLimit {
		limited := RateLimit(a.mux, a.rateBurst, a.ratePerSec)
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				limited.ServeHTTP(w, r)
				return
			}
			a.mux.ServeHTTP(w, r)
		})
	}
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h, a.corsOrigins, a.localOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.trustProxy)
	h = RequestID(h)
	// оборачиваем всё метриками
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}
