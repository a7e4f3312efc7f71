// Package config loads kontakt-api settings from KONTAKT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Run modes.
const (
	ModeDev  = "dev"
	ModeProd = "prod"
)

// Config is resolved once at startup and passed to every component by value.
type Config struct {
	Mode     string `env:"KONTAKT_MODE"      envDefault:"prod"`
	LogLevel string `env:"KONTAKT_LOG_LEVEL" envDefault:"info"`

	HTTPAddr string `env:"KONTAKT_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"KONTAKT_GRPC_ADDR" envDefault:":9090"`
	BaseURL  string `env:"KONTAKT_BASE_URL"  envDefault:"http://localhost:8080"`

	PGDSN     string `env:"KONTAKT_PG_DSN"`
	RedisAddr string `env:"KONTAKT_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"KONTAKT_REDIS_DB"   envDefault:"0"`
	RedisPass string `env:"KONTAKT_REDIS_PASSWORD"`

	TokenSecret  string        `env:"KONTAKT_TOKEN_SECRET"`
	AccessTTL    time.Duration `env:"KONTAKT_ACCESS_TTL"     envDefault:"15m"`
	DevAccessTTL time.Duration `env:"KONTAKT_DEV_ACCESS_TTL" envDefault:"12h"`
	RefreshTTL   time.Duration `env:"KONTAKT_REFRESH_TTL"    envDefault:"168h"`
	EmailTTL     time.Duration `env:"KONTAKT_EMAIL_TTL"      envDefault:"168h"`
	CacheTTL     time.Duration `env:"KONTAKT_CACHE_TTL"      envDefault:"900s"`

	SetCookies  bool     `env:"KONTAKT_SET_COOKIES"   envDefault:"false"`
	CORSOrigins []string `env:"KONTAKT_CORS_ORIGINS"  envSeparator:","`
	RateBurst   int      `env:"KONTAKT_RATE_BURST"    envDefault:"20"`
	RatePerSec  int      `env:"KONTAKT_RATE_PER_SEC"  envDefault:"10"`
	TrustProxy  bool     `env:"KONTAKT_TRUST_PROXY"   envDefault:"false"`

	// Capability flags, settled by the startup health check rather than read from the environment.
	CacheEnabled     bool `env:"-"`
	RateLimitEnabled bool `env:"-"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses an explicit variable set; tests use it to avoid touching the process env.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints that tags cannot express.
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeDev, ModeProd:
	default:
		errs = append(errs, fmt.Errorf("KONTAKT_MODE must be %q or %q, got %q", ModeDev, ModeProd, c.Mode))
	}
	if strings.TrimSpace(c.TokenSecret) == "" {
		errs = append(errs, errors.New("KONTAKT_TOKEN_SECRET is required"))
	}
	if c.AccessTTL <= 0 || c.DevAccessTTL <= 0 || c.RefreshTTL <= 0 || c.EmailTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("KONTAKT_CACHE_TTL must be positive"))
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("rate limit settings must be positive"))
	}
	return errors.Join(errs...)
}

// Dev reports whether the service runs in development mode.
func (c Config) Dev() bool { return c.Mode == ModeDev }

// EffectiveAccessTTL is the access-token lifetime for the current mode.
func (c Config) EffectiveAccessTTL() time.Duration {
	if c.Dev() {
		return c.DevAccessTTL
	}
	return c.AccessTTL
}
