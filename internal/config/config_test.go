package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"KONTAKT_TOKEN_SECRET": "s3cret"})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	want := Config{
		Mode:         ModeProd,
		LogLevel:     "info",
		HTTPAddr:     ":8080",
		GRPCAddr:     ":9090",
		BaseURL:      "http://localhost:8080",
		RedisAddr:    "localhost:6379",
		TokenSecret:  "s3cret",
		AccessTTL:    15 * time.Minute,
		DevAccessTTL: 12 * time.Hour,
		RefreshTTL:   7 * 24 * time.Hour,
		EmailTTL:     7 * 24 * time.Hour,
		CacheTTL:     900 * time.Second,
		RateBurst:    20,
		RatePerSec:   10,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.EffectiveAccessTTL() != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.EffectiveAccessTTL())
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"KONTAKT_TOKEN_SECRET": "s3cret",
		"KONTAKT_MODE":         "dev",
		"KONTAKT_CORS_ORIGINS": "http://a.test,http://b.test",
		"KONTAKT_SET_COOKIES":  "true",
		"KONTAKT_CACHE_TTL":    "60s",
		"KONTAKT_TRUST_PROXY":  "true",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !cfg.Dev() || cfg.EffectiveAccessTTL() != 12*time.Hour {
		t.Fatalf("dev mode not applied: mode=%s ttl=%v", cfg.Mode, cfg.EffectiveAccessTTL())
	}
	if diff := cmp.Diff([]string{"http://a.test", "http://b.test"}, cfg.CORSOrigins); diff != "" {
		t.Fatalf("origins mismatch (-want +got):\n%s", diff)
	}
	if !cfg.SetCookies || cfg.CacheTTL != time.Minute || !cfg.TrustProxy {
		t.Fatalf("overrides ignored: %+v", cfg)
	}
}

func TestLoadFromValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret": {},
		"bad mode":       {"KONTAKT_TOKEN_SECRET": "x", "KONTAKT_MODE": "staging"},
		"zero ttl":       {"KONTAKT_TOKEN_SECRET": "x", "KONTAKT_ACCESS_TTL": "0s"},
		"bad duration":   {"KONTAKT_TOKEN_SECRET": "x", "KONTAKT_REFRESH_TTL": "week"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFrom(vars); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
