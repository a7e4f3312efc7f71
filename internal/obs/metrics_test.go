package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/api/contacts":                      "/api/contacts",
		"/api/contacts/01HX":                 "/api/contacts/:id",
		"/api/contacts/01HX/favorite":        "/api/contacts/:id/favorite",
		"/api/contacts/01HX/extra":           "/api/contacts/01HX/extra",
		"/api/contacts/search":               "/api/contacts/search",
		"/api/contacts/search/birthdays":     "/api/contacts/search/birthdays",
		"/api/contacts?limit=10":             "/api/contacts",
		"/api/auth/confirmed_email/abc.def":  "/api/auth/confirmed_email/:token",
		"/api/auth/confirmed_email/abc/more": "/api/auth/confirmed_email/abc/more",
		"/api/users/me/":                     "/api/users/me/",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsCanonicalPath(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/contacts/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contacts/01HXAAA", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contacts/01HXBBB", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/contacts/:id", "418"))

	if after-before != 2 {
		t.Fatalf("expected 2 requests recorded under canonical path, got %v", after-before)
	}
}

func TestSetReadyAndCacheCounters(t *testing.T) {
	SetReady(false)
	if v := testutil.ToFloat64(serviceReady); v != 0 {
		t.Fatalf("expected ready gauge 0, got %v", v)
	}
	SetReady(true)
	if v := testutil.ToFloat64(serviceReady); v != 1 {
		t.Fatalf("expected ready gauge 1, got %v", v)
	}

	before := testutil.ToFloat64(identityCacheOps.WithLabelValues(CacheError))
	ObserveCache(CacheError)
	if got := testutil.ToFloat64(identityCacheOps.WithLabelValues(CacheError)); got != before+1 {
		t.Fatalf("cache error counter not incremented: %v -> %v", before, got)
	}
}
