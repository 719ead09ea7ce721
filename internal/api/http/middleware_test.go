package apihttp

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/metrics":                  "/metrics",
		"/healthz":                  "/healthz",
		"/torrents":                 "/torrents",
		"/torrents/aabb":            "/torrents/:id",
		"/torrents/aabb/pause":      "/torrents/:id/pause",
		"/torrents/aabb/queue/top":  "/torrents/:id/queue",
		"/session/pause":            "/session/pause",
		"/ws":                       "/ws",
		"/totally/unknown/endpoint": "/other",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := recoveryMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/torrents", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := rateLimitMiddleware(1, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/torrents", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/torrents", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", second.Code)
	}

	// Metrics bypass the limiter even when exhausted.
	metricsReq := httptest.NewRecorder()
	handler.ServeHTTP(metricsReq, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if metricsReq.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", metricsReq.Code)
	}
}

func TestCORSAllowList(t *testing.T) {
	handler := corsMiddleware([]string{"https://ui.example.org"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/torrents", nil)
	req.Header.Set("Origin", "https://ui.example.org")
	handler.ServeHTTP(allowed, req)
	if got := allowed.Header().Get("Access-Control-Allow-Origin"); got != "https://ui.example.org" {
		t.Fatalf("allow origin = %q", got)
	}

	denied := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/torrents", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	handler.ServeHTTP(denied, req)
	if got := denied.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("denied origin got header %q", got)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("clientIP = %q", got)
	}
}
