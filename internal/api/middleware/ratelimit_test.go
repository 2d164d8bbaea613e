package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/psptrack/psptrack/internal/api/middleware"
	"github.com/psptrack/psptrack/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, remoteAddr, cookie string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/users/authenticate", http.NoBody)
	req.RemoteAddr = remoteAddr
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	cfg := middleware.RateLimit{Requests: 3, Window: time.Minute}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, "10.0.0.1:12345", ""), "request %d should be allowed", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/users/authenticate", http.NoBody)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_DifferentIPsHaveSeparateLimits(t *testing.T) {
	cfg := middleware.RateLimit{Requests: 2, Window: time.Minute}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, "172.16.0.1:12345", ""))
	}
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(handler, "172.16.0.1:12345", ""))
	assert.Equal(t, http.StatusOK, serveFrom(handler, "172.16.0.2:12345", ""))
}

func TestRateLimitByUser_KeysOnSessionUser(t *testing.T) {
	sessions := stubSessions{
		"sess-a": {ID: "sess-a", Username: "alice", ExpiresAt: time.Now().Add(time.Hour)},
		"sess-b": {ID: "sess-b", Username: "bob", ExpiresAt: time.Now().Add(time.Hour)},
	}
	cfg := middleware.RateLimit{Requests: 2, Window: time.Minute}
	handler := middleware.Auth(sessions, zerolog.Nop())(middleware.RateLimitByUser(cfg)(okHandler()))

	// Same user from two addresses shares one budget.
	assert.Equal(t, http.StatusOK, serveFrom(handler, "192.168.1.1:1", "sess-a"))
	assert.Equal(t, http.StatusOK, serveFrom(handler, "192.168.1.2:1", "sess-a"))
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(handler, "192.168.1.3:1", "sess-a"))

	// Another user on the same address is unaffected.
	assert.Equal(t, http.StatusOK, serveFrom(handler, "192.168.1.1:1", "sess-b"))
}

func TestRateLimitByUser_FallsBackToIP(t *testing.T) {
	cfg := middleware.RateLimit{Requests: 1, Window: time.Minute}
	handler := middleware.RateLimitByUser(cfg)(okHandler())

	assert.Equal(t, http.StatusOK, serveFrom(handler, "198.51.100.1:1", ""))
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(handler, "198.51.100.1:1", ""))
	assert.Equal(t, http.StatusOK, serveFrom(handler, "198.51.100.2:1", ""))
}

func TestRateLimitExceededResponse_Format(t *testing.T) {
	cfg := middleware.RateLimit{Requests: 1, Window: 30 * time.Second}
	handler := middleware.RequestID(middleware.RateLimitByIP(cfg)(okHandler()))

	assert.Equal(t, http.StatusOK, serveFrom(handler, "203.0.113.1:12345", ""))

	req := httptest.NewRequest(http.MethodPost, "/api/devices/0004a30b001c42ef", http.NoBody)
	req.RemoteAddr = "203.0.113.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	body := rec.Body.String()
	assert.Contains(t, body, "too-many-requests")
	assert.Contains(t, body, "/api/devices/0004a30b001c42ef")
}

func TestDefaultRateLimits(t *testing.T) {
	assert.Equal(t, 10, middleware.AuthRateLimit.Requests)
	assert.Equal(t, 20, middleware.RegisterDeviceRateLimit.Requests)
	assert.Equal(t, 100, middleware.StandardRateLimit.Requests)
	assert.Equal(t, time.Minute, middleware.StandardRateLimit.Window)
}

var _ middleware.SessionResolver = (*auth.Service)(nil)

func TestRateLimit_ShortWindowRetryAfter(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.RateLimit{Requests: 1, Window: 500 * time.Millisecond})(okHandler())

	assert.Equal(t, http.StatusOK, serveFrom(handler, "203.0.113.9:1", ""))

	req := httptest.NewRequest(http.MethodPost, "/api/users/authenticate", http.NoBody)
	req.RemoteAddr = "203.0.113.9:1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
