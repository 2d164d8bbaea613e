package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/psptrack/psptrack/internal/api/models"
)

// RateLimit is a budget of Requests per sliding Window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// retryAfter is the Retry-After value in whole seconds, at least one.
func (l RateLimit) retryAfter() string {
	secs := int(l.Window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

var (
	// AuthRateLimit guards register and authenticate, keyed by client address.
	AuthRateLimit = RateLimit{Requests: 10, Window: time.Minute}

	// RegisterDeviceRateLimit guards device registration, which reaches the
	// gateway on every call.
	RegisterDeviceRateLimit = RateLimit{Requests: 20, Window: time.Minute}

	// StandardRateLimit covers the remaining session endpoints.
	StandardRateLimit = RateLimit{Requests: 100, Window: time.Minute}
)

// RateLimitByIP limits requests per client address. Run RealIP first when
// the server sits behind a proxy.
func RateLimitByIP(limit RateLimit) func(http.Handler) http.Handler {
	return newLimiter(limit, httprate.KeyByRealIP)
}

// RateLimitByUser limits requests per session user. Anonymous requests are
// counted against their client address.
func RateLimitByUser(limit RateLimit) func(http.Handler) http.Handler {
	return newLimiter(limit, func(r *http.Request) (string, error) {
		if username := GetUsername(r.Context()); username != "" {
			return "user:" + username, nil
		}
		return httprate.KeyByRealIP(r)
	})
}

func newLimiter(limit RateLimit, key httprate.KeyFunc) func(http.Handler) http.Handler {
	retryAfter := limit.retryAfter()
	return httprate.Limit(limit.Requests, limit.Window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.").
				WithInstance(r.URL.Path).
				Write(w)
		}),
	)
}
