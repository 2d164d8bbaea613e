package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/api/models"
	"github.com/psptrack/psptrack/internal/auth"
)

// SessionCookieName is the cookie that carries the session ID.
const SessionCookieName = "psptrack_session"

// SessionResolver looks up a live session by ID.
type SessionResolver interface {
	Session(ctx context.Context, id string) (*auth.Session, error)
}

type usernameKey struct{}

type sessionIDKey struct{}

// Auth rejects requests without a valid session cookie and stores the
// session's username in the request context.
func Auth(sessions SessionResolver, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := SessionID(r)
			if id == "" {
				log.Info().Str("path", r.URL.Path).Msg("authentication required")
				writeUnauthorized(w, r, "Authentication required")
				return
			}

			sess, err := sessions.Session(r.Context(), id)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthorized) {
					writeUnauthorized(w, r, "Authentication required")
					return
				}
				log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("session lookup failed")
				problem := models.NewInternalError(GetRequestID(r.Context()), "session lookup failed")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}

			ctx := context.WithValue(r.Context(), usernameKey{}, sess.Username)
			ctx = context.WithValue(ctx, sessionIDKey{}, sess.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized writes a 401 Unauthorized response.
// This is implemented directly here to avoid import cycle with response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetUsername returns the authenticated username, or "" outside Auth.
func GetUsername(ctx context.Context) string {
	if name, ok := ctx.Value(usernameKey{}).(string); ok {
		return name
	}
	return ""
}

// SessionID returns the session cookie value of the request, if any.
func SessionID(r *http.Request) string {
	if id, ok := r.Context().Value(sessionIDKey{}).(string); ok {
		return id
	}
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetSessionCookie issues the session cookie.
func SetSessionCookie(w http.ResponseWriter, sess *auth.Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
