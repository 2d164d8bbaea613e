// Package auth provides account registration, password login and
// server-side sessions.
package auth

import (
	"time"
)

// Session is a server-side login session referenced by a cookie.
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RegisterRequest holds the fields of the registration form.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest holds the fields of the login form. Login may be a username
// or an email address.
type LoginRequest struct {
	Login    string `json:"username"`
	Password string `json:"password"`
}

// ValidationError reports the first invalid registration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
