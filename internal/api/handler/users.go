package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/api/middleware"
	"github.com/psptrack/psptrack/internal/api/models"
	"github.com/psptrack/psptrack/internal/api/response"
	"github.com/psptrack/psptrack/internal/auth"
	"github.com/psptrack/psptrack/internal/user"
)

// Accounts is the part of auth.Service the user endpoints need.
type Accounts interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*user.User, error)
	Authenticate(ctx context.Context, req auth.LoginRequest) (*auth.Session, error)
	Logout(ctx context.Context, id string) error
}

// UsersHandler handles /api/users.
type UsersHandler struct {
	accounts     Accounts
	secureCookie bool
	logger       zerolog.Logger
}

// NewUsersHandler creates a UsersHandler. secureCookie marks the session
// cookie Secure.
func NewUsersHandler(accounts Accounts, secureCookie bool, logger zerolog.Logger) *UsersHandler {
	return &UsersHandler{accounts: accounts, secureCookie: secureCookie, logger: logger}
}

// Register handles POST /api/users/register.
func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r, "username", "email", "password")
	if err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	_, err = h.accounts.Register(r.Context(), auth.RegisterRequest{
		Username: fields["username"],
		Email:    fields["email"],
		Password: fields["password"],
	})
	if err != nil {
		var verr *auth.ValidationError
		switch {
		case errors.As(err, &verr):
			response.BadRequest(w, r, verr.Message, []models.FieldError{{Field: verr.Field, Message: verr.Message}})
		case errors.Is(err, auth.ErrUsernameTaken):
			response.BadRequest(w, r, err.Error(), []models.FieldError{{Field: "username", Message: err.Error()}})
		case errors.Is(err, auth.ErrEmailTaken):
			response.BadRequest(w, r, err.Error(), []models.FieldError{{Field: "email", Message: err.Error()}})
		default:
			h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("register failed")
			response.InternalError(w, r, "registration failed")
		}
		return
	}

	response.OK(w, r)
}

// Authenticate handles POST /api/users/authenticate. The login field is
// "username" and accepts an email address too.
func (h *UsersHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r, "username", "password")
	if err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	sess, err := h.accounts.Authenticate(r.Context(), auth.LoginRequest{
		Login:    fields["username"],
		Password: fields["password"],
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidLogin) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("authenticate failed")
		response.InternalError(w, r, "authentication failed")
		return
	}

	middleware.SetSessionCookie(w, sess, h.secureCookie)
	response.OK(w, r)
}

// Logout handles POST /api/users/logout. It succeeds without a session.
func (h *UsersHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), middleware.SessionID(r)); err != nil {
		h.logger.Error().Err(err).Msg("logout failed")
		response.InternalError(w, r, "logout failed")
		return
	}

	middleware.ClearSessionCookie(w, h.secureCookie)
	response.OK(w, r)
}
