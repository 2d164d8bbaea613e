package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/psptrack/psptrack/internal/auth"
	"github.com/psptrack/psptrack/internal/user"
)

func newTestService(t *testing.T) (*auth.Service, *user.InMemoryRepository) {
	t.Helper()

	users := user.NewInMemoryRepository()
	svc := auth.NewService(auth.ServiceConfig{
		Users:      users,
		Sessions:   auth.NewMemorySessionStore(nil),
		BcryptCost: bcrypt.MinCost,
		Logger:     zerolog.Nop(),
	})
	return svc, users
}

func validRegistration() auth.RegisterRequest {
	return auth.RegisterRequest{
		Username: "alice_01",
		Email:    "alice@example.com",
		Password: "Secret#123",
	}
}

func TestService_RegisterAndAuthenticate(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	assert.Equal(t, "alice_01", u.Username)
	assert.NotEqual(t, "Secret#123", u.PasswordHash)

	stored, err := users.Get(ctx, "alice_01")
	require.NoError(t, err)
	assert.Empty(t, stored.Devices)

	sess, err := svc.Authenticate(ctx, auth.LoginRequest{Login: "alice_01", Password: "Secret#123"})
	require.NoError(t, err)
	assert.Equal(t, "alice_01", sess.Username)
	assert.NotEmpty(t, sess.ID)

	got, err := svc.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice_01", got.Username)
}

func TestService_AuthenticateByEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	sess, err := svc.Authenticate(ctx, auth.LoginRequest{Login: "alice@example.com", Password: "Secret#123"})
	require.NoError(t, err)
	assert.Equal(t, "alice_01", sess.Username)
}

func TestService_InvalidLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, auth.LoginRequest{Login: "alice_01", Password: "Wrong#123"})
	assert.ErrorIs(t, err, auth.ErrInvalidLogin)

	_, err = svc.Authenticate(ctx, auth.LoginRequest{Login: "nobody", Password: "Secret#123"})
	assert.ErrorIs(t, err, auth.ErrInvalidLogin)
}

func TestService_RegisterTaken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	sameName := validRegistration()
	sameName.Email = "other@example.com"
	_, err = svc.Register(ctx, sameName)
	assert.ErrorIs(t, err, auth.ErrUsernameTaken)

	sameEmail := validRegistration()
	sameEmail.Username = "bob"
	_, err = svc.Register(ctx, sameEmail)
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)

	req := validRegistration()
	req.Username = "a"

	_, err := svc.Register(context.Background(), req)

	var verr *auth.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "username", verr.Field)
	assert.Equal(t, "Username format invalid", verr.Error())
}

func TestService_Logout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	sess, err := svc.Authenticate(ctx, auth.LoginRequest{Login: "alice_01", Password: "Secret#123"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, sess.ID))

	_, err = svc.Session(ctx, sess.ID)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	assert.NoError(t, svc.Logout(ctx, ""))
}

func TestService_SessionEmptyID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Session(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, 30*time.Minute, svc.SessionTTL())
}
