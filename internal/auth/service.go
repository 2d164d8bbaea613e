package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/psptrack/psptrack/internal/user"
)

// Predefined service errors.
var (
	ErrUnauthorized  = errors.New("not authenticated")
	ErrInvalidLogin  = errors.New("Invalid login")         //nolint:stylecheck // user-facing message
	ErrUsernameTaken = errors.New("Username already taken") //nolint:stylecheck // user-facing message
	ErrEmailTaken    = errors.New("Email already in use")   //nolint:stylecheck // user-facing message
)

// DefaultSessionTTL is the lifetime of a login session.
const DefaultSessionTTL = 30 * time.Minute

// ServiceConfig holds configuration for the auth service.
type ServiceConfig struct {
	Users    user.Repository
	Sessions SessionStore

	// SessionTTL is the session lifetime (default: 30 minutes).
	SessionTTL time.Duration

	// BcryptCost is the password hashing cost (default: bcrypt.DefaultCost).
	BcryptCost int

	Logger zerolog.Logger
	Now    func() time.Time
}

// Service provides registration, login and session lookup.
type Service struct {
	users      user.Repository
	sessions   SessionStore
	sessionTTL time.Duration
	cost       int
	logger     zerolog.Logger
	now        func() time.Time

	// dummyHash is compared against when the login is unknown, so that a
	// missing account costs the same as a wrong password.
	dummyHash []byte

	// registerMu makes the username and email checks atomic with the insert.
	registerMu sync.Mutex
}

// NewService creates a new auth service.
func NewService(cfg ServiceConfig) *Service {
	ttl := cfg.SessionTTL
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}

	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost) //nolint:errcheck // constant input

	return &Service{
		users:      cfg.Users,
		sessions:   cfg.Sessions,
		sessionTTL: ttl,
		cost:       cost,
		logger:     cfg.Logger,
		now:        now,
		dummyHash:  dummy,
	}
}

// SessionTTL returns the configured session lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// Register validates the form and creates the account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*user.User, error) {
	if verr := req.Validate(); verr != nil {
		s.logger.Info().Str("field", verr.Field).Msg("register form error")
		return nil, verr
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	if _, err := s.users.Get(ctx, req.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup username: %w", err)
	}

	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	u := &user.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Devices:      []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrUserExists) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info().Str("username", u.Username).Msg("user registered")
	return u, nil
}

// Authenticate checks the password of the account named by username or
// email and opens a session.
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (*Session, error) {
	u, err := s.findLogin(ctx, req.Login)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password)) //nolint:errcheck // timing only
		s.logger.Info().Str("login", req.Login).Msg("unregistered user attempted to login")
		return nil, ErrInvalidLogin
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Info().Str("username", u.Username).Msg("wrong password")
		return nil, ErrInvalidLogin
	}

	sess, err := s.sessions.Create(ctx, u.Username, s.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info().Str("username", u.Username).Msg("successful authentication")
	return sess, nil
}

// Session resolves a session ID to a live session.
func (s *Service) Session(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrUnauthorized
	}

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return sess, nil
}

// Logout ends the session.
func (s *Service) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.sessions.Delete(ctx, id)
}

func (s *Service) findLogin(ctx context.Context, login string) (*user.User, error) {
	u, err := s.users.Get(ctx, login)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	u, err = s.users.GetByEmail(ctx, login)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, user.ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	return u, nil
}
