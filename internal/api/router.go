// Package api provides the HTTP API of psptrack.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/api/handler"
	"github.com/psptrack/psptrack/internal/api/middleware"
	"github.com/psptrack/psptrack/internal/upstream"
)

// euiPattern restricts device routes to 16 hex characters; anything else
// falls through to the 404 handler.
const euiPattern = "{eui:[0-9a-fA-F]{16}}"

// AuthService is what the router needs from auth.Service.
type AuthService interface {
	handler.Accounts
	middleware.SessionResolver
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	Auth      AuthService
	Registry  handler.Registry
	Positions handler.Positions

	// Checks run on /api/ops/ready and /api/ops/status.
	Checks    []handler.Check
	Upstreams *upstream.Registry

	// RequireTLS rejects plain HTTP requests reported by a proxy and marks
	// the session cookie Secure.
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)
	r.Use(middleware.RequireFormOrJSON)

	rootHandler := handler.NewRootHandler(nil)
	usersHandler := handler.NewUsersHandler(cfg.Auth, cfg.RequireTLS, cfg.Logger)
	deviceHandler := handler.NewDeviceHandler(cfg.Registry, cfg.Positions, cfg.Logger)
	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Checks:    cfg.Checks,
		Upstreams: cfg.Upstreams,
	})

	authMiddleware := middleware.Auth(cfg.Auth, cfg.Logger)
	authRateLimit := middleware.RateLimitByIP(middleware.AuthRateLimit)

	r.NotFound(rootHandler.NotFound)
	r.MethodNotAllowed(rootHandler.NotFound)

	r.Get("/", rootHandler.Welcome)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", rootHandler.Index)

		r.Route("/users", func(r chi.Router) {
			r.With(authRateLimit).Post("/register", usersHandler.Register)
			r.With(authRateLimit).Post("/authenticate", usersHandler.Authenticate)
			r.Post("/logout", usersHandler.Logout)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit))
			r.Get("/", deviceHandler.ListDevices)
			r.Get("/"+euiPattern, deviceHandler.GetPosition)
			r.With(middleware.RateLimitByUser(middleware.RegisterDeviceRateLimit)).
				Post("/"+euiPattern, deviceHandler.RegisterDevice)
			r.Delete("/"+euiPattern, deviceHandler.DeregisterDevice)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})
	})

	rootHandler.SetEndpoints(endpoints(r))
	return r
}

func endpoints(r chi.Routes) []handler.Endpoint {
	var out []handler.Endpoint
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, handler.Endpoint{Method: method, Path: route})
		return nil
	})
	return out
}
