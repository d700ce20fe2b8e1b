// Package api serves the dialcheck HTTP surface: the Twilio voice webhook,
// the account and verification-test JSON API, health, and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dialcheck/dialcheck/internal/api/middleware"
	"github.com/dialcheck/dialcheck/internal/config"
	"github.com/dialcheck/dialcheck/internal/database"
	"github.com/dialcheck/dialcheck/internal/email"
	"github.com/dialcheck/dialcheck/internal/twiml"
	"github.com/dialcheck/dialcheck/internal/verify"
)

// TurnHandler decides the next TwiML script for a webhook turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, turn verify.Turn) twiml.Response
}

// PhraseGenerator produces the code words for a new verification test.
type PhraseGenerator interface {
	Phrase() []string
}

// Emailer sends the transactional emails the API triggers.
type Emailer interface {
	SendCodeWords(ctx context.Context, msg email.CodeWordsEmail) error
	SendVerificationLink(ctx context.Context, msg email.VerificationLinkEmail) error
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router        *chi.Mux
	cfg           *config.Config
	users         database.UserRepository
	tests         database.SessionRepository
	controller    TurnHandler
	generator     PhraseGenerator
	emailer       Emailer
	loginSessions *middleware.SessionStore
	jwtSecret     []byte
	metrics       http.Handler
	apiLimiter    *middleware.IPRateLimiter
	authLimiter   *middleware.IPRateLimiter
	logger        *slog.Logger
}

// ServerDeps bundles the collaborators NewServer wires into the router.
type ServerDeps struct {
	Users      database.UserRepository
	Tests      database.SessionRepository
	Controller TurnHandler
	Generator  PhraseGenerator
	Emailer    Emailer
	JWTSecret  []byte
	Metrics    http.Handler // mounted at /metrics when non-nil

	// LoginSessions may be supplied so callers can share the store with
	// other components (e.g. the metrics collector). Created when nil.
	LoginSessions *middleware.SessionStore
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(cfg *config.Config, deps ServerDeps, logger *slog.Logger) *Server {
	loginSessions := deps.LoginSessions
	if loginSessions == nil {
		loginSessions = middleware.NewSessionStore()
	}

	s := &Server{
		router:        chi.NewRouter(),
		cfg:           cfg,
		users:         deps.Users,
		tests:         deps.Tests,
		controller:    deps.Controller,
		generator:     deps.Generator,
		emailer:       deps.Emailer,
		loginSessions: loginSessions,
		jwtSecret:     deps.JWTSecret,
		metrics:       deps.Metrics,
		apiLimiter:    middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		authLimiter:   middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
		logger:        logger.With("component", "api"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Sessions exposes the login session store so main can run the cleanup ticker.
func (s *Server) Sessions() *middleware.SessionStore {
	return s.loginSessions
}

// Close stops the rate limiter background goroutines.
func (s *Server) Close() {
	s.apiLimiter.Stop()
	s.authLimiter.Stop()
}

// secureCookies reports whether session cookies should carry the Secure flag.
func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.cfg.BaseURL, "https://")
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(s.secureCookies()))

	if origins := middleware.ParseCORSOrigins(s.cfg.CORSOrigins); len(origins) > 0 {
		r.Use(middleware.CORS(origins))
	}

	// Twilio posts here on every call turn. No cookie auth; authenticity
	// comes from the request signature.
	r.Post("/webhooks/voice", s.handleVoiceWebhook)

	r.Get("/health", s.handleHealth)

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.ServeHTTP)
	}

	// JSON API under /api/v1.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.apiLimiter))

		// Unauthenticated auth routes get the stricter limiter.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.authLimiter))
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
			r.Get("/auth/verify-email", s.handleVerifyEmail)
		})

		// Routes requiring a login session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.loginSessions))
			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Post("/tests", s.handleCreateTest)
			r.Get("/tests", s.handleListTests)
			r.Get("/tests/{publicID}", s.handleGetTest)
		})
	})

	s.logger.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
