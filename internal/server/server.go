// Package server provides the HTTP surface for the login service: provider
// discovery, login redirects, OAuth callbacks, and session endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/kauthdev/kauth/engine"
	"github.com/kauthdev/kauth/events"
	"github.com/kauthdev/kauth/health"
	"github.com/kauthdev/kauth/internal/jwt"
	"github.com/kauthdev/kauth/internal/repository"
	"github.com/kauthdev/kauth/logger"
	"github.com/kauthdev/kauth/metrics"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	CookieName      string        `mapstructure:"cookie_name"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
	SuccessRedirect string        `mapstructure:"success_redirect"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		CookieName:      "kauth_session",
		SuccessRedirect: "/me",
		RateLimitRPS:    5,
		RateLimitBurst:  10,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// Server is the login service HTTP server.
type Server struct {
	cfg        Config
	engine     *engine.Engine
	repo       repository.Repository
	tokens     *jwt.Manager
	events     *events.Client
	metrics    *metrics.Metrics
	checker    *health.Checker
	log        *logger.Logger
	limiter    *RateLimiter
	httpServer *http.Server
}

// Options bundles the dependencies for a Server. Events may be nil when no
// event bus is configured.
type Options struct {
	Engine  *engine.Engine
	Repo    repository.Repository
	Tokens  *jwt.Manager
	Events  *events.Client
	Metrics *metrics.Metrics
	Checker *health.Checker
	Logger  *logger.Logger
}

// New creates a new Server.
func New(cfg Config, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		cfg:     cfg,
		engine:  opts.Engine,
		repo:    opts.Repo,
		tokens:  opts.Tokens,
		events:  opts.Events,
		metrics: opts.Metrics,
		checker: opts.Checker,
		log:     log,
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /providers", s.handleProviders)
	mux.Handle("GET /login/{provider}", s.limiter.Middleware(http.HandlerFunc(s.handleLogin)))
	mux.Handle("GET /callback/{provider}", s.limiter.Middleware(http.HandlerFunc(s.handleCallback)))
	mux.HandleFunc("GET /me", s.handleMe)
	mux.HandleFunc("POST /logout", s.handleLogout)

	if s.checker != nil {
		mux.Handle("/health", s.checker.Handler())
		mux.Handle("/health/", s.checker.Handler())
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = s.metrics.HTTPMiddleware(handler)
	}
	handler = s.requestIDMiddleware(handler)
	handler = s.recoverMiddleware(handler)
	return handler
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("http server starting", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
