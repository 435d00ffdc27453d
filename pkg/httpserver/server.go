package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/market"
	"github.com/mselser95/parimutuel/pkg/auth"
	"github.com/mselser95/parimutuel/pkg/healthprobe"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides the market API plus metrics and health endpoints.
type Server struct {
	server        *http.Server
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker

	// Markets serves /api/markets. Nil disables the market API.
	Markets *market.Controller
	// Ledger serves /api/accounts. Deposits are only routed when it also
	// implements Depositor.
	Ledger custody.Ledger
	// Verifier authenticates mutating requests. Required when Markets is set.
	Verifier auth.Verifier
	// Events serves /ws when set.
	Events http.Handler
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := NewRouter(cfg)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server:        server,
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}
}

// NewRouter builds the route tree. It is exported for tests that drive the API
// through httptest without a listening server.
func NewRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	// Websocket connections outlive any request timeout.
	if cfg.Events != nil {
		r.Handle("/ws", cfg.Events)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		if cfg.Markets != nil {
			h := NewMarketsHandler(cfg.Markets, cfg.Logger)
			authed := auth.Middleware(cfg.Verifier, cfg.Logger)

			r.Route("/api/markets", func(r chi.Router) {
				r.Get("/", h.List)
				r.Get("/{id}", h.Get)
				r.Get("/{id}/participations", h.Participations)
				r.Get("/{id}/participations/{user}", h.Participation)
				r.Get("/{id}/quote/{user}", h.Quote)

				r.With(authed).Post("/", h.Create)
				r.With(authed).Post("/{id}/stakes", h.Stake)
				r.With(authed).Post("/{id}/resolve", h.Resolve)
				r.With(authed).Post("/{id}/settle", h.Settle)
				r.With(authed).Post("/{id}/reclaim", h.Reclaim)
			})
		}

		if cfg.Ledger != nil {
			h := NewAccountsHandler(cfg.Ledger, cfg.Logger)
			r.Get("/api/accounts/{account}", h.Balance)
			if _, ok := cfg.Ledger.(Depositor); ok && cfg.Verifier != nil {
				r.With(auth.Middleware(cfg.Verifier, cfg.Logger)).
					Post("/api/accounts/{account}/deposit", h.Deposit)
			}
		}
	})

	return r
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
