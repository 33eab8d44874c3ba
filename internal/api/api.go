// Package api provides the HTTP surface of PlanPipe.
//
// It serves the Twilio messaging webhook, liveness and Prometheus metrics, and
// a small admin API for inspecting users, resetting stuck conversation states
// and managing learning objectives.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// Server configuration constants
const (
	// DefaultAddr is the default listen address
	DefaultAddr = ":8080"
	// DefaultReadHeaderTimeout bounds slow clients
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultShutdownTimeout is how long in-flight requests get on shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Store is the persistence surface the admin API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	GetAllUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetState(ctx context.Context, userID int64) (models.ConversationState, error)
	SetState(ctx context.Context, userID int64, state models.ConversationState) error
	ListObjectives(ctx context.Context, userID int64) ([]models.LearningObjective, error)
	GetObjective(ctx context.Context, objectiveID int64) (*models.LearningObjective, error)
	SetObjectiveStatus(ctx context.Context, objectiveID int64, status models.ObjectiveStatus) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr     string
	Webhook  http.Handler         // Twilio messaging webhook; nil when Twilio is not the transport
	Gatherer prometheus.Gatherer // source for /metrics; nil disables the endpoint
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTwilioWebhook mounts h at POST /webhooks/twilio.
func WithTwilioWebhook(h http.Handler) Option {
	return func(o *Opts) {
		o.Webhook = h
	}
}

// WithMetrics serves g at GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(o *Opts) {
		o.Gatherer = g
	}
}

// Server is the PlanPipe HTTP server.
type Server struct {
	st     Store
	addr   string
	router chi.Router
}

// NewServer builds the router. Call Run to serve.
func NewServer(st Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{st: st, addr: cfg.Addr}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/twilio", cfg.Webhook)
	}

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.listUsersHandler)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/state", s.getStateHandler)
			r.Delete("/state", s.resetStateHandler)
			r.Get("/objectives", s.listObjectivesHandler)
			r.Put("/objectives/{objectiveID}/status", s.setObjectiveStatusHandler)
		})
	})
	s.router = r

	slog.Debug("Server: routes registered", "addr", cfg.Addr, "webhook", cfg.Webhook != nil, "metrics", cfg.Gatherer != nil)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return <-errCh
}
