package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/store"
	"github.com/me/kernsim/internal/ui"
	"github.com/me/kernsim/pkg/model"
)

// Machine is the running machine the API drives.
type Machine interface {
	CreateProcess(ctx context.Context, spec config.ProcessSpec) (model.Process, error)
	Processes(ctx context.Context) ([]model.Process, error)
	Lookup(ctx context.Context, pid uint32) (model.Process, error)
	Wake(ctx context.Context, pid uint32) error
	SetPriority(ctx context.Context, pid uint32, priority uint8) error
	Stats(ctx context.Context) (model.Stats, error)
}

// Server is the kernsim REST API server.
type Server struct {
	router       chi.Router
	logger       *slog.Logger
	startTime    time.Time
	machine      Machine
	store        store.Store
	ui           *ui.UI
	pollInterval time.Duration // SSE polling period
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithPollInterval sets how often SSE streams poll the machine.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pollInterval = d
	}
}

// New creates a new Server with all routes registered.
// st may be nil when no trace store is configured; the run endpoints then
// answer 503.
func New(m Machine, st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		logger:       logger.With("component", "server"),
		startTime:    time.Now(),
		machine:      m,
		store:        st,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ui = ui.New(m, st, logger, ui.Config{Refresh: s.pollInterval})
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		// Scheduler counters
		r.Get("/stats", s.handleStats)

		// Processes
		r.Route("/processes", func(r chi.Router) {
			r.Get("/", s.handleListProcesses)
			r.Post("/", s.handleCreateProcess)
			r.Route("/{pid}", func(r chi.Router) {
				r.Get("/", s.handleGetProcess)
				r.Post("/wake", s.handleWakeProcess)
				r.Put("/priority", s.handleSetPriority)
			})
		})

		// Recorded runs
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/events", s.handleListEvents)
			})
		})

		// SSE endpoints for real-time updates
		r.Route("/sse", func(r chi.Router) {
			r.Get("/processes/{pid}", s.handleSSEProcess)
		})
	})

	// Web UI
	s.ui.RegisterRoutes(r)
}
