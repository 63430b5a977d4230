// Package server wires the HTTP API, websocket stream and health endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/ytgrab/internal/errors"
	"github.com/3leaps/ytgrab/internal/server/handlers"
	"github.com/3leaps/ytgrab/internal/server/middleware"
	"github.com/3leaps/ytgrab/pkg/media"
)

// Timeouts configures the underlying http.Server. A zero WriteTimeout
// keeps long-lived websocket streams open.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// Server is the ytgrab HTTP server.
type Server struct {
	host     string
	port     int
	router   chi.Router
	logger   *zap.Logger
	timeouts Timeouts
	version  handlers.VersionInfo

	jobs    handlers.JobService
	prober  media.Prober
	origins []string

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and lifecycle logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJobs mounts the /api and /ws routes backed by jobs and prober.
func WithJobs(jobs handlers.JobService, prober media.Prober) Option {
	return func(s *Server) {
		s.jobs = jobs
		s.prober = prober
	}
}

// WithTimeouts overrides the http.Server timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// WithVersion sets the build info served on /version.
func WithVersion(v handlers.VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithOriginPatterns allows cross-origin websocket clients from hosts
// matching patterns.
func WithOriginPatterns(patterns []string) Option {
	return func(s *Server) { s.origins = patterns }
}

// New builds a server listening on host:port once Start is called.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:   host,
		port:   port,
		logger: zap.NewNop(),
		timeouts: Timeouts{
			Read:     30 * time.Second,
			Idle:     120 * time.Second,
			Shutdown: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteError(w, r, http.StatusNotFound, apperrors.CodeNotFound,
			"route not found: "+r.URL.Path, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteError(w, r, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			"method "+r.Method+" not allowed on "+r.URL.Path, nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.jobs != nil && s.prober != nil {
		h := handlers.NewJobsHandler(s.jobs, s.prober, s.logger)
		r.Route("/api", func(r chi.Router) {
			r.Use(chimw.NoCache)
			r.Post("/probe", h.Probe)
			r.Post("/download", h.Download)
			r.Get("/jobs", h.List)
			r.Get("/jobs/{jobID}", h.Get)
			r.Post("/jobs/{jobID}/cancel", h.Cancel)
		})
		r.Get("/ws/jobs/{jobID}", h.Stream(handlers.StreamOptions{OriginPatterns: s.origins}))
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start with a caller-provided listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.timeouts.Read,
		ReadHeaderTimeout: s.timeouts.Read,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server", zap.Duration("timeout", s.timeouts.Shutdown))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
