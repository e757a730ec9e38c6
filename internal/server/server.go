// Package server exposes the read-only HTTP API over the status store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/internal/server/handlers"
	"github.com/3leaps/flowstatus/internal/server/middleware"
	"github.com/3leaps/flowstatus/pkg/statusdb"
)

// Server is the HTTP API server.
type Server struct {
	host string
	port int

	store   statusdb.Store
	metrics http.Handler
	health  *handlers.HealthManager
	version handlers.VersionInfo
	log     *zap.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router *chi.Mux

	mu   sync.Mutex
	http *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStore serves records from store and registers its health check.
func WithStore(store statusdb.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealth replaces the default health manager.
func WithHealth(hm *handlers.HealthManager) Option {
	return func(s *Server) { s.health = hm }
}

func WithVersion(v handlers.VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithTimeouts sets the http.Server read, write and idle timeouts.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
	}
}

// New builds a server listening on host:port once started.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		log:          zap.NewNop(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
		version:      handlers.VersionInfo{Version: "dev"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = handlers.NewHealthManager(s.version.Version)
	}
	if s.store != nil {
		s.health.RegisterChecker("statusdb", handlers.HealthCheckerFunc(s.store.Ping))
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.log))
	r.Use(middleware.Recovery)
	r.Use(chimw.StripSlashes)

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Get("/health", s.health.HealthHandler)
	r.Get("/health/live", s.health.LivenessHandler)
	r.Get("/health/ready", s.health.ReadinessHandler)
	r.Get("/health/startup", s.health.LivenessHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.store != nil {
		r.Method(http.MethodGet, "/v1/runs/{runID}/records", handlers.NewRecordsHandler(s.store))
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.Info("http server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
