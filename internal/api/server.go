package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

// HTTP server timeouts. The endpoint serves small GET responses only.
const (
	gracefulShutdownTimeout = 10 * time.Second
	readTimeout             = 5 * time.Second
	writeTimeout            = 10 * time.Second
	idleTimeout             = 60 * time.Second

	// healthCheckTimeout bounds each dependency check.
	healthCheckTimeout = 2 * time.Second
)

// defaultMetricsPath is used when the configured path is empty.
const defaultMetricsPath = "/metrics"

// HealthChecker is a dependency that can report its health. The MQTT,
// InfluxDB and database clients implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionReporter reports the broker connection and its subscriptions.
type ConnectionReporter interface {
	IsConnected() bool
	SubscriptionCount() int
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.MetricsConfig
	Logger  *logging.Logger
	Store   *access.Store
	Version string

	// Optional.
	AccessLog accesslog.Repository
	Location  *time.Location
	Checks    map[string]HealthChecker
	MQTT      ConnectionReporter
	DB        *sql.DB
	Metrics   http.Handler
}

// Server is the operations HTTP server.
type Server struct {
	cfg       config.MetricsConfig
	logger    *logging.Logger
	store     *access.Store
	accessLog accesslog.Repository
	location  *time.Location
	checks    map[string]HealthChecker
	mqtt      ConnectionReporter
	db        *sql.DB
	metrics   http.Handler
	version   string
	startTime time.Time
	now       func() time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Store == nil {
		return nil, errors.New("access store is required")
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		store:     deps.Store,
		accessLog: deps.AccessLog,
		location:  loc,
		checks:    deps.Checks,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		now:       time.Now,
	}, nil
}

// Start binds the configured listen address and serves in a background
// goroutine until Close.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.mu.Lock()
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	s.logger.Info("ops HTTP server starting", "address", ln.Addr().String(), "metrics_path", s.metricsPath())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("ops HTTP server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down ops HTTP server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

func (s *Server) metricsPath() string {
	if s.cfg.Path == "" {
		return defaultMetricsPath
	}
	return s.cfg.Path
}
