package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/alerting"
	"github.com/nerrad567/coldwatch-core/internal/audit"
	"github.com/nerrad567/coldwatch-core/internal/broadcast"
	"github.com/nerrad567/coldwatch-core/internal/health"
	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/coldwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/coldwatch-core/internal/ingest"
	"github.com/nerrad567/coldwatch-core/internal/pipeline"
	"github.com/nerrad567/coldwatch-core/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Pipeline   *pipeline.Pipeline
	Store      *store.Store
	Tracker    *health.Tracker
	Hub        *broadcast.Hub
	Dispatcher *alerting.Dispatcher

	// Audit optionally records device registrations.
	Audit *audit.Log

	// DB, when set, lets /health report pending schema migrations.
	DB *database.DB

	Version string
}

// Server is the HTTP API server for ColdWatch.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	authCfg    config.DeviceAuthConfig
	logger     *logging.Logger
	pipeline   *pipeline.Pipeline
	gateway    *ingest.Gateway
	store      *store.Store
	tracker    *health.Tracker
	hub        *broadcast.Hub
	dispatcher *alerting.Dispatcher
	audit      *audit.Log
	db         *database.DB
	version    string
	startTime  time.Time
	server     *http.Server
	listener   net.Listener
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("pipeline is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Tracker == nil:
		return nil, fmt.Errorf("health tracker is required")
	case deps.Hub == nil:
		return nil, fmt.Errorf("broadcast hub is required")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("alert dispatcher is required")
	}
	if deps.Security.DeviceAuth.Enabled && deps.Security.DeviceAuth.Secret == "" {
		return nil, fmt.Errorf("device auth enabled without a secret")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		authCfg:    deps.Security.DeviceAuth,
		logger:     deps.Logger.Component("api"),
		pipeline:   deps.Pipeline,
		gateway:    deps.Pipeline.Gateway(),
		store:      deps.Store,
		tracker:    deps.Tracker,
		hub:        deps.Hub,
		dispatcher: deps.Dispatcher,
		audit:      deps.Audit,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Handler returns the fully wired router. Start serves it; tests can use
// it directly with httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine. Binding
// errors (port in use) are returned; later serve errors are logged.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests. Hijacked WebSocket connections are closed by the hub.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
