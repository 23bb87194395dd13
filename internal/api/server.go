package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/pi-relay/internal/audit"
	"github.com/nerrad567/pi-relay/internal/capture"
	"github.com/nerrad567/pi-relay/internal/dashboard"
	"github.com/nerrad567/pi-relay/internal/infrastructure/config"
	"github.com/nerrad567/pi-relay/internal/infrastructure/logging"
	"github.com/nerrad567/pi-relay/internal/registry"
	"github.com/nerrad567/pi-relay/internal/relay"
	"github.com/nerrad567/pi-relay/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionStatus reports whether an optional backend is reachable.
type ConnectionStatus interface {
	IsConnected() bool
}

// PoolStats exposes database connection pool statistics.
type PoolStats interface {
	Stats() sql.DBStats
}

// GeoStats exposes geolocation lookup counters.
type GeoStats interface {
	Stats() (lookups, failures int64)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Router   *relay.Router
	Registry *registry.Registry
	State    *state.Reconciler
	Audit    *audit.Log
	Captures *capture.Store
	MQTT     ConnectionStatus // optional
	DB       PoolStats        // optional
	Geo      GeoStats         // optional
	Version  string
}

// Server is the HTTP API server for the Pi relay.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	router    *relay.Router
	registry  *registry.Registry
	state     *state.Reconciler
	audit     *audit.Log
	captures  *capture.Store
	mqtt      ConnectionStatus
	db        PoolStats
	geo       GeoStats
	version   string
	startTime time.Time
	dashboard http.Handler // nil unless a dashboard build is configured
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("relay router is required")
	}
	if deps.Registry == nil || deps.State == nil || deps.Audit == nil || deps.Captures == nil {
		return nil, fmt.Errorf("registry, state, audit and capture store are required")
	}

	var dash http.Handler
	if deps.Config.DashboardDir != "" {
		h, err := dashboard.Handler(deps.Config.DashboardDir)
		if err != nil {
			return nil, err
		}
		dash = h
	}

	return &Server{
		dashboard: dash,
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		router:    deps.Router,
		registry:  deps.Registry,
		state:     deps.State,
		audit:     deps.Audit,
		captures:  deps.Captures,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		geo:       deps.Geo,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger, s.router)
	}
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
