package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-lift/internal/bridges/lift"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/logging"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

var (
	errNoLogger   = errors.New("api: logger is required")
	errNoGateway  = errors.New("api: lift gateway is required")
	errNotServing = errors.New("api: server not started")
)

// HealthSource reports bridge health. *lift.HealthReporter implements it.
type HealthSource interface {
	Current() lift.HealthMessage
}

// HistoryReader lists recorded snapshots and commands. *lift.History
// implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]lift.HistoryEntry, error)
	RecentCommands(ctx context.Context, limit int) ([]lift.CommandEntry, error)
}

// ConnectionStatus reports whether an upstream connection is up.
type ConnectionStatus interface {
	IsConnected() bool
}

// DBStatsProvider exposes connection pool statistics. *database.DB
// implements it.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// Deps is what New needs. Config, Logger and Gateway are mandatory; leave
// the optional fields nil when the matching feature is off.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger
	Gateway *lift.Gateway

	Health  HealthSource
	History HistoryReader
	MQTT    ConnectionStatus
	DB      DBStatsProvider

	Version string
}

// Server serves the lift API.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	gateway    *lift.Gateway
	health     HealthSource
	history    HistoryReader
	mqtt       ConnectionStatus
	db         DBStatsProvider
	version    string
	started    time.Time

	hubOnce sync.Once
	hub     *Hub

	httpSrv  *http.Server
	listener net.Listener
	stopHub  context.CancelFunc
}

// New validates deps and returns an unstarted server.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errNoLogger
	case deps.Gateway == nil:
		return nil, errNoGateway
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		gateway:    deps.Gateway,
		health:     deps.Health,
		history:    deps.History,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		version:    deps.Version,
		started:    time.Now(),
	}, nil
}

// Hub returns the WebSocket hub. It exists before Start so it can be
// registered on the Updater first.
func (s *Server) Hub() *Hub {
	s.hubOnce.Do(func() { s.hub = NewHub(s.wsCfg, s.logger) })
	return s.hub
}

// Start binds the configured address and serves in the background. A bind
// failure such as a port in use is returned, not just logged.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	hubCtx, stop := context.WithCancel(ctx)
	go s.Hub().Run(hubCtx)

	read := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.listener = ln
	s.stopHub = stop
	s.httpSrv = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("api listening", "address", ln.Addr().String())
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api serve failed", "error", err)
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

// Close disconnects WebSocket clients and drains HTTP requests for up to
// shutdownGrace. It is a no-op before Start.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	s.stopHub()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.logger.Info("api shutting down")
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	return nil
}

// HealthCheck fails before Start or when ctx is already done.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.httpSrv == nil {
		return errNotServing
	}
	return nil
}
