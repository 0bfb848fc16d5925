package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DriverService is the part of driver.Manager the API uses.
type DriverService interface {
	Statuses() []driver.Status
	Status(moniker string) (driver.Status, error)
	FieldDefs(moniker string) ([]field.Def, error)
	Snapshot(moniker, name string) (field.Def, field.Value, field.State, error)
	WriteText(ctx context.Context, moniker, name, text string) error
	Command(ctx context.Context, moniker, cmd, arg string) (string, error)
	Add(ctx context.Context, cfg driver.Config) error
	Reconfigure(ctx context.Context, cfg driver.Config) error
	Remove(ctx context.Context, moniker string) error
}

// TriggerLog lists recorded trigger events.
type TriggerLog interface {
	List(ctx context.Context, f trigger.Filter) ([]trigger.Event, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Drivers  DriverService
	Triggers TriggerLog // optional
	Version  string
}

// Server is the HTTP API server of driverd.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	drivers  DriverService
	triggers TriggerLog
	version  string
	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but its hub accepts
// broadcasts immediately.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Drivers == nil {
		return nil, fmt.Errorf("driver service is required")
	}
	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		drivers:  deps.Drivers,
		triggers: deps.Triggers,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}, nil
}

// Handler returns the router. Tests serve it through httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// FieldChanged broadcasts a field change. It matches driver.FieldObserver.
func (s *Server) FieldChanged(moniker string, ch field.Change) {
	s.hub.Broadcast(ChannelFieldChanged, FieldEvent{
		Moniker: moniker,
		Field:   ch.Name,
		Type:    ch.Def.Type.String(),
		Value:   ch.New.Format(),
	})
}

// StateChanged broadcasts a lifecycle transition. It matches
// driver.StateObserver.
func (s *Server) StateChanged(moniker string, st driver.State) {
	s.hub.Broadcast(ChannelDriverState, StateEvent{Moniker: moniker, State: st.String()})
}

// Start begins listening for HTTP connections in a background goroutine.
// The listener is bound before Start returns, so a port in use is reported
// here.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

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
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
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

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
