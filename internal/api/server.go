// Package api provides the HTTP REST API and WebSocket event stream
// for Hearth Core.
//
// It exposes entity states, service calls, config entry management,
// areas, history, and system endpoints to user interfaces and machine
// clients.
//
// The server follows the same lifecycle pattern as other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: all methods are safe for concurrent use.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthd/hearth-core/internal/area"
	"github.com/hearthd/hearth-core/internal/auth"
	"github.com/hearthd/hearth-core/internal/bus"
	"github.com/hearthd/hearth-core/internal/configentry"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/logging"
	"github.com/hearthd/hearth-core/internal/integrations/hardware"
	"github.com/hearthd/hearth-core/internal/logbook"
	"github.com/hearthd/hearth-core/internal/service"
	"github.com/hearthd/hearth-core/internal/webrtc"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Entities *entity.Registry
	Services *service.Registry
	Entries  *configentry.Manager
	Areas    *area.Registry
	Events   *bus.Bus

	// Optional components; their endpoints return empty or 404 when unset.
	History  *entity.Recorder
	Logbook  logbook.Repository
	ICE      *webrtc.Registry
	Hardware *hardware.Dispatcher
	Tokens   *auth.Manager
	Metrics  http.Handler

	Version string
}

// Server is the HTTP API server for Hearth Core.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket
// hub. The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	entities *entity.Registry
	services *service.Registry
	entries  *configentry.Manager
	areas    *area.Registry
	events   *bus.Bus
	history  *entity.Recorder
	logbook  logbook.Repository
	ice      *webrtc.Registry
	hardware *hardware.Dispatcher
	tokens   *auth.Manager
	metrics  http.Handler
	version  string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
	unsubs []func()
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: required dependencies (config, logger, registries, bus)
//
// Returns:
//   - *Server: configured server ready to start
//   - error: if required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Entities == nil {
		return nil, fmt.Errorf("entity registry is required")
	}
	if deps.Services == nil {
		return nil, fmt.Errorf("service registry is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		entities: deps.Entities,
		services: deps.Services,
		entries:  deps.Entries,
		areas:    deps.Areas,
		events:   deps.Events,
		history:  deps.History,
		logbook:  deps.Logbook,
		ice:      deps.ICE,
		hardware: deps.Hardware,
		tokens:   deps.Tokens,
		metrics:  deps.Metrics,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, bridges bus events into it, and
// launches the HTTP listener in a background goroutine. The server is
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	s.subscribeEvents()

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
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
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

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

// subscribeEvents bridges bus events into WebSocket channels.
func (s *Server) subscribeEvents() {
	s.unsubs = append(s.unsubs,
		s.events.SubscribeStateChanged(func(ev bus.StateChanged) {
			s.hub.Broadcast("state_changed", stateChangedPayload(ev))
		}),
		s.events.SubscribeServiceCalled(func(ev bus.ServiceCalled) {
			s.hub.Broadcast("service_called", ev)
		}),
		s.events.SubscribeEntryEvents(func(ev bus.EntryEvent, unloaded bool) {
			channel := "entry_setup"
			if unloaded {
				channel = "entry_unloaded"
			}
			s.hub.Broadcast(channel, ev)
		}),
	)
}

// stateChangedPayload flattens a bus event into the wire shape.
func stateChangedPayload(ev bus.StateChanged) map[string]any {
	payload := map[string]any{
		"entity_id": ev.EntityID,
		"domain":    ev.Domain,
	}
	if ev.NewState != nil {
		payload["state"] = ev.NewState.Value
		payload["attributes"] = ev.NewState.Attributes
		payload["updated_at"] = ev.NewState.UpdatedAt.UTC().Format(time.RFC3339)
		payload["changed_at"] = ev.NewState.ChangedAt.UTC().Format(time.RFC3339)
	}
	if ev.OldState != nil {
		payload["old_state"] = ev.OldState.Value
	}
	return payload
}
