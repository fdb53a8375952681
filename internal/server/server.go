package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/bus"
	"chatrelay/internal/config"
	"chatrelay/internal/dispatcher"
	"chatrelay/internal/gateway"

	"go.uber.org/multierr"
)

const shutdownTimeout = 10 * time.Second

type Option func(*Server)

// WithCloser appends a shared-client close hook (redis, database) executed
// last during shutdown.
func WithCloser(close func() error) Option {
	return func(s *Server) {
		s.closers = append(s.closers, close)
	}
}

// Server ties the gateway together: the websocket endpoint, the HTTP
// producer routes, the hub, and the bus subscription. One bus subscription
// exists per process, registered at startup, independent of how many client
// connections are live.
type Server struct {
	cfg        config.App
	router     *http.ServeMux
	hub        *gateway.Hub
	bus        *bus.Bus
	dispatcher *dispatcher.Dispatcher
	closers    []func() error
}

func NewServer(
	cfg config.App,
	authenticator *auth.Authenticator,
	hub *gateway.Hub,
	service *gateway.Service,
	apiHandler *api.Handler,
	notifyBus *bus.Bus,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:        cfg,
		router:     http.NewServeMux(),
		hub:        hub,
		bus:        notifyBus,
		dispatcher: dispatcher.New(hub),
	}

	for _, opt := range opts {
		opt(s)
	}

	ws := newWSHandler(authenticator, hub, service, cfg.AllowedOrigins)
	s.router.HandleFunc("/ws", ws.handleWS)
	apiHandler.Register(s.router, authenticator)

	return s
}

// Run serves until the context is canceled or a termination signal arrives,
// then shuts down in order: stop accepting connections, close the bus
// subscription, drain and stop the hub (flushing in-flight emits), close
// the transport, and finally close the shared clients. Emits are never
// attempted once the hub has stopped.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.router,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.hub.Run(hubCtx)
	}()

	busCtx, stopBus := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if err := s.bus.Run(busCtx, s.dispatcher.Dispatch); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Bus subscription terminated", "error", err)
		}
	}()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
		}
	}()
	slog.Info("Gateway is running", "port", s.cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-quit:
	}
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting new connections. Hijacked websocket connections are
	// not waited on here; the hub teardown below closes them.
	err := httpServer.Shutdown(shutdownCtx)

	stopBus()
	<-busDone

	stopHub()
	<-hubDone

	err = multierr.Append(err, httpServer.Close())

	for _, close := range s.closers {
		err = multierr.Append(err, close())
	}

	slog.Info("Gateway exited")
	return err
}
