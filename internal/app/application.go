package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"lessonsync/internal/api"
	"lessonsync/internal/auth"
	"lessonsync/internal/config"
	"lessonsync/internal/hub"
	"lessonsync/internal/logger"
	"lessonsync/internal/metrics"
	"lessonsync/internal/router"
	"lessonsync/internal/session"
	"lessonsync/internal/tracing"
	"lessonsync/internal/websocket"
)

// WebSocketPath is where clients open their connection
const WebSocketPath = "/ws"

// traceOutput receives exported spans when tracing is enabled
var traceOutput io.Writer = os.Stderr

// Application coordinates all system components.
// It owns the single session registry for the lifetime of the process.
type Application struct {
	config      *config.Config
	logger      *slog.Logger
	sessions    *session.Registry
	connections *websocket.Registry
	rateLimiter *router.RateLimiter
	eventRouter *router.Router
	eventHub    *hub.Hub
	tracer      *tracing.Provider
	apiServer   *api.Server
	httpServer  *http.Server

	mu       sync.Mutex
	addr     string
	serveErr chan error
	cancel   context.CancelFunc
	sweeper  sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized.
// Components are built in dependency order: sessions, connections, tracing,
// router, hub, HTTP.
// A nil log is built from cfg.Log.
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if log == nil {
		var err error
		log, err = logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	provider, err := auth.NewJWTProvider(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	sessions := session.NewRegistry(log)

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewStatsCollector(cfg.Metrics.Namespace, sessions),
		)
		m = metrics.New(cfg.Metrics.Namespace, reg)
		gatherer = reg
	}

	connections := websocket.NewRegistry(m, log)

	tracer, err := tracing.New(cfg.Tracing, traceOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}
	if tracer.Enabled() {
		log.Info("tracing enabled", "service", cfg.Tracing.ServiceName, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	opts := []router.Option{
		router.WithMetrics(m),
		router.WithLogger(log),
		router.WithTracer(tracer.Tracer(router.TracerName)),
	}
	var limiter *router.RateLimiter
	if cfg.Router.RateLimit > 0 {
		limiter = router.NewRateLimiter(cfg.Router.RateLimit, cfg.Router.RateWindow)
		opts = append(opts, router.WithRateLimiter(limiter))
	}
	eventRouter := router.NewRouter(sessions, connections, opts...)
	eventHub := hub.NewHub(eventRouter, cfg.Router.QueueSize, log)

	gateway := auth.NewGateway(provider, cfg.Auth.Timeout, log)

	wsHandler := websocket.NewHandler(connections, gateway, eventHub, websocket.Config{
		SendBuffer:     cfg.WebSocket.BufferSize,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PongTimeout:    cfg.WebSocket.ReadTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, m, log)

	apiServer := api.NewServer(sessions, connections, eventHub, gatherer, log)
	apiServer.Handle(WebSocketPath, wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		logger:      log.With("component", "app"),
		sessions:    sessions,
		connections: connections,
		rateLimiter: limiter,
		eventRouter: eventRouter,
		eventHub:    eventHub,
		tracer:      tracer,
		apiServer:   apiServer,
		httpServer:  httpServer,
		serveErr:    make(chan error, 1),
	}, nil
}

// Start listens on the configured address and begins serving
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve starts the hub and then accepts connections on ln.
// It returns once serving has begun; later failures arrive on Err.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := app.eventHub.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	app.mu.Lock()
	app.addr = ln.Addr().String()
	app.cancel = cancel
	app.mu.Unlock()

	if app.rateLimiter != nil {
		app.sweeper.Add(1)
		go app.sweepRateLimits(sweepCtx)
	}

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Info("lessonsync started", "addr", app.Addr(), "websocket_path", WebSocketPath)
	return nil
}

// Err reports a failure of the HTTP server after Serve returned
func (app *Application) Err() <-chan error {
	return app.serveErr
}

// Stop shuts down gracefully: /health reports draining, no new connections
// are accepted, every active lesson is told the server is going away, and
// then all connections are flushed and closed. Pending spans are flushed last.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")
	app.apiServer.MarkDraining()

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	if err := app.eventHub.Stop(ctx); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("event hub shutdown: %w", err))
	}

	if err := app.connections.CloseAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing connections: %w", err))
	}

	app.mu.Lock()
	cancel := app.cancel
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	app.sweeper.Wait()

	if err := app.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing spans: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.Error("shutdown incomplete", "error", err)
		return err
	}
	app.logger.Info("shutdown complete")
	return nil
}

// Addr returns the address being served, or the configured one before Serve
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.addr != "" {
		return app.addr
	}
	return app.httpServer.Addr
}

// Sessions exposes the session registry for diagnostics
func (app *Application) Sessions() *session.Registry {
	return app.sessions
}

func (app *Application) sweepRateLimits(ctx context.Context) {
	defer app.sweeper.Done()

	interval := app.config.Router.RateWindow
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := app.rateLimiter.Cleanup(); removed > 0 {
				app.logger.Debug("expired rate limit windows", "removed", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}
