package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/node-sync/internal/api"
	"github.com/stacklok/node-sync/internal/app/storage"
	"github.com/stacklok/node-sync/internal/config"
	"github.com/stacklok/node-sync/internal/httpclient"
	"github.com/stacklok/node-sync/internal/sources"
	pkgsync "github.com/stacklok/node-sync/internal/sync"
	"github.com/stacklok/node-sync/internal/sync/poller"
	"github.com/stacklok/node-sync/internal/telemetry"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// tracerName names the tracer of the sync path and the stores
	tracerName = "github.com/stacklok/node-sync"
)

// Options is a function that configures the app builder
type Options func(*appConfig) error

// appConfig collects what NewApp needs. Unset components are built from
// the configuration.
type appConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	storageFactory storage.Factory
	fetcher        sources.Fetcher
	telemetry      *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...Options) (*appConfig, error) {
	cfg := &appConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = config.Default()
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Address
	}
	if cfg.address == "" {
		cfg.address = config.DefaultAddress
	}

	return cfg, nil
}

// NewApp builds the store, the poller and the HTTP server in that order.
// Nothing runs until Serve or Run is called.
func NewApp(ctx context.Context, opts ...Options) (*App, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if cfg.telemetry == nil {
		cfg.telemetry, err = telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.config.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}
	tracer := cfg.telemetry.Tracer(tracerName)

	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			if cfg.storageFactory != nil {
				cfg.storageFactory.Cleanup()
			}
			shutdownTelemetry(cfg.telemetry, cfg.config.GetShutdownTimeout())
		}
	}()

	// 1. store
	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config.DatabaseURL, storage.WithTracer(tracer))
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// 2. poller
	p, err := buildPoller(cfg, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to build poller: %w", err)
	}

	// 3. http server
	httpServer, err := buildHTTPServer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	cleanupNeeded = false

	return &App{
		config:          cfg.config,
		storageFactory:  cfg.storageFactory,
		poller:          p,
		httpServer:      httpServer,
		telemetry:       cfg.telemetry,
		shutdownTimeout: cfg.config.GetShutdownTimeout(),
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) Options {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding the configuration
func WithAddress(addr string) Options {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Options {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithRequestTimeout bounds the handling of a single request
func WithRequestTimeout(d time.Duration) Options {
	return func(cfg *appConfig) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive, got %s", d)
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) Options {
	return func(cfg *appConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithFetcher allows injecting a custom rankings fetcher (for testing)
func WithFetcher(f sources.Fetcher) Options {
	return func(cfg *appConfig) error {
		cfg.fetcher = f
		return nil
	}
}

// WithTelemetry sets already initialized telemetry providers. The app
// takes ownership and shuts them down on exit.
func WithTelemetry(t *telemetry.Telemetry) Options {
	return func(cfg *appConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// buildPoller wires fetcher, store and metrics into the sync loop
func buildPoller(b *appConfig, tracer trace.Tracer) (poller.Poller, error) {
	slog.Info("Initializing sync components")

	if b.fetcher == nil {
		client := httpclient.NewDefaultClient(httpclient.WithTimeout(b.config.GetFetchTimeout()))
		b.fetcher = sources.NewAPIFetcher(sources.WithHTTPClient(client))
	}

	runner := pkgsync.NewRunner(b.fetcher, b.storageFactory.Store(), pkgsync.WithTracer(tracer))

	syncMetrics, err := telemetry.NewSyncMetrics(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	return poller.New(runner,
		poller.WithInterval(b.config.GetPollInterval()),
		poller.WithSyncMetrics(syncMetrics),
	), nil
}

// buildHTTPServer builds the HTTP server with its middleware chain
func buildHTTPServer(b *appConfig) (*http.Server, error) {
	if len(b.middlewares) == 0 {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	if cfg := b.config.Telemetry; cfg != nil && cfg.Enabled {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		// outermost so every response is counted
		b.middlewares = append([]func(http.Handler) http.Handler{
			metricsMiddleware,
			telemetry.TracingMiddleware(b.telemetry.TracerProvider()),
		}, b.middlewares...)
	}

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
	}
	if h := b.telemetry.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}

	router := api.NewServer(b.storageFactory.Store(), serverOpts...)

	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadTimeout:       b.readTimeout,
		ReadHeaderTimeout: b.readTimeout,
		WriteTimeout:      b.writeTimeout,
		IdleTimeout:       b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
