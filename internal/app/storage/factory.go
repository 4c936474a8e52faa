// Package storage opens the store selected by a database URL.
// SQLite URLs (sqlite://, sqlite:, file:) yield a SQLite factory and
// postgres:// or postgresql:// URLs yield a PostgreSQL factory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/node-sync/internal/store"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Backend types
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultMaxTries bounds the attempts to open the store at startup
const DefaultMaxTries = 5

// ErrUnsupportedURL is returned for database URLs no backend accepts
var ErrUnsupportedURL = errors.New("unsupported database url")

// Factory owns the store handle shared by the poller and the API server.
type Factory interface {
	// Store returns the opened store
	Store() store.Store

	// Backend names the backend behind Store
	Backend() string

	// Cleanup releases the store handle. Should be called when the
	// application shuts down.
	Cleanup()
}

// Option configures NewStorageFactory
type Option func(*factoryConfig)

type factoryConfig struct {
	tracer   trace.Tracer
	maxTries uint
	backOff  backoff.BackOff
}

// WithTracer sets the tracer passed to the store
func WithTracer(tracer trace.Tracer) Option {
	return func(c *factoryConfig) {
		c.tracer = tracer
	}
}

// WithMaxTries sets how many times opening the store is attempted
func WithMaxTries(n uint) Option {
	return func(c *factoryConfig) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithBackOff sets the delay policy between open attempts
func WithBackOff(b backoff.BackOff) Option {
	return func(c *factoryConfig) {
		c.backOff = b
	}
}

// BackendFor returns the backend serving databaseURL
func BackendFor(databaseURL string) (string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return BackendPostgres, nil
	case strings.HasPrefix(databaseURL, "sqlite:"), strings.HasPrefix(databaseURL, "file:"):
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, redact(databaseURL))
	}
}

// NewStorageFactory opens the store named by databaseURL, creating its
// schema when missing. Transient open failures are retried with an
// exponential backoff.
func NewStorageFactory(ctx context.Context, databaseURL string, opts ...Option) (Factory, error) {
	cfg := &factoryConfig{maxTries: DefaultMaxTries}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.backOff == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 500 * time.Millisecond
		eb.MaxInterval = 5 * time.Second
		cfg.backOff = eb
	}

	backend, err := BackendFor(databaseURL)
	if err != nil {
		return nil, err
	}

	var open func(context.Context) (Factory, error)
	switch backend {
	case BackendPostgres:
		open = func(ctx context.Context) (Factory, error) {
			return newPostgresFactory(ctx, databaseURL, cfg.tracer)
		}
	default:
		open = func(ctx context.Context) (Factory, error) {
			return newSQLiteFactory(ctx, databaseURL, cfg.tracer)
		}
	}

	slog.Info("Opening store", "backend", backend, "url", redact(databaseURL))

	attempt := 0
	factory, err := backoff.Retry(ctx, func() (Factory, error) {
		attempt++
		return open(ctx)
	},
		backoff.WithBackOff(cfg.backOff),
		backoff.WithMaxTries(cfg.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Failed to open store, retrying",
				"backend", backend, "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", backend, err)
	}

	return factory, nil
}

// redact hides the password of a URL with credentials
func redact(databaseURL string) string {
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return databaseURL
	}
	// passwords may contain '@', the host never does
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return databaseURL
	}
	userinfo, host := rest[:at], rest[at+1:]
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return databaseURL
	}
	return scheme + "://" + user + ":xxxxx@" + host
}
