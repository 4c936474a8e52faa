// Package app provides application lifecycle management for node-sync.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/node-sync/internal/app/storage"
	"github.com/stacklok/node-sync/internal/config"
	"github.com/stacklok/node-sync/internal/sync/poller"
	"github.com/stacklok/node-sync/internal/telemetry"
)

// App runs the poller and the HTTP server over one shared store
type App struct {
	config          *config.Config
	storageFactory  storage.Factory
	poller          poller.Poller
	httpServer      *http.Server
	telemetry       *telemetry.Telemetry
	shutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
}

// Listen binds the HTTP address. A bind failure is returned immediately so
// that it aborts startup.
func (app *App) Listen() error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen
func (app *App) Addr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener == nil {
		return nil
	}
	return app.listener.Addr()
}

// Serve runs the poller and the HTTP server until ctx is cancelled or the
// server fails. On the way out the poller is stopped, the server drains
// within the shutdown timeout and the store is released.
func (app *App) Serve(ctx context.Context) error {
	if err := app.Listen(); err != nil {
		app.release()
		return err
	}

	app.mu.Lock()
	ln := app.listener
	app.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.poller.Start(gctx); err != nil {
			return fmt.Errorf("poller failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "address", ln.Addr().String())
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")

		if err := app.poller.Stop(); err != nil {
			slog.Error("Failed to stop poller", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	app.release()
	if err != nil {
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}

// Run binds the address and serves until ctx is cancelled
func (app *App) Run(ctx context.Context) error {
	if err := app.Listen(); err != nil {
		app.release()
		return err
	}
	return app.Serve(ctx)
}

// GetConfig returns the application configuration
func (app *App) GetConfig() *config.Config {
	return app.config
}

// release closes the store and flushes telemetry
func (app *App) release() {
	if app.storageFactory != nil {
		app.storageFactory.Cleanup()
	}
	shutdownTelemetry(app.telemetry, app.shutdownTimeout)
}

func shutdownTelemetry(t *telemetry.Telemetry, timeout time.Duration) {
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := t.Shutdown(ctx); err != nil {
		slog.Error("Failed to shutdown telemetry", "error", err)
	}
}
