package storage

import (
	"context"
	"log/slog"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/node-sync/internal/store"
	"github.com/stacklok/node-sync/internal/store/sqlstore"
)

// SQLiteFactory holds a SQLite-backed store
type SQLiteFactory struct {
	store *sqlstore.Store
}

var _ Factory = (*SQLiteFactory)(nil)

func newSQLiteFactory(ctx context.Context, databaseURL string, tracer trace.Tracer) (*SQLiteFactory, error) {
	if _, _, err := sqlstore.DSN(databaseURL); err != nil {
		// a malformed url never heals
		return nil, backoff.Permanent(err)
	}

	st, err := sqlstore.Open(ctx, databaseURL, sqlstore.WithTracer(tracer))
	if err != nil {
		return nil, err
	}
	return &SQLiteFactory{store: st}, nil
}

// Store returns the SQLite store
func (f *SQLiteFactory) Store() store.Store {
	return f.store
}

// Backend returns BackendSQLite
func (*SQLiteFactory) Backend() string {
	return BackendSQLite
}

// Cleanup closes the database handle
func (f *SQLiteFactory) Cleanup() {
	if err := f.store.Close(); err != nil {
		slog.Error("Failed to close sqlite store", "error", err)
	}
}
