package storage

import (
	"context"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/node-sync/internal/store"
	"github.com/stacklok/node-sync/internal/store/pgstore"
)

// PostgresFactory holds a PostgreSQL-backed store
type PostgresFactory struct {
	store *pgstore.Store
}

var _ Factory = (*PostgresFactory)(nil)

func newPostgresFactory(ctx context.Context, databaseURL string, tracer trace.Tracer) (*PostgresFactory, error) {
	if _, err := pgxpool.ParseConfig(databaseURL); err != nil {
		return nil, backoff.Permanent(err)
	}

	st, err := pgstore.Open(ctx, databaseURL, pgstore.WithTracer(tracer))
	if err != nil {
		return nil, err
	}
	return &PostgresFactory{store: st}, nil
}

// Store returns the PostgreSQL store
func (f *PostgresFactory) Store() store.Store {
	return f.store
}

// Backend returns BackendPostgres
func (*PostgresFactory) Backend() string {
	return BackendPostgres
}

// Cleanup closes the connection pool
func (f *PostgresFactory) Cleanup() {
	_ = f.store.Close()
}
