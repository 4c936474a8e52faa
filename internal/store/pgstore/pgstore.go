// Package pgstore implements store.Store on PostgreSQL through pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/node-sync/database"
	"github.com/stacklok/node-sync/internal/nodes"
	"github.com/stacklok/node-sync/internal/otel"
	"github.com/stacklok/node-sync/internal/store"
)

var nodeColumns = []string{"public_key", "alias", "capacity", "first_seen"}

// Store is a PostgreSQL-backed store.Store
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ store.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithTracer sets the tracer used to create spans around store operations
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		s.tracer = tracer
	}
}

// New wraps an existing pool. The caller keeps ownership of the pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a pool for connString, verifies connectivity and creates the
// schema if it is missing.
func Open(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := database.MigrateUpPool(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return New(pool, opts...), nil
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ListAll reads every node ordered by public key
func (s *Store) ListAll(ctx context.Context) ([]nodes.Node, error) {
	ctx, span := s.startSpan(ctx, "store.ListAll")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT public_key, alias, capacity, first_seen FROM nodes ORDER BY public_key`)
	if err != nil {
		otel.RecordError(span, err)
		return nil, store.NewStorageError(store.OpListAll, err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (nodes.Node, error) {
		var (
			n     nodes.Node
			alias *string
		)
		if err := row.Scan(&n.PublicKey, &alias, &n.Capacity, &n.FirstSeen); err != nil {
			return nodes.Node{}, err
		}
		if alias != nil {
			n.Alias = *alias
		}
		return n, nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, store.NewStorageError(store.OpListAll, err)
	}
	if result == nil {
		result = []nodes.Node{}
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(result)))
	return result, nil
}

// ReplaceAll deletes every row and copies records in, inside one transaction
func (s *Store) ReplaceAll(ctx context.Context, records []nodes.Node) error {
	ctx, span := s.startSpan(ctx, "store.ReplaceAll", otel.AttrInputCount.Int(len(records)))
	defer span.End()

	if err := s.replaceAll(ctx, records); err != nil {
		otel.RecordError(span, err)
		return store.NewStorageError(store.OpReplaceAll, err)
	}
	return nil
}

func (s *Store) replaceAll(ctx context.Context, records []nodes.Node) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			slog.Warn("Failed to roll back node replace", "error", rollbackErr)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"nodes"},
		nodeColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			n := records[i]
			return []any{n.PublicKey, n.Alias, n.Capacity, n.FirstSeen}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy nodes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, otel.AttrDBSystem.String("postgresql"))
	return otel.StartSpan(ctx, s.tracer, name, trace.WithAttributes(attrs...))
}
