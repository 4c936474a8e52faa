// Package sqlstore implements store.Store on SQLite through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the SQLite build
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/node-sync/database"
	"github.com/stacklok/node-sync/internal/nodes"
	"github.com/stacklok/node-sync/internal/otel"
	"github.com/stacklok/node-sync/internal/store"
)

// DriverName is the database/sql driver used for SQLite
const DriverName = "sqlite3"

const (
	listQuery   = `SELECT public_key, alias, capacity, first_seen FROM nodes ORDER BY public_key`
	deleteQuery = `DELETE FROM nodes`
	insertQuery = `INSERT INTO nodes (public_key, alias, capacity, first_seen) VALUES (?, ?, ?, ?)`
)

// Store is a SQLite-backed store.Store
type Store struct {
	db     *sql.DB
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

// New wraps an open handle. The schema is not touched.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the database named by databaseURL, enables WAL for file
// databases and creates the schema if it is missing.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	dsn, inMemory, err := DSN(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if inMemory {
		// every connection to :memory: is a distinct database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	if err := database.MigrateUp(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return New(db, opts...), nil
}

// DSN converts a sqlite:// style URL into a DSN understood by the driver.
// It reports whether the database lives in memory.
func DSN(databaseURL string) (string, bool, error) {
	var path string
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path = strings.TrimPrefix(databaseURL, "sqlite://")
	case strings.HasPrefix(databaseURL, "sqlite:"):
		path = strings.TrimPrefix(databaseURL, "sqlite:")
	case strings.HasPrefix(databaseURL, "file:"):
		return databaseURL, strings.Contains(databaseURL, ":memory:") || strings.Contains(databaseURL, "mode=memory"), nil
	default:
		return "", false, fmt.Errorf("unsupported sqlite url: %q", databaseURL)
	}

	// drop connection options of other sqlite clients, e.g. ?mode=rwc
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "", false, errors.New("sqlite url has no database path")
	}
	if path == ":memory:" {
		return "file::memory:", true, nil
	}

	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", false, nil
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying handle
func (s *Store) Close() error {
	return s.db.Close()
}

// ListAll reads every node ordered by public key
func (s *Store) ListAll(ctx context.Context) ([]nodes.Node, error) {
	ctx, span := s.startSpan(ctx, "store.ListAll")
	defer span.End()

	result, err := s.listAll(ctx)
	if err != nil {
		otel.RecordError(span, err)
		return nil, store.NewStorageError(store.OpListAll, err)
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(result)))
	return result, nil
}

func (s *Store) listAll(ctx context.Context) ([]nodes.Node, error) {
	rows, err := s.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]nodes.Node, 0)
	for rows.Next() {
		var (
			n     nodes.Node
			alias sql.NullString
		)
		if err := rows.Scan(&n.PublicKey, &alias, &n.Capacity, &n.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Alias = alias.String
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReplaceAll deletes every row and inserts records inside one transaction
func (s *Store) ReplaceAll(ctx context.Context, records []nodes.Node) error {
	ctx, span := s.startSpan(ctx, "store.ReplaceAll",
		otel.AttrInputCount.Int(len(records)))
	defer span.End()

	if err := s.replaceAll(ctx, records); err != nil {
		otel.RecordError(span, err)
		return store.NewStorageError(store.OpReplaceAll, err)
	}
	return nil
}

func (s *Store) replaceAll(ctx context.Context, records []nodes.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, deleteQuery); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range records {
		if _, err := stmt.ExecContext(ctx, n.PublicKey, n.Alias, n.Capacity, n.FirstSeen); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.PublicKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, otel.AttrDBSystem.String("sqlite"))
	return otel.StartSpan(ctx, s.tracer, name, trace.WithAttributes(attrs...))
}
