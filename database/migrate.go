// Package database holds the schema of the node snapshot table and the
// helpers that apply it to SQLite and PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MigrateUp creates the schema on a database/sql handle. It is idempotent.
func MigrateUp(ctx context.Context, db Execer) error {
	return apply(".up.sql", false, func(stmt string) error {
		_, err := db.ExecContext(ctx, stmt)
		return err
	})
}

// MigrateDown drops the schema from a database/sql handle.
func MigrateDown(ctx context.Context, db Execer) error {
	return apply(".down.sql", true, func(stmt string) error {
		_, err := db.ExecContext(ctx, stmt)
		return err
	})
}

// MigrateUpPool creates the schema through a pgx pool. It is idempotent.
func MigrateUpPool(ctx context.Context, pool *pgxpool.Pool) error {
	return apply(".up.sql", false, func(stmt string) error {
		_, err := pool.Exec(ctx, stmt)
		return err
	})
}

// MigrateDownPool drops the schema through a pgx pool.
func MigrateDownPool(ctx context.Context, pool *pgxpool.Pool) error {
	return apply(".down.sql", true, func(stmt string) error {
		_, err := pool.Exec(ctx, stmt)
		return err
	})
}

func apply(suffix string, reverse bool, exec func(string) error) error {
	names, err := migrationFiles(suffix)
	if err != nil {
		return err
	}
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	for _, name := range names {
		body, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := exec(string(body)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

func migrationFiles(suffix string) ([]string, error) {
	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e, suffix) {
			names = append(names, e)
		}
	}
	sort.Strings(names)
	return names, nil
}
