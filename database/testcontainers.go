package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

var (
	dbName = "nodes"
	dbUser = "nodesync"
	dbPass = "nodesync"
)

// SetupTestDB starts a Postgres container, applies the schema and returns a
// pool connected to it. The test is skipped when no container provider is
// available.
func SetupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(&nopLogger{}),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	// Round-trip the schema once so both directions are exercised
	require.NoError(t, MigrateUpPool(ctx, pool))
	require.NoError(t, MigrateDownPool(ctx, pool))
	require.NoError(t, MigrateUpPool(ctx, pool))

	cleanup := func() {
		pool.Close()
		tc.CleanupContainer(t, container)
	}

	return pool, cleanup
}
