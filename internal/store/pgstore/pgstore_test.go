package pgstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/node-sync/database"
	"github.com/stacklok/node-sync/internal/store"
	"github.com/stacklok/node-sync/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		// subtests share the container, start each from an empty table
		_, err := pool.Exec(context.Background(), `TRUNCATE nodes`)
		require.NoError(t, err)
		return New(pool)
	})
}

func TestOpenInvalidConnString(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "postgres://%zz")
	require.Error(t, err)
}
