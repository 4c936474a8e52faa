package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stacklok/node-sync/internal/nodes"
	"github.com/stacklok/node-sync/internal/store"
	"github.com/stacklok/node-sync/internal/store/storetest"
)

func openFileStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "nodes.db")
	s, err := Open(context.Background(), url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		storetest.Run(t, func(t *testing.T) store.Store {
			return openFileStore(t)
		})
	})

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		storetest.Run(t, func(t *testing.T) store.Store {
			s, err := Open(context.Background(), "sqlite::memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		})
	})
}

func TestOpenEnablesWAL(t *testing.T) {
	t.Parallel()

	s := openFileStore(t)
	var mode string
	require.NoError(t, s.DB().QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "nodes.db")

	first, err := Open(ctx, url)
	require.NoError(t, err)
	require.NoError(t, first.ReplaceAll(ctx, []nodes.Node{storetest.Node("kept")}))
	require.NoError(t, first.Close())

	second, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	storetest.AssertSnapshot(t, second, []nodes.Node{storetest.Node("kept")})
}

func TestListAllMissingTable(t *testing.T) {
	t.Parallel()

	db, err := sql.Open(DriverName, "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db)
	got, err := s.ListAll(context.Background())
	require.Error(t, err)
	assert.Nil(t, got)

	var storageErr *store.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, store.OpListAll, storageErr.Op)

	err = s.ReplaceAll(context.Background(), []nodes.Node{storetest.Node("a")})
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, store.OpReplaceAll, storageErr.Op)
}

func TestListAllNullAlias(t *testing.T) {
	t.Parallel()

	db, err := sql.Open(DriverName, "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	// schema written by older deployments allowed NULL aliases
	_, err = db.Exec(`CREATE TABLE nodes (public_key TEXT PRIMARY KEY, alias TEXT, capacity TEXT, first_seen TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO nodes VALUES ('k', NULL, '0.00000000', '0')`)
	require.NoError(t, err)

	got, err := New(db).ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []nodes.Node{{PublicKey: "k", Alias: "", Capacity: "0.00000000", FirstSeen: "0"}}, got)
}

func TestDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		url        string
		expected   string
		wantMemory bool
		wantError  bool
	}{
		{name: "relative url", url: "sqlite://nodes.db", expected: "file:nodes.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{name: "absolute url", url: "sqlite:///var/lib/nodes.db", expected: "file:/var/lib/nodes.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{name: "short form", url: "sqlite:nodes.db", expected: "file:nodes.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{name: "query dropped", url: "sqlite://nodes.db?mode=rwc", expected: "file:nodes.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{name: "memory", url: "sqlite::memory:", expected: "file::memory:", wantMemory: true},
		{name: "file uri passthrough", url: "file:x.db?_pragma=foreign_keys(1)", expected: "file:x.db?_pragma=foreign_keys(1)"},
		{name: "file memory uri", url: "file:test?mode=memory", expected: "file:test?mode=memory", wantMemory: true},
		{name: "empty path", url: "sqlite://", wantError: true},
		{name: "postgres", url: "postgres://localhost/nodes", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dsn, inMemory, err := DSN(tt.url)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dsn)
			assert.Equal(t, tt.wantMemory, inMemory)
		})
	}
}

func TestStoreSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s := openFileStore(t, WithTracer(tp.Tracer("test")))
	ctx := context.Background()
	require.NoError(t, s.ReplaceAll(ctx, []nodes.Node{storetest.Node("a")}))
	_, err := s.ListAll(ctx)
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "store.ReplaceAll", spans[0].Name)
	assert.Equal(t, "store.ListAll", spans[1].Name)
}
