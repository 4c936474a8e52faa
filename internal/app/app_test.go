package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	storagemocks "github.com/stacklok/node-sync/internal/app/storage/mocks"
	"github.com/stacklok/node-sync/internal/config"
	"github.com/stacklok/node-sync/internal/nodes"
	sourcemocks "github.com/stacklok/node-sync/internal/sources/mocks"
	"github.com/stacklok/node-sync/internal/store/memory"
)

var testRanking = []nodes.RemoteNode{
	{PublicKey: "02aa", Capacity: 150000000, FirstSeen: 1609459200},
	{PublicKey: "03bb", Capacity: 1, FirstSeen: 1609459201},
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.PollIntervalSecs = 1
	cfg.ShutdownTimeout = "5s"
	return cfg
}

// newMockFactory returns a factory over an in-memory store that expects to
// be cleaned up exactly once
func newMockFactory(ctrl *gomock.Controller) *storagemocks.MockFactory {
	st := memory.New()
	f := storagemocks.NewMockFactory(ctrl)
	f.EXPECT().Store().Return(st).AnyTimes()
	f.EXPECT().Backend().Return("memory").AnyTimes()
	f.EXPECT().Cleanup().Times(1)
	return f
}

func getRecords(t *testing.T, addr net.Addr) ([]nodes.Node, int) {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://%s/records", addr))
	if err != nil {
		return nil, 0
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0
	}

	var records []nodes.Node
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, 0
		}
	}
	return records, resp.StatusCode
}

func TestServe_SyncsAndShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := sourcemocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().FetchRankings(gomock.Any()).Return(testRanking, nil).MinTimes(1)

	app, err := NewApp(context.Background(),
		WithConfig(testConfig()),
		WithAddress("127.0.0.1:0"),
		WithStorageFactory(newMockFactory(ctrl)),
		WithFetcher(fetcher),
	)
	require.NoError(t, err)
	require.NoError(t, app.Listen())
	require.NotNil(t, app.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Serve(ctx) }()

	require.Eventually(t, func() bool {
		records, status := getRecords(t, app.Addr())
		return status == http.StatusOK && len(records) == len(testRanking)
	}, 5*time.Second, 20*time.Millisecond)

	records, _ := getRecords(t, app.Addr())
	require.Len(t, records, len(testRanking))
	assert.Equal(t, "02aa", records[0].PublicKey)
	assert.Equal(t, "1.50000000", records[0].Capacity)
	assert.Equal(t, "2021-01-01T00:00:00Z", records[0].FirstSeen)
	assert.Empty(t, records[0].Alias)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	// the listener is closed
	_, err = net.DialTimeout("tcp", app.Addr().String(), time.Second)
	assert.Error(t, err)
}

func TestServe_FetchFailureKeepsServing(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := sourcemocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().FetchRankings(gomock.Any()).Return(nil, errors.New("upstream down")).MinTimes(1)

	app, err := NewApp(context.Background(),
		WithConfig(testConfig()),
		WithAddress("127.0.0.1:0"),
		WithStorageFactory(newMockFactory(ctrl)),
		WithFetcher(fetcher),
	)
	require.NoError(t, err)
	require.NoError(t, app.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Serve(ctx) }()

	require.Eventually(t, func() bool {
		records, status := getRecords(t, app.Addr())
		return status == http.StatusOK && len(records) == 0
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", app.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	cancel()
	require.NoError(t, <-errCh)
}

func TestServe_ServerFailureStopsPoller(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	ctrl := gomock.NewController(t)
	fetcher := sourcemocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().FetchRankings(gomock.Any()).
		DoAndReturn(func(context.Context) ([]nodes.RemoteNode, error) {
			fetches.Add(1)
			return testRanking, nil
		}).MinTimes(1)

	app, err := NewApp(context.Background(),
		WithConfig(testConfig()),
		WithAddress("127.0.0.1:0"),
		WithStorageFactory(newMockFactory(ctrl)),
		WithFetcher(fetcher),
	)
	require.NoError(t, err)
	require.NoError(t, app.Listen())

	errCh := make(chan error, 1)
	go func() { errCh <- app.Serve(context.Background()) }()

	require.Eventually(t, func() bool {
		return fetches.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	// pull the listener out from under the running server
	app.mu.Lock()
	require.NoError(t, app.listener.Close())
	app.mu.Unlock()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP server failed")
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after the server failed")
	}

	// the poller has stopped, so no further cycles run
	stopped := fetches.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, stopped, fetches.Load())
}

func TestRun_BindFailure(t *testing.T) {
	t.Parallel()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = occupied.Close() })

	ctrl := gomock.NewController(t)
	fetcher := sourcemocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().FetchRankings(gomock.Any()).Times(0)

	app, err := NewApp(context.Background(),
		WithConfig(testConfig()),
		WithAddress(occupied.Addr().String()),
		WithStorageFactory(newMockFactory(ctrl)),
		WithFetcher(fetcher),
	)
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := sourcemocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().FetchRankings(gomock.Any()).Return(testRanking, nil).AnyTimes()

	app, err := NewApp(context.Background(),
		WithConfig(testConfig()),
		WithAddress("127.0.0.1:0"),
		WithStorageFactory(newMockFactory(ctrl)),
		WithFetcher(fetcher),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.Run(ctx))
}

func TestNewApp_SQLiteStore(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := sourcemocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().FetchRankings(gomock.Any()).Return(testRanking, nil).MinTimes(1)

	cfg := testConfig()
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "nodes.db")

	app, err := NewApp(context.Background(),
		WithConfig(cfg),
		WithAddress("127.0.0.1:0"),
		WithFetcher(fetcher),
	)
	require.NoError(t, err)
	assert.Equal(t, cfg, app.GetConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	require.NoError(t, app.Listen())
	go func() { errCh <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		records, status := getRecords(t, app.Addr())
		return status == http.StatusOK && len(records) == len(testRanking)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

func TestNewApp_StorageFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DatabaseURL = "mysql://localhost/nodes"

	_, err := NewApp(context.Background(), WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create storage factory")
}
