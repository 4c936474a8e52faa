package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	pkgsync "github.com/stacklok/node-sync/internal/sync"
	syncmocks "github.com/stacklok/node-sync/internal/sync/mocks"
)

const testTimeout = 5 * time.Second

func startAsync(ctx context.Context, p Poller) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Start(ctx)
	}()
	return errCh
}

func waitReturn(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(testTimeout):
		t.Fatal("poller did not return")
		return nil
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)

	p, ok := New(runner).(*defaultPoller)
	require.True(t, ok)
	assert.Equal(t, DefaultInterval, p.interval)

	p, ok = New(runner, WithInterval(5*time.Second)).(*defaultPoller)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, p.interval)

	p, ok = New(runner, WithInterval(-time.Second)).(*defaultPoller)
	require.True(t, ok)
	assert.Equal(t, DefaultInterval, p.interval)
}

func TestPoller_Stop_BeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	p := New(syncmocks.NewMockRunner(ctrl))
	assert.NoError(t, p.Stop())
}

func TestPoller_RunsImmediately(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{})
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*pkgsync.Result, *pkgsync.CycleError) {
		close(ran)
		return &pkgsync.Result{NodeCount: 1}, nil
	}).Times(1)

	// the interval is far longer than the test, so only the first cycle runs
	p := New(runner, WithInterval(time.Hour))
	errCh := startAsync(ctx, p)

	select {
	case <-ran:
	case <-time.After(testTimeout):
		t.Fatal("first cycle did not run")
	}

	require.NoError(t, p.Stop())
	assert.NoError(t, waitReturn(t, errCh))
}

func TestPoller_FailuresDoNotStopLoop(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	reached := make(chan struct{})
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*pkgsync.Result, *pkgsync.CycleError) {
		n := calls.Add(1)
		if n == 3 {
			close(reached)
		}
		if n%2 == 1 {
			return nil, &pkgsync.CycleError{
				Err:     errors.New("upstream unavailable"),
				Message: "Failed to fetch rankings: upstream unavailable",
				Stage:   pkgsync.StageFetch,
			}
		}
		return &pkgsync.Result{NodeCount: 10}, nil
	}).MinTimes(3)

	errCh := startAsync(ctx, New(runner, WithInterval(time.Millisecond)))

	select {
	case <-reached:
	case <-time.After(testTimeout):
		t.Fatal("poller stopped cycling after a failure")
	}

	cancel()
	assert.NoError(t, waitReturn(t, errCh))
}

func TestPoller_InFlightCycleCompletes(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var cycleCtxErr atomic.Value
	var completed atomic.Bool

	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(cycleCtx context.Context) (*pkgsync.Result, *pkgsync.CycleError) {
		close(started)
		<-release
		if err := cycleCtx.Err(); err != nil {
			cycleCtxErr.Store(err)
		}
		completed.Store(true)
		return &pkgsync.Result{}, nil
	}).Times(1)

	// a tiny interval would trigger a second Run if cancellation were missed
	errCh := startAsync(ctx, New(runner, WithInterval(time.Nanosecond)))

	<-started
	cancel()

	select {
	case <-errCh:
		t.Fatal("poller returned before the in-flight cycle completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.NoError(t, waitReturn(t, errCh))
	assert.True(t, completed.Load())
	assert.Nil(t, cycleCtxErr.Load(), "cycle context must not be cancelled")
}

func TestPoller_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any()).Times(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, New(runner).Start(ctx))
}

func TestPoller_StartTwice(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any()).Return(&pkgsync.Result{}, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(runner, WithInterval(time.Hour))
	errCh := startAsync(ctx, p)

	require.Eventually(t, func() bool {
		dp := p.(*defaultPoller)
		dp.mu.Lock()
		defer dp.mu.Unlock()
		return dp.started
	}, testTimeout, time.Millisecond)

	assert.ErrorIs(t, p.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, p.Stop())
	assert.NoError(t, waitReturn(t, errCh))
}
