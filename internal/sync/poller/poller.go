package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgsync "github.com/stacklok/node-sync/internal/sync"
	"github.com/stacklok/node-sync/internal/telemetry"
)

// DefaultInterval is the wait between the end of one cycle and the start of the next
const DefaultInterval = 60 * time.Second

// ErrAlreadyStarted is returned when Start is called twice on one Poller
var ErrAlreadyStarted = errors.New("poller already started")

// Poller runs sync cycles in the background
type Poller interface {
	// Start runs cycles until ctx is cancelled or Stop is called.
	// It returns nil once stopped.
	Start(ctx context.Context) error

	// Stop cancels a running Start and waits for it to return
	Stop() error
}

type defaultPoller struct {
	runner   pkgsync.Runner
	interval time.Duration

	mu         sync.Mutex
	started    bool
	cancelFunc context.CancelFunc
	done       chan struct{}

	syncMetrics *telemetry.SyncMetrics
}

// Option is a function that configures the poller
type Option func(*defaultPoller)

// WithInterval sets the wait between cycles. Non-positive values are ignored.
func WithInterval(interval time.Duration) Option {
	return func(p *defaultPoller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithSyncMetrics sets the sync metrics for the poller
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(p *defaultPoller) {
		p.syncMetrics = metrics
	}
}

// New creates a poller over runner
func New(runner pkgsync.Runner, opts ...Option) Poller {
	p := &defaultPoller{
		runner:   runner,
		interval: DefaultInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs the polling loop
func (p *defaultPoller) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		cancel()
		return ErrAlreadyStarted
	}
	p.started = true
	p.cancelFunc = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		close(p.done)
		slog.Info("Poller stopped")
	}()

	slog.Info("Starting poller", "interval", p.interval)

	for {
		if pollCtx.Err() != nil {
			return nil
		}

		// the cycle outlives cancellation so a started replace always finishes
		p.runCycle(context.WithoutCancel(pollCtx))

		timer := time.NewTimer(p.interval)
		select {
		case <-timer.C:
		case <-pollCtx.Done():
			timer.Stop()
			slog.Info("Poller stopping")
			return nil
		}
	}
}

// Stop gracefully stops the poller
func (p *defaultPoller) Stop() error {
	p.mu.Lock()
	cancel := p.cancelFunc
	p.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping poller")
		cancel()
		<-p.done
	}
	return nil
}

// runCycle executes one cycle, logs the outcome and records metrics
func (p *defaultPoller) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	logger := slog.With("cycle_id", cycleID)
	start := time.Now()

	logger.Info("Starting sync cycle")

	result, cycleErr := p.runner.Run(pkgsync.ContextWithCycleID(ctx, cycleID))
	duration := time.Since(start)

	if cycleErr != nil {
		logger.Error("Sync cycle failed",
			"stage", cycleErr.Stage,
			"duration", duration,
			"error", cycleErr.Message)
		p.syncMetrics.RecordCycleDuration(ctx, duration, false)
		return
	}

	logger.Info("Sync cycle completed successfully",
		"node_count", result.NodeCount,
		"duration", duration)
	p.syncMetrics.RecordCycleDuration(ctx, duration, true)
	p.syncMetrics.RecordSnapshotNodes(ctx, int64(result.NodeCount))
}
