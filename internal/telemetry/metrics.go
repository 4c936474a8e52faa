package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/stacklok/node-sync/sync"

// SyncMetrics holds the instruments recorded by the poller
type SyncMetrics struct {
	cycleDuration metric.Float64Histogram
	snapshotNodes metric.Int64Gauge
}

// NewSyncMetrics creates the sync instruments. A nil provider yields nil
// metrics, and every method on nil metrics is a no-op.
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	cycleDuration, err := meter.Float64Histogram(
		"node_sync_cycle_duration_seconds",
		metric.WithDescription("Duration of sync cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	snapshotNodes, err := meter.Int64Gauge(
		"node_sync_snapshot_nodes",
		metric.WithDescription("Number of nodes in the last committed snapshot"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		cycleDuration: cycleDuration,
		snapshotNodes: snapshotNodes,
	}, nil
}

// RecordCycleDuration records how long a cycle took and whether it succeeded
func (m *SyncMetrics) RecordCycleDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.cycleDuration == nil {
		return
	}
	m.cycleDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordSnapshotNodes records the size of the committed snapshot
func (m *SyncMetrics) RecordSnapshotNodes(ctx context.Context, count int64) {
	if m == nil || m.snapshotNodes == nil {
		return
	}
	m.snapshotNodes.Record(ctx, count)
}
