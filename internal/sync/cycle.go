package sync

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/node-sync/internal/nodes"
	"github.com/stacklok/node-sync/internal/otel"
	"github.com/stacklok/node-sync/internal/sources"
	"github.com/stacklok/node-sync/internal/store"
)

// Stages reported in CycleError.Stage
const (
	StageFetch = "fetch"
	StageStore = "store"
)

// Result contains the outcome of a successful cycle
type Result struct {
	NodeCount int
}

// CycleError wraps a FetchError or StorageError at the cycle boundary
type CycleError struct {
	Err     error
	Message string
	Stage   string
}

func (e *CycleError) Error() string {
	return e.Message
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Runner executes sync cycles
//
//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/stacklok/node-sync/internal/sync Runner
type Runner interface {
	// Run performs one fetch, normalize and replace cycle
	Run(ctx context.Context) (*Result, *CycleError)
}

type defaultRunner struct {
	fetcher sources.Fetcher
	store   store.Store
	tracer  trace.Tracer
}

// RunnerOption configures a Runner
type RunnerOption func(*defaultRunner)

// WithTracer sets the tracer used for the cycle span
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *defaultRunner) {
		r.tracer = tracer
	}
}

// NewRunner creates a Runner over fetcher and st
func NewRunner(fetcher sources.Fetcher, st store.Store, opts ...RunnerOption) Runner {
	r := &defaultRunner{
		fetcher: fetcher,
		store:   st,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunCycle performs a single untraced cycle
func RunCycle(ctx context.Context, fetcher sources.Fetcher, st store.Store) (*Result, *CycleError) {
	return NewRunner(fetcher, st).Run(ctx)
}

type cycleIDKey struct{}

// ContextWithCycleID tags ctx with the id of the cycle about to run
func ContextWithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

// CycleIDFromContext returns the cycle id set by ContextWithCycleID
func CycleIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(cycleIDKey{}).(string)
	return id, ok
}

// Run performs one cycle
func (r *defaultRunner) Run(ctx context.Context) (*Result, *CycleError) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "sync.cycle")
	defer span.End()
	if id, ok := CycleIDFromContext(ctx); ok {
		span.SetAttributes(otel.AttrCycleID.String(id))
	}

	raw, err := r.fetcher.FetchRankings(ctx)
	if err != nil {
		otel.RecordError(span, err)
		span.SetAttributes(otel.AttrCycleStage.String(StageFetch))
		var fetchErr *sources.FetchError
		if errors.As(err, &fetchErr) {
			span.SetAttributes(otel.AttrSourceURL.String(fetchErr.URL))
		}
		return nil, &CycleError{
			Err:     err,
			Message: fmt.Sprintf("Failed to fetch rankings: %v", err),
			Stage:   StageFetch,
		}
	}

	records := make([]nodes.Node, 0, len(raw))
	for _, entry := range raw {
		records = append(records, nodes.FromRemote(entry))
	}

	if err := r.store.ReplaceAll(ctx, records); err != nil {
		otel.RecordError(span, err)
		span.SetAttributes(otel.AttrCycleStage.String(StageStore))
		return nil, &CycleError{
			Err:     err,
			Message: fmt.Sprintf("Failed to replace snapshot: %v", err),
			Stage:   StageStore,
		}
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(records)))
	return &Result{NodeCount: len(records)}, nil
}
