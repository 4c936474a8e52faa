package sources

import (
	"context"
	"fmt"

	"github.com/stacklok/node-sync/internal/nodes"
)

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks -source=types.go Fetcher

// Fetcher retrieves the raw ranking entries
type Fetcher interface {
	FetchRankings(ctx context.Context) ([]nodes.RemoteNode, error)
}

// FetchError reports a failure reaching the remote API or decoding its body
type FetchError struct {
	URL string
	Err error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch rankings from %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Err
}
