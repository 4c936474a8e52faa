package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/stacklok/node-sync/internal/httpclient"
	"github.com/stacklok/node-sync/internal/nodes"
)

// DefaultRankingsURL is the connectivity ranking endpoint
const DefaultRankingsURL = "https://mempool.space/api/v1/lightning/nodes/rankings/connectivity"

// APIFetcher fetches rankings over HTTP
type APIFetcher struct {
	client   httpclient.Client
	endpoint string
}

var _ Fetcher = (*APIFetcher)(nil)

// APIOption configures an APIFetcher
type APIOption func(*APIFetcher)

// WithHTTPClient sets the client used for requests
func WithHTTPClient(client httpclient.Client) APIOption {
	return func(f *APIFetcher) {
		f.client = client
	}
}

// WithEndpoint overrides DefaultRankingsURL. Intended for tests.
func WithEndpoint(endpoint string) APIOption {
	return func(f *APIFetcher) {
		f.endpoint = endpoint
	}
}

// NewAPIFetcher creates a fetcher against DefaultRankingsURL
func NewAPIFetcher(opts ...APIOption) *APIFetcher {
	f := &APIFetcher{endpoint: DefaultRankingsURL}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = httpclient.NewDefaultClient()
	}
	return f
}

// Endpoint returns the URL requested by FetchRankings
func (f *APIFetcher) Endpoint() string {
	return f.endpoint
}

// FetchRankings performs one GET and decodes the body as an array of ranking
// entries. Any failure is returned as a *FetchError.
func (f *APIFetcher) FetchRankings(ctx context.Context) ([]nodes.RemoteNode, error) {
	body, err := f.client.Get(ctx, f.endpoint)
	if err != nil {
		return nil, &FetchError{URL: f.endpoint, Err: err}
	}

	result, err := decodeRankings(body)
	if err != nil {
		return nil, &FetchError{URL: f.endpoint, Err: err}
	}

	slog.Debug("Fetched rankings", "url", f.endpoint, "count", len(result), "bytes", len(body))
	return result, nil
}

func decodeRankings(body []byte) ([]nodes.RemoteNode, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response body is not valid JSON")
	}
	if parsed := gjson.ParseBytes(body); !parsed.IsArray() {
		return nil, fmt.Errorf("expected JSON array, got %s", parsed.Type)
	}

	var result []nodes.RemoteNode
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode rankings: %w", err)
	}
	if result == nil {
		result = []nodes.RemoteNode{}
	}
	return result, nil
}
