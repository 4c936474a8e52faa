// Package memory provides an in-memory Store used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stacklok/node-sync/internal/nodes"
	"github.com/stacklok/node-sync/internal/store"
)

// Store is a map-backed store.Store. The zero value is not usable, use New.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]nodes.Node
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store
func New() *Store {
	return &Store{nodes: make(map[string]nodes.Node)}
}

// ListAll returns a copy of the snapshot sorted by public key
func (s *Store) ListAll(_ context.Context) ([]nodes.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]nodes.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out, nil
}

// ReplaceAll swaps the snapshot. Duplicate public keys are rejected and leave
// the previous snapshot in place.
func (s *Store) ReplaceAll(_ context.Context, records []nodes.Node) error {
	next := make(map[string]nodes.Node, len(records))
	for _, n := range records {
		if _, ok := next[n.PublicKey]; ok {
			return store.NewStorageError(store.OpReplaceAll,
				fmt.Errorf("duplicate public key %q", n.PublicKey))
		}
		next[n.PublicKey] = n
	}

	s.mu.Lock()
	s.nodes = next
	s.mu.Unlock()
	return nil
}
