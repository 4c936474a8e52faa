// Package storetest holds behavioural tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/node-sync/internal/nodes"
	"github.com/stacklok/node-sync/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Node builds a deterministic node for key
func Node(key string) nodes.Node {
	return nodes.Node{
		PublicKey: key,
		Alias:     "alias-" + key,
		Capacity:  "1.00000000",
		FirstSeen: "2009-02-13T23:31:30Z",
	}
}

var sortByKey = cmpopts.SortSlices(func(a, b nodes.Node) bool { return a.PublicKey < b.PublicKey })

// AssertSnapshot compares the store contents with want as a set.
func AssertSnapshot(t *testing.T, s store.Store, want []nodes.Node) {
	t.Helper()
	got, err := s.ListAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(want, got, sortByKey, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

// Run exercises the store contract against stores produced by newStore.
// Subtests run sequentially since durable factories may share a database.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty store lists nothing", func(t *testing.T) {
		s := newStore(t)
		got, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("replace then list", func(t *testing.T) {
		s := newStore(t)
		want := []nodes.Node{Node("b"), Node("a"), {PublicKey: "c"}}
		require.NoError(t, s.ReplaceAll(ctx, want))
		AssertSnapshot(t, s, want)
	})

	t.Run("replace leaves no residue", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplaceAll(ctx, []nodes.Node{Node("a"), Node("b")}))
		second := []nodes.Node{Node("c"), Node("d")}
		require.NoError(t, s.ReplaceAll(ctx, second))
		AssertSnapshot(t, s, second)
	})

	t.Run("replace with same input is idempotent", func(t *testing.T) {
		s := newStore(t)
		input := []nodes.Node{Node("a"), Node("b")}
		require.NoError(t, s.ReplaceAll(ctx, input))
		require.NoError(t, s.ReplaceAll(ctx, input))
		AssertSnapshot(t, s, input)
	})

	t.Run("replace with empty input clears", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplaceAll(ctx, []nodes.Node{Node("a")}))
		require.NoError(t, s.ReplaceAll(ctx, nil))
		AssertSnapshot(t, s, nil)
	})

	t.Run("duplicate keys are rejected", func(t *testing.T) {
		s := newStore(t)
		previous := []nodes.Node{Node("x")}
		require.NoError(t, s.ReplaceAll(ctx, previous))

		err := s.ReplaceAll(ctx, []nodes.Node{Node("a"), Node("a")})
		require.Error(t, err)
		var storageErr *store.StorageError
		assert.ErrorAs(t, err, &storageErr)
		AssertSnapshot(t, s, previous)
	})

	t.Run("readers see whole snapshots", func(t *testing.T) {
		s := newStore(t)
		first := make([]nodes.Node, 0, 50)
		second := make([]nodes.Node, 0, 50)
		for i := range 50 {
			first = append(first, Node(fmt.Sprintf("first-%02d", i)))
			second = append(second, Node(fmt.Sprintf("second-%02d", i)))
		}
		require.NoError(t, s.ReplaceAll(ctx, first))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				batch := first
				if i%2 == 0 {
					batch = second
				}
				assert.NoError(t, s.ReplaceAll(ctx, batch))
			}
		}()

		for range 20 {
			got, err := s.ListAll(ctx)
			require.NoError(t, err)
			assert.Len(t, got, 50)
		}
		wg.Wait()
	})
}
