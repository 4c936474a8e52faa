// Package store defines the snapshot store contract shared by the poller and
// the query server.
package store

import (
	"context"
	"fmt"

	"github.com/stacklok/node-sync/internal/nodes"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store holds the current node snapshot.
type Store interface {
	// ListAll returns every node currently stored. Order is unspecified.
	ListAll(ctx context.Context) ([]nodes.Node, error)

	// ReplaceAll deletes every stored node and inserts the given ones as a
	// single unit of work. After a failure the contents are unknown.
	ReplaceAll(ctx context.Context, records []nodes.Node) error
}

// StorageError reports a failure of the underlying storage engine.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying engine error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Operation names used in StorageError.Op
const (
	OpListAll    = "list_all"
	OpReplaceAll = "replace_all"
)

// NewStorageError wraps err for op, returning nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
