// Package kvstore defines the key/value persistence contract consumed by
// the learning store, together with memory, file, SQLite, and Postgres
// backed implementations. Values are opaque binary-safe blobs; the
// learning store is the only writer of its keys.
//
// All implementations are safe for concurrent use.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Get] when the key has no value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a minimal binary-safe key/value store.
type Store interface {
	// Get returns the value stored under key.
	// Returns [ErrNotFound] when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear deletes every key.
	Clear(ctx context.Context) error

	// Has reports whether key holds a value.
	Has(ctx context.Context, key string) (bool, error)
}
