// Package storage provides the durable local state store for the
// synchronization core: offline queue entries, per-thread drafts, the
// recently-used reactions list, and per-thread deleted-for-me sets.
//
// The production backend is Pebble; an in-memory implementation backs
// tests. Both are safe for concurrent use.
package storage

import "errors"

// ErrClosed indicates an operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a small ordered key-value contract. Keys are arbitrary strings;
// Scan visits keys sharing a prefix in lexicographic order, which the
// offline queue relies on for FIFO replay.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(key string) ([]byte, bool, error)

	// Set durably writes key to value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Scan visits all keys with the given prefix in ascending key order.
	// Returning an error from fn stops the scan and propagates the error.
	Scan(prefix string, fn func(key string, value []byte) error) error

	// Close releases the store. Further operations return ErrClosed.
	Close() error
}
