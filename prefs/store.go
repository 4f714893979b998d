// Package prefs persists user preferences and session flags to a durable
// local key-value store.
//
// Keys are flat strings and values are stored as text, so the on-disk layout
// mirrors the browser local storage the client state originally lived in.
package prefs

import (
	"errors"
	"iter"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("prefs: not found")

// Store is a durable string key-value store.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// All iterates over every stored entry in key order.
	All() iter.Seq2[string, string]

	// Close releases the store.
	Close() error
}
