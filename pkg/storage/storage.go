// Package storage provides the persistent key-value backends the token
// store writes sealed values into. Backends are deliberately dumb string
// stores; encryption happens a layer above.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: not found")

// Backend is the persistence contract consumed by the token store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value for key, or ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	Close() error
}
