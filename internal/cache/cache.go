// Package cache provides the key/value memo shared by the auth backend and
// the transfer backends.
package cache

import (
	"context"
	"errors"

	"github.com/zeebo/errs"
)

// Error is the error class for cache failures.
var Error = errs.Class("cache")

// ErrEmptyKey is returned when an operation is attempted with an empty key.
var ErrEmptyKey = errors.New("empty cache key")

// Cache is a concurrency-safe key/value store with a backend-defined expiry.
type Cache interface {
	// Get returns the value for key. The boolean is false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*Redis)(nil)
)
