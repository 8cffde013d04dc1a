// Package kv provides the durable key-value storage used for license
// bindings, provisioned key registries, rate-limit counters and download
// logs. Values are opaque strings with an optional time-to-live, mirroring
// the semantics of an external KV namespace: atomic single-key get/put,
// full-value overwrites, no cross-key transactions.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable indicates the backing store could not be reached or
// has not been initialized. Handlers surface it as a 500.
var ErrStoreUnavailable = errors.New("kv: store unavailable")

// Store is the single shared mutable resource in the system. Every write is
// a full-value overwrite keyed by one logical key, so partial-update races
// within a key are impossible; concurrent writers to the same key are
// last-write-wins.
type Store interface {
	// Get returns the value for key. The second return is false when the
	// key is absent or its TTL has elapsed.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores value under key. A zero ttl means the entry never expires.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Closer is implemented by stores holding external resources.
type Closer interface {
	Close() error
}
