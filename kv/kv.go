// Package kv provides the key-value ledger that backs job records and
// progress projections. Keys carry a per-key expiry; an expired key
// behaves exactly like an absent one.
package kv

import (
	"context"
	"time"
)

// Store is a key-value store with per-key expiry.
//
// Implementations must treat an expired key as absent: Get returns
// ErrNotFound and Set overwrites whatever is left of it. Every Set
// resets the expiry countdown, which is what keeps active job records
// alive while they are being mutated.
type Store interface {
	// Get returns the value for key, or errors.ErrNotFound if the key
	// is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key with the given time-to-live.
	// A non-positive ttl stores the key without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
