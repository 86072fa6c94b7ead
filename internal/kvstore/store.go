// Package kvstore defines the TTL key/value contract that backs all session and
// rotation state, with an in-memory implementation for tests and single-node use
// and a Postgres implementation for shared deployments.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned by Get when the key is absent or expired.
	ErrKeyNotFound = errors.New("key not found")
	// ErrUnavailable wraps backend infrastructure failures. Callers surface it as a
	// single transient failure and do not retry internally.
	ErrUnavailable = errors.New("session store unavailable")
)

// Store is a key/value store with per-key TTL, an atomic compare-and-replace
// primitive, and set membership for enumeration indexes.
//
// CompareAndReplace is the single concurrency-correctness mechanism: refresh-token
// rotation succeeds only for the caller whose expected value still matches, so two
// concurrent rotations against the same stale token cannot both win. Implementations
// must make it atomic (one round trip, transaction, or equivalent).
type Store interface {
	// Put stores value under key with the given TTL, overwriting any prior value.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value for key, or ErrKeyNotFound if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// CompareAndReplace atomically replaces the value under key with replacement and
	// resets the TTL, but only if the current value equals expected byte-for-byte.
	// Returns false (and no error) when the value did not match or the key is gone.
	CompareAndReplace(ctx context.Context, key string, expected, replacement []byte, ttl time.Duration) (bool, error)

	// AddToSet adds member to the set under key and extends the set's TTL.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	// RemoveFromSet removes member from the set under key. Absent members are ignored.
	RemoveFromSet(ctx context.Context, key, member string) error
	// SetMembers returns the unexpired members of the set under key; empty when absent.
	SetMembers(ctx context.Context, key string) ([]string, error)
}
