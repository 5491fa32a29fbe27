package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotExist is returned when a key is absent, whether it was never
// set or has expired. The two cases are indistinguishable by design.
var ErrNotExist = errors.New("the key does not exist")

// Store is a keyed, expiring storage backend holding OTP records,
// rate counters, reset tokens and payment session links. All
// operations are atomic with respect to a single key; eviction on
// TTL expiry is the store's responsibility, not the caller's.
type Store interface {
	// Set stores a value against a key with a TTL. A zero TTL means
	// the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves the value stored against a key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// TTL returns the remaining lifetime of a key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error
}
