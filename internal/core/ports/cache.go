package ports

import (
	"context"
	"time"
)

// Cache is the byte-level read-through cache used in front of the policy repository.
// Failures must be survivable: callers fall back to the repository on any error.
type Cache interface {
	// Get returns the raw bytes for key; ok=false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key; a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
