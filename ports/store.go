package ports

import (
	"context"
	"time"
)

// Store is a key-value store with optional per-key expiry.
// Get and Take return core.ErrKeyNotFound for absent or expired keys.
type Store interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value; a zero ttl means no expiry
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Take atomically reads and deletes a key
	Take(ctx context.Context, key string) (string, error)
}
