// -----------------------------------------------------------------------
// Last Modified: Tuesday, 13th October 2026 4:12:08 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is not found in the key/value store
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStorage defines a small key/value store with per-entry expiry.
// Entries written with a TTL disappear on their own once it elapses.
type KeyValueStorage interface {
	// Get retrieves a value by key, returns ErrKeyNotFound if missing or expired
	Get(ctx context.Context, key string) (string, error)

	// Set writes a value; ttl <= 0 means the entry never expires
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes a key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// ListByPrefix returns all live keys starting with the given prefix
	ListByPrefix(ctx context.Context, prefix string) (map[string]string, error)
}
