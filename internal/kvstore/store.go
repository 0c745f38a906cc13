// Package kvstore is a small keyed store with optional expiry. It keeps stream
// cursors and cached reward results.
package kvstore

import (
	"context"
	"time"
)

// Forever disables expiry on Set.
const Forever time.Duration = 0

// Store is a string keyed store. Set with a ttl of Forever keeps the value until
// it is overwritten or deleted. Writers use last-writer-wins semantics.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
