package ports

import "context"

// KeyValueStore is the persistent string key-value substrate the cache sits
// on. Adapters may be backed by SQLite or an in-memory map for tests; the
// cache logic never touches a concrete store directly.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error

	// Keys enumerates every key currently in the store, including keys
	// written by unrelated code (provider token entries). The logout sweep
	// relies on this instead of a key registry.
	Keys(ctx context.Context) ([]string, error)
}
