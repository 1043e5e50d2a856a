package ports

import "context"

// BlobStore holds offline assets (sponsor logos, venue maps) outside the
// key-value store. Logout clears it as a secondary store, best effort.
type BlobStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Clear(ctx context.Context) (removed int, err error)
}
