package ports

import "context"

// CommitPublisher fans cache-commit events out to interested processes.
// Publishing is best effort; a failed publish never fails the write that
// triggered it.
type CommitPublisher interface {
	Publish(ctx context.Context, key string) error
	Close() error
}
