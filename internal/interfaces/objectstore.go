package interfaces

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the external artifact storage collaborator
type ObjectStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	Put(ctx context.Context, path string, r io.Reader) (int64, error)
	Size(ctx context.Context, path string) (int64, error)
	TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
