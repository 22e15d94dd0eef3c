package fs

import (
	"context"
	"io"
)

// Storage is an object store for thumbnail binaries.
type Storage interface {
	// Create uploads a new object from reader and returns the number of bytes written
	Create(ctx context.Context, name string, contentType string, reader io.Reader) (int64, error)

	// Delete removes the object
	Delete(ctx context.Context, name string) error
}
