package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}

// PayloadStore keeps raw fetched payloads addressed by payload_ref.
// Payloads are write-once; a ref always resolves to the same bytes.
type PayloadStore interface {
	// Put stores body under ref.
	Put(ctx context.Context, ref string, itemID int64, body []byte) error

	// Get loads the body stored under ref; it wraps domain.ErrPayloadNotFound when absent.
	Get(ctx context.Context, ref string) ([]byte, error)
}
