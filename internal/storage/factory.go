package storage

import (
	"context"
	"fmt"
	"strings"
)

// NewStorage creates an S3-compatible storage client based on the configuration.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - *Bucket: initialized storage client.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(cfg *S3Config) (*Bucket, error) {
	if cfg.Type == "" {
		cfg.Type = detectStorageType(cfg.Endpoint)
	}

	return NewBucket(cfg)
}

// NewPayloadStore selects the payload backend.
// Parameters:
//   - ctx: context for the bucket check.
//   - backend: "database" or "s3".
//   - prefix: object key prefix for the s3 backend.
//   - s3cfg: object storage settings, used by the s3 backend only.
//   - database: store used by the database backend.
// Returns:
//   - PayloadStore: the selected backend.
//   - error: non-nil for an unknown backend or an unusable bucket.
func NewPayloadStore(ctx context.Context, backend, prefix string, s3cfg *S3Config, database PayloadStore) (PayloadStore, error) {
	switch backend {
	case "", "database":
		return database, nil
	case "s3":
		objects, err := NewStorage(s3cfg)
		if err != nil {
			return nil, err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return NewObjectPayloadStore(objects, prefix), nil
	default:
		return nil, fmt.Errorf("unknown payload backend %q", backend)
	}
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
