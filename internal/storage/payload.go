package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/timmy/catalogsync/internal/domain"
)

const payloadContentType = "application/xml"

// ObjectPayloadStore keeps payloads as objects named <prefix>/<ref[:2]>/<ref>.xml.
type ObjectPayloadStore struct {
	objects ObjectStorage
	prefix  string
}

var _ PayloadStore = (*ObjectPayloadStore)(nil)

// NewObjectPayloadStore creates a payload store on top of object storage.
// Parameters:
//   - objects: object storage backend.
//   - prefix: key prefix shared by every payload.
// Returns:
//   - *ObjectPayloadStore: ready-to-use store.
func NewObjectPayloadStore(objects ObjectStorage, prefix string) *ObjectPayloadStore {
	return &ObjectPayloadStore{objects: objects, prefix: prefix}
}

// Put implements PayloadStore. An object already present under the key is kept.
func (s *ObjectPayloadStore) Put(ctx context.Context, ref string, itemID int64, body []byte) error {
	key := s.Key(ref)
	exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.objects.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), payloadContentType); err != nil {
		return fmt.Errorf("failed to store payload %s for item %d: %w", ref, itemID, err)
	}
	return nil
}

// Get implements PayloadStore.
func (s *ObjectPayloadStore) Get(ctx context.Context, ref string) ([]byte, error) {
	rc, err := s.objects.Download(ctx, s.Key(ref))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPayloadNotFound, ref)
		}
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload %s: %w", ref, err)
	}
	return body, nil
}

// Key returns the object key of a payload ref.
func (s *ObjectPayloadStore) Key(ref string) string {
	shard := ref
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(s.prefix, shard, ref+".xml")
}
