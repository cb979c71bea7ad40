package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/timmy/catalogsync/internal/domain"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: make(map[string][]byte)}
}

func (m *memoryObjects) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.uploads++
	return nil
}

func (m *memoryObjects) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func TestObjectPayloadStore(t *testing.T) {
	objects := newMemoryObjects()
	store := NewObjectPayloadStore(objects, "payloads")
	ctx := context.Background()

	if got := store.Key("ab12-cd"); got != "payloads/ab/ab12-cd.xml" {
		t.Errorf("Key: got %q", got)
	}

	if err := store.Put(ctx, "ab12-cd", 1, []byte("<item/>")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "ab12-cd", 1, []byte("<other/>")); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if objects.uploads != 1 {
		t.Errorf("uploads: got %d, want 1", objects.uploads)
	}

	body, err := store.Get(ctx, "ab12-cd")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "<item/>" {
		t.Errorf("Get: got %q, want first body", body)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrPayloadNotFound) {
		t.Errorf("Get(missing): got %v, want ErrPayloadNotFound", err)
	}
}

func TestNewPayloadStoreSelectsDatabase(t *testing.T) {
	db := NewObjectPayloadStore(newMemoryObjects(), "")
	got, err := NewPayloadStore(context.Background(), "database", "", nil, db)
	if err != nil {
		t.Fatalf("NewPayloadStore: %v", err)
	}
	if got != PayloadStore(db) {
		t.Error("database backend should return the given store")
	}
	if _, err := NewPayloadStore(context.Background(), "ftp", "", nil, db); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestDetectStorageType(t *testing.T) {
	testCases := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-east-1.amazonaws.com", StorageTypeS3},
		{"localhost:9000", StorageTypeS3Compatible},
	}
	for _, tc := range testCases {
		if got := detectStorageType(tc.endpoint); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.endpoint, got, tc.want)
		}
	}
}
