package backend

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// FakeStore is an in-memory ObjectStore used by tests across packages.
// UploadErr and DeleteErr inject failures.
type FakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	UploadErr error
	DeleteErr error
	Deleted   []string
}

// NewFakeStore returns an empty fake object store.
func NewFakeStore() *FakeStore {
	return &FakeStore{objects: make(map[string][]byte)}
}

// FakeFactory returns a ClientFactory handing out the same fake for every
// backend configuration.
func FakeFactory(f *FakeStore) ClientFactory {
	return func(RemoteStorageConfig) (ObjectStore, error) {
		return f, nil
	}
}

func (f *FakeStore) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.UploadErr != nil {
		return f.UploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

// Delete mirrors the MinIO client: deleting a missing key is success.
func (f *FakeStore) Delete(_ context.Context, key string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.Deleted = append(f.Deleted, key)
	return nil
}

func (f *FakeStore) PresignedGetURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.example/%s?ttl=%d", key, int(expiry.Seconds())), nil
}

// Has reports whether bytes are stored under key.
func (f *FakeStore) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// Object returns the stored bytes for key.
func (f *FakeStore) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}
