// Package objectstore provides the blob storage backends audio artifacts are
// written to: a NATS JetStream object store when a broker is configured, and
// a local directory store otherwise.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsStore implements core.ObjectStore using a NATS JetStream object store
// bucket. Uploads stream straight from the reader into the bucket.
type NatsStore struct {
	bucket  string
	baseURL string
	store   nats.ObjectStore
}

// NewNatsStore creates or binds to the named object store bucket. A
// create-first approach keeps bootstrap idempotent across restarts.
func NewNatsStore(jetstreamContext nats.JetStreamContext, bucketName, baseURL string) (*NatsStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Narration audio artifacts (%s).", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("bind to object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsStore{
		bucket:  bucketName,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		store:   store,
	}, nil
}

// Upload streams the reader into the bucket under key and reports the number
// of bytes stored.
func (s *NatsStore) Upload(_ context.Context, key string, data io.Reader) (int64, error) {
	info, err := s.store.Put(&nats.ObjectMeta{Name: key}, data)
	if err != nil {
		return 0, fmt.Errorf("put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return int64(info.Size), nil
}

// Download retrieves a stored artifact. Used by the route layer when serving
// audio directly from the bucket.
func (s *NatsStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// URL maps a storage key to the address served to clients.
func (s *NatsStore) URL(key string) string {
	return s.baseURL + "/" + key
}
