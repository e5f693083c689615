package gateway

import (
	"context"
	stderrors "errors"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/natsclient"
)

// ErrDescriptorNotFound reports that no endpoint is registered under a key.
var ErrDescriptorNotFound = stderrors.New("endpoint descriptor not found")

// DescriptorStore looks up endpoint descriptors by normalized key.
type DescriptorStore interface {
	Get(ctx context.Context, key string) (*EndpointDescriptor, error)
}

// KVReader is the read side of a KV bucket. *natsclient.KVStore implements it.
type KVReader interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
}

// KVDescriptorStore reads descriptors from a KV bucket on every lookup, so
// edits to the bucket apply to the next request.
type KVDescriptorStore struct {
	kv KVReader
}

// NewKVDescriptorStore creates a store backed by kv.
func NewKVDescriptorStore(kv KVReader) *KVDescriptorStore {
	return &KVDescriptorStore{kv: kv}
}

// Get returns the descriptor stored under key. A missing key yields
// ErrDescriptorNotFound. A stored record failing validation is invalid, any
// other failure is transient.
func (s *KVDescriptorStore) Get(ctx context.Context, key string) (*EndpointDescriptor, error) {
	if key == "" {
		return nil, ErrDescriptorNotFound
	}

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, ErrDescriptorNotFound
		}
		return nil, errors.WrapTransient(err, "KVDescriptorStore", "Get", "read descriptor "+key)
	}

	d, err := ParseDescriptor(entry.Value)
	if err != nil {
		return nil, errors.Wrap(err, "KVDescriptorStore", "Get", "parse descriptor "+key)
	}
	return d, nil
}
