package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrKVKeyNotFound reports a missing or deleted key.
var ErrKVKeyNotFound = stderrors.New("kv: key not found")

// defaultKVTimeout bounds a single bucket operation when the caller's
// context has no earlier deadline.
const defaultKVTimeout = 5 * time.Second

// KVEntry is one key with the revision it was read at.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore is a read-only view over one existing bucket. The gateway reads
// endpoint descriptors through it; operators write them with their own tools.
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
}

// OpenKVStore binds an existing bucket. The bucket is never created here: a
// missing one is fatal for the caller.
func (c *Client) OpenKVStore(ctx context.Context, bucket string) (*KVStore, error) {
	kv, err := c.GetKeyValueBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return &KVStore{bucket: kv, timeout: defaultKVTimeout}, nil
}

// Bucket returns the bucket name.
func (kv *KVStore) Bucket() string {
	return kv.bucket.Bucket()
}

// Get reads the latest revision of key.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, kv.timeout)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// IsKVNotFoundError matches the not-found and deleted-key errors of the
// jetstream KV API, including the server's 10037 error code.
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}
