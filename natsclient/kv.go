package natsclient

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/HongGunKR/CoE-Backend/errors"
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore provides the KV operations the flow store needs, with a
// per-operation timeout applied when the caller's context has none.
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
}

// NewKVStore wraps a bucket with default operation timeouts
func (c *Client) NewKVStore(bucket jetstream.KeyValue) *KVStore {
	return &KVStore{
		bucket:  bucket,
		timeout: 5 * time.Second,
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, kv.timeout)
}

// Get retrieves an entry with its revision
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "KVStore", "Get", "key "+key)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "get "+key)
	}

	return &KVEntry{
		Key:      entry.Key(),
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}, nil
}

// Put stores a value unconditionally and returns the new revision
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", "put "+key)
	}
	return rev, nil
}

// Create stores a value only if the key does not already exist
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, errors.WrapInvalid(err, "KVStore", "Create", "key "+key+" already exists")
		}
		return 0, errors.WrapTransient(err, "KVStore", "Create", "create "+key)
	}
	return rev, nil
}

// Delete removes a key
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return errors.WrapInvalid(errors.ErrKeyNotFound, "KVStore", "Delete", "key "+key)
		}
		return errors.WrapTransient(err, "KVStore", "Delete", "delete "+key)
	}
	return nil
}

// Keys lists all keys in the bucket. An empty bucket yields an empty slice.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if IsKVNotFoundError(err) {
			return []string{}, nil
		}
		return nil, errors.WrapTransient(err, "KVStore", "Keys", "list keys")
	}
	return keys, nil
}

// IsKVNotFoundError reports whether err means the key or bucket is absent
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrNoKeysFound) ||
		errors.Is(err, jetstream.ErrBucketNotFound)
}

// IsKVConflictError reports whether err means a create/update collided
// with an existing revision
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}
