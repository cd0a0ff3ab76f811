package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/HongGunKR/CoE-Backend/errors"
	"github.com/HongGunKR/CoE-Backend/natsclient"
)

// Store persists flow definitions in a NATS JetStream KV bucket, keyed
// by endpoint name.
type Store struct {
	kvStore *natsclient.KVStore
}

// NewStore creates a flow store backed by the given bucket name
func NewStore(ctx context.Context, client *natsclient.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(nil, "flowstore", "NewStore", "nats client cannot be nil")
	}
	if bucket == "" {
		bucket = "coe_flows"
	}

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Flow definitions served as dynamic endpoints",
		History:     10,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "NewStore", "create KV bucket")
	}

	return &Store{kvStore: client.NewKVStore(kv)}, nil
}

// Create stores a new flow definition; fails if the endpoint name is taken
func (s *Store) Create(ctx context.Context, flow *FlowDefinition) error {
	if flow == nil {
		return errors.WrapInvalid(nil, "flowstore", "Create", "flow cannot be nil")
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	flow.Version = 1
	now := time.Now()
	flow.CreatedAt = now
	flow.UpdatedAt = now

	data, err := json.Marshal(flow)
	if err != nil {
		return errors.WrapFatal(err, "flowstore", "Create", "marshal flow")
	}

	if _, err := s.kvStore.Create(ctx, flow.EndpointName, data); err != nil {
		if errors.IsInvalid(err) {
			return errors.WrapInvalid(errors.ErrFlowExists, "flowstore", "Create",
				"flow "+flow.EndpointName+" already exists")
		}
		return errors.WrapTransient(err, "flowstore", "Create", "create in KV")
	}

	return nil
}

// Get retrieves a flow definition by endpoint name
func (s *Store) Get(ctx context.Context, endpointName string) (*FlowDefinition, error) {
	if endpointName == "" {
		return nil, errors.WrapInvalid(nil, "flowstore", "Get", "endpoint name cannot be empty")
	}

	entry, err := s.kvStore.Get(ctx, endpointName)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(errors.ErrFlowNotFound, "flowstore", "Get",
				"flow "+endpointName+" not found")
		}
		return nil, errors.WrapTransient(err, "flowstore", "Get", "get from KV")
	}

	var flow FlowDefinition
	if err := json.Unmarshal(entry.Value, &flow); err != nil {
		return nil, errors.WrapFatal(err, "flowstore", "Get", "unmarshal flow")
	}
	return &flow, nil
}

// List returns all stored flow definitions, fetched concurrently
func (s *Store) List(ctx context.Context) ([]*FlowDefinition, error) {
	keys, err := s.kvStore.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "List", "list keys")
	}

	results := make([]*FlowDefinition, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, key := range keys {
		g.Go(func() error {
			flow, err := s.Get(gctx, key)
			if err != nil {
				// A key deleted between Keys and Get is not an error
				if errors.Is(err, errors.ErrFlowNotFound) {
					return nil
				}
				return err
			}
			results[i] = flow
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	flows := make([]*FlowDefinition, 0, len(results))
	for _, flow := range results {
		if flow != nil {
			flows = append(flows, flow)
		}
	}
	return flows, nil
}

// Update replaces an existing flow definition with optimistic version check
func (s *Store) Update(ctx context.Context, flow *FlowDefinition) error {
	if flow == nil {
		return errors.WrapInvalid(nil, "flowstore", "Update", "flow cannot be nil")
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	current, err := s.Get(ctx, flow.EndpointName)
	if err != nil {
		return err
	}
	if current.Version != flow.Version {
		return errors.WrapInvalid(
			fmt.Errorf("version mismatch: expected %d, got %d", current.Version, flow.Version),
			"flowstore", "Update", "flow was modified concurrently")
	}

	flow.Version++
	flow.CreatedAt = current.CreatedAt
	flow.UpdatedAt = time.Now()

	data, err := json.Marshal(flow)
	if err != nil {
		return errors.WrapFatal(err, "flowstore", "Update", "marshal flow")
	}
	if _, err := s.kvStore.Put(ctx, flow.EndpointName, data); err != nil {
		return errors.WrapTransient(err, "flowstore", "Update", "put to KV")
	}
	return nil
}

// Delete removes a flow definition by endpoint name
func (s *Store) Delete(ctx context.Context, endpointName string) error {
	if endpointName == "" {
		return errors.WrapInvalid(nil, "flowstore", "Delete", "endpoint name cannot be empty")
	}
	if err := s.kvStore.Delete(ctx, endpointName); err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return errors.WrapInvalid(errors.ErrFlowNotFound, "flowstore", "Delete",
				"flow "+endpointName+" not found")
		}
		return errors.WrapTransient(err, "flowstore", "Delete", "delete from KV")
	}
	return nil
}
