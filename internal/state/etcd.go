package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdPrefix = "/instances/"

// EtcdStore persists instance records in etcd so several hosts can
// share one view of what is provisioned.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to the given etcd endpoints.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

// Close closes the etcd client connection
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

// Save writes the instance record
func (s *EtcdStore) Save(ctx context.Context, name string, inst *Instance) error {
	inst.UpdatedAt = time.Now()

	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.client.Put(ctx, etcdPrefix+name, string(data))
	if err != nil {
		return fmt.Errorf("failed to save state to etcd: %w", err)
	}
	return nil
}

// Get reads the instance record, ErrNotFound when absent
func (s *EtcdStore) Get(ctx context.Context, name string) (*Instance, error) {
	resp, err := s.client.Get(ctx, etcdPrefix+name)
	if err != nil {
		return nil, fmt.Errorf("failed to get state from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, name)
	}

	var inst Instance
	if err := json.Unmarshal(resp.Kvs[0].Value, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &inst, nil
}

// Delete removes the instance record.
func (s *EtcdStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.Delete(ctx, etcdPrefix+name)
	if err != nil {
		return fmt.Errorf("failed to delete state from etcd: %w", err)
	}
	return nil
}

// List returns every stored record keyed by instance name.
func (s *EtcdStore) List(ctx context.Context) (map[string]*Instance, error) {
	resp, err := s.client.Get(ctx, etcdPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list state from etcd: %w", err)
	}

	instances := make(map[string]*Instance)
	for _, kv := range resp.Kvs {
		name := strings.TrimPrefix(string(kv.Key), etcdPrefix)

		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state for %v: %w", name, err)
		}
		instances[name] = &inst
	}
	return instances, nil
}
