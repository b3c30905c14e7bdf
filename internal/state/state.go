package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when no record exists for an instance name.
var ErrNotFound = errors.New("instance state not found")

// Instance is the mutable record the driver keeps for one provisioned
// server. Both fields are empty until create succeeds and are cleared
// again by destroy.
type Instance struct {
	ServerID string `json:"server_id,omitempty"`
	Hostname string `json:"hostname,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Provisioned reports whether the record points at a live server.
func (i *Instance) Provisioned() bool {
	return i.ServerID != ""
}

// Store persists instance records between driver invocations.
type Store interface {
	Save(ctx context.Context, name string, inst *Instance) error
	Get(ctx context.Context, name string) (*Instance, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) (map[string]*Instance, error)
	Close() error
}

// FileStore keeps one JSON file per instance under a directory.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save writes the instance record
func (s *FileStore) Save(_ context.Context, name string, inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return os.WriteFile(s.path(name), data, 0644)
}

// Get reads the instance record, ErrNotFound when absent
func (s *FileStore) Get(_ context.Context, name string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &inst, nil
}

// Delete removes the instance record. Deleting a missing record is
// not an error so destroy stays idempotent.
func (s *FileStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List returns every stored record keyed by instance name.
func (s *FileStore) List(_ context.Context) (map[string]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state dir: %w", err)
	}

	instances := make(map[string]*Instance)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		var inst Instance
		if err := json.Unmarshal(data, &inst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state for %v: %w", name, err)
		}
		instances[name] = &inst
	}

	return instances, nil
}

// Close is a no-op for file-backed state.
func (s *FileStore) Close() error {
	return nil
}
