package storage

import (
	"context"
	"maps"
	"sync"
)

// KV is the pluggable durable key-value store the SDK persists its cache,
// overrides and undelivered event batches into. Implementations may be
// backed by anything with get/set/remove semantics; all values are opaque
// JSON blobs.
//
// Every call site in the SDK treats KV errors as transient: they are logged
// and swallowed, and evaluation continues on in-memory state. Implementations
// should therefore return errors rather than panic.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// UserPersistentStorage is the optional adapter for sticky experiment
// assignments. Keys are "unitID:idType" pairs; values are the serialized
// sticky record map for that unit. Unlike KV, it is consulted only by sticky
// bucketing and only for user-scoped (non-device) experiments.
type UserPersistentStorage interface {
	Load(key string) ([]byte, error)
	Save(key string, value []byte) error
	Delete(key string) error
}

// Memory is an in-memory KV used when no durable adapter is configured, and
// by tests. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Snapshot returns a copy of the current contents, for tests that assert on
// persisted state.
func (m *Memory) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data)
}
