// Package checkpoint persists per-partition resume cursors.
package checkpoint

import (
	"context"
	"sync"

	"newsindex/types"
)

// Store keeps one checkpoint per partition. Implementations must be safe for
// concurrent use; partitions never write each other's keys.
type Store interface {
	Load(ctx context.Context, partitionID string) (types.Checkpoint, bool, error)
	LoadAll(ctx context.Context) (map[string]types.Checkpoint, error)
	Save(ctx context.Context, cp types.Checkpoint) error
	// Delete forgets a checkpoint so the partition starts from its
	// provider's initial cursor.
	Delete(ctx context.Context, partitionID string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu  sync.RWMutex
	cps map[string]types.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[string]types.Checkpoint)}
}

func (m *MemoryStore) Load(_ context.Context, partitionID string) (types.Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.cps[partitionID]
	return cp, ok, nil
}

func (m *MemoryStore) LoadAll(_ context.Context) (map[string]types.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Checkpoint, len(m.cps))
	for k, v := range m.cps {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, cp types.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.PartitionID] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, partitionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, partitionID)
	return nil
}
