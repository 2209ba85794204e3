package vectorstore

import (
	"context"
	"errors"
	"sync"

	"newsindex/types"
)

// Memory is an in-process store using brute-force cosine similarity.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]types.EmbeddingRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]types.EmbeddingRecord)}
}

func (m *Memory) EnsureCollection(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension != 0 && m.dimension != dimension {
		return types.NewConfiguration("embedding.dimension", "collection has dimension %d, configured %d", m.dimension, dimension)
	}
	m.dimension = dimension
	return nil
}

func (m *Memory) Upsert(ctx context.Context, records []types.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRecords(records, m.dimension); err != nil {
		return err
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		m.records[r.ArticleID] = r
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, k int) ([]types.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dimension > 0 && len(vector) != m.dimension {
		return nil, types.NewConfiguration("embedding.dimension", "query has dimension %d, collection has %d", len(vector), m.dimension)
	}

	matches := make([]types.Match, 0, len(m.records))
	for id, r := range m.records {
		matches = append(matches, types.Match{
			ID:       id,
			Score:    cosine(vector, r.Vector),
			Vector:   r.Vector,
			Metadata: r.Metadata,
		})
	}
	return rank(matches, k), nil
}

func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Len reports how many records are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close() error { return nil }
