package deduplication

import (
	"context"
	"sync"
	"time"
)

// Store holds the fingerprint records. A fingerprint is absent, pending
// (claimed by one owner, not yet indexed) or committed.
type Store interface {
	// Claim atomically records fp as pending for owner. It returns true when
	// the caller now owns the fingerprint: it was absent, or pending under a
	// different owner (a previous run that never finished). Committed
	// fingerprints and the caller's own pending claims return false.
	Claim(ctx context.Context, fp, owner string, now time.Time) (bool, error)
	Commit(ctx context.Context, fps []string) error
	// Release forgets pending claims held by owner so a re-fetch admits them.
	Release(ctx context.Context, fps []string, owner string) error
	// Prune forgets committed records first seen before the cutoff. Pending
	// claims are kept.
	Prune(ctx context.Context, before time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

type record struct {
	committed bool
	owner     string
	firstSeen time.Time
}

// MemoryStore is a process-local Store guarded by a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]record)}
}

func (m *MemoryStore) Claim(_ context.Context, fp, owner string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[fp]
	switch {
	case !ok:
		m.records[fp] = record{owner: owner, firstSeen: now}
		return true, nil
	case r.committed, r.owner == owner:
		return false, nil
	default:
		r.owner = owner
		m.records[fp] = r
		return true, nil
	}
}

func (m *MemoryStore) Commit(_ context.Context, fps []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range fps {
		r := m.records[fp]
		if r.firstSeen.IsZero() {
			r.firstSeen = time.Now()
		}
		r.committed = true
		r.owner = ""
		m.records[fp] = r
	}
	return nil
}

func (m *MemoryStore) Release(_ context.Context, fps []string, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range fps {
		if r, ok := m.records[fp]; ok && !r.committed && r.owner == owner {
			delete(m.records, fp)
		}
	}
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for fp, r := range m.records {
		if r.committed && r.firstSeen.Before(before) {
			delete(m.records, fp)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}
