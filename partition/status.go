package partition

import (
	"sort"
	"sync"
	"time"

	"newsindex/metrics"
)

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateHalted   State = "halted"
	StateStopped  State = "stopped"
)

// Status is a point-in-time view of one partition.
type Status struct {
	ID                  string     `json:"id"`
	Provider            string     `json:"provider"`
	Mode                Mode       `json:"mode"`
	State               State      `json:"state"`
	Cursor              string     `json:"cursor"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Batches             int        `json:"batches"`
	Items               int        `json:"items"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// board holds every partition's status with thread-safe access.
type board struct {
	mu     sync.RWMutex
	status map[string]*Status
	now    func() time.Time
}

func newBoard(now func() time.Time) *board {
	return &board{status: make(map[string]*Status), now: now}
}

func (b *board) add(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.UpdatedAt = b.now()
	b.status[s.ID] = &s
	metrics.SetPartitionState(s.ID, string(s.State))
}

// update applies fn to the partition's status under the write lock.
func (b *board) update(id string, fn func(s *Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.status[id]
	if !ok {
		return
	}
	prev := s.State
	fn(s)
	s.UpdatedAt = b.now()
	if s.State != prev {
		metrics.SetPartitionState(id, string(s.State))
	}
}

func (b *board) get(id string) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.status[id]
	if !ok {
		return Status{}, false
	}
	return copyStatus(s), true
}

func (b *board) all() []Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Status, 0, len(b.status))
	for _, s := range b.status {
		out = append(out, copyStatus(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyStatus(s *Status) Status {
	c := *s
	if s.LastSuccessAt != nil {
		t := *s.LastSuccessAt
		c.LastSuccessAt = &t
	}
	return c
}
