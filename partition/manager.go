// Package partition drives provider adapters as independent partitions, each
// with its own checkpoint, in polling or recovery mode.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsindex/checkpoint"
	"newsindex/logger"
	"newsindex/metrics"
	"newsindex/providers"
	"newsindex/types"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	// ModePolling re-fetches on a fixed interval forever.
	ModePolling Mode = "polling"
	// ModeRecovery fetches to exhaustion once, checkpointing every batch.
	ModeRecovery Mode = "recovery"
)

var (
	ErrUnknownPartition = errors.New("unknown partition")
	ErrNotPolling       = errors.New("partition is not an active polling partition")
)

// Handler takes one fetched batch downstream. A nil return means every item
// in it is durably committed (or deliberately dropped), which is the only
// condition under which the partition's checkpoint advances.
type Handler interface {
	HandleBatch(ctx context.Context, partitionID string, items []types.RawItem) error
}

type HandlerFunc func(ctx context.Context, partitionID string, items []types.RawItem) error

func (f HandlerFunc) HandleBatch(ctx context.Context, partitionID string, items []types.RawItem) error {
	return f(ctx, partitionID, items)
}

// Spec describes one partition.
type Spec struct {
	ID       string
	Provider providers.Provider
	Mode     Mode
	// Interval between polls. Ignored in recovery mode.
	Interval time.Duration
}

type Config struct {
	// MaxAttempts bounds fetch retries on transient errors before the
	// partition is marked degraded.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// FetchTimeout is the deadline of a single fetch call.
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Manager runs one goroutine per partition. There is never more than one
// fetch in flight per partition.
type Manager struct {
	specs   []Spec
	store   checkpoint.Store
	handler Handler
	cfg     Config
	log     *slog.Logger
	board   *board

	mu      sync.Mutex
	wake    map[string]chan struct{}
	replays map[string]*string
	active  map[string]bool
}

func NewManager(specs []Spec, store checkpoint.Store, handler Handler, cfg Config, log *slog.Logger) (*Manager, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{
		specs:   specs,
		store:   store,
		handler: handler,
		cfg:     cfg,
		log:     logger.OrDefault(log),
		board:   newBoard(cfg.Now),
		wake:    make(map[string]chan struct{}),
		replays: make(map[string]*string),
		active:  make(map[string]bool),
	}
	for _, s := range specs {
		if s.ID == "" {
			return nil, types.NewConfiguration("partitions.id", "partition without id")
		}
		if _, dup := m.wake[s.ID]; dup {
			return nil, types.NewConfiguration("partitions.id", "duplicate partition %q", s.ID)
		}
		if s.Mode != ModePolling && s.Mode != ModeRecovery {
			return nil, types.NewConfiguration("partitions.mode", "partition %q has unknown mode %q", s.ID, s.Mode)
		}
		if s.Mode == ModePolling && s.Interval <= 0 {
			return nil, types.NewConfiguration("partitions.interval", "polling partition %q needs a positive interval", s.ID)
		}
		m.wake[s.ID] = make(chan struct{}, 1)
		m.board.add(Status{ID: s.ID, Provider: s.Provider.Name(), Mode: s.Mode, State: StateIdle})
	}
	return m, nil
}

// Run resumes every partition from its stored checkpoint and blocks until
// ctx is done and all partitions have stopped. A ConfigurationError from
// downstream stops every partition and is returned.
func (m *Manager) Run(ctx context.Context) error {
	cps, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range m.specs {
		cursor := spec.Provider.InitialCursor(m.cfg.Now())
		if cp, ok := cps[spec.ID]; ok {
			cursor = cp.Cursor
			at := cp.LastSuccessAt
			m.board.update(spec.ID, func(s *Status) { s.LastSuccessAt = &at })
			m.log.Info("resuming partition", "partition", spec.ID, "cursor", cursor)
		} else {
			m.log.Info("starting partition from initial cursor", "partition", spec.ID, "cursor", cursor)
		}
		m.board.update(spec.ID, func(s *Status) { s.Cursor = cursor })

		g.Go(func() error {
			m.setActive(spec.ID, true)
			defer m.deactivate(gctx, spec)
			return m.runPartition(gctx, spec, cursor)
		})
	}
	return g.Wait()
}

func (m *Manager) runPartition(ctx context.Context, spec Spec, cursor string) error {
	log := m.log.With("partition", spec.ID)
	for {
		if ctx.Err() != nil {
			m.setState(spec.ID, StateStopped)
			return nil
		}
		if next, ok := m.takeReplay(spec.ID); ok {
			var err error
			if cursor, err = m.applyReplay(ctx, spec, next); err != nil {
				log.Error("replay failed", "error", err)
			}
		}

		m.setState(spec.ID, StateRunning)
		var err error
		cursor, err = m.drain(ctx, spec, cursor, log)

		switch {
		case err == nil:
			if m.replayPending(spec.ID) {
				continue
			}
			if spec.Mode == ModeRecovery {
				log.Info("recovery partition exhausted", "cursor", cursor)
				m.setState(spec.ID, StateStopped)
				return nil
			}
			m.setState(spec.ID, StateIdle)
		case ctx.Err() != nil:
			m.setState(spec.ID, StateStopped)
			return nil
		case types.IsConfiguration(err):
			m.fail(spec.ID, StateHalted, err)
			log.Error("configuration error, stopping all partitions", "error", err)
			return err
		case types.IsFatal(err):
			m.fail(spec.ID, StateHalted, err)
			log.Error("partition halted", "error", err)
			return nil
		default:
			m.fail(spec.ID, StateDegraded, err)
			if spec.Mode == ModeRecovery {
				log.Error("recovery partition degraded, stopping", "error", err)
				return nil
			}
			log.Warn("partition degraded, will retry next interval", "error", err)
		}

		if !m.wait(ctx, spec) {
			m.setState(spec.ID, StateStopped)
			return nil
		}
	}
}

// drain fetches and hands off batches until the provider reports no more
// data, returning the last committed cursor. A replay request ends the drain
// early so it can be applied between batches.
func (m *Manager) drain(ctx context.Context, spec Spec, cursor string, log *slog.Logger) (string, error) {
	for {
		page, err := m.fetch(ctx, spec, cursor, log)
		if err != nil {
			return cursor, err
		}
		metrics.RecordItems(spec.ID, "fetched", len(page.Items))

		if err := m.handler.HandleBatch(ctx, spec.ID, page.Items); err != nil {
			return cursor, fmt.Errorf("handle batch: %w", err)
		}

		now := m.cfg.Now()
		cp := types.Checkpoint{PartitionID: spec.ID, Cursor: page.NextCursor, LastSuccessAt: now}
		if err := m.store.Save(ctx, cp); err != nil {
			return cursor, fmt.Errorf("save checkpoint: %w", err)
		}
		cursor = page.NextCursor
		m.board.update(spec.ID, func(s *Status) {
			s.Cursor = cursor
			s.LastSuccessAt = &now
			s.LastError = ""
			s.ConsecutiveFailures = 0
			s.Batches++
			s.Items += len(page.Items)
		})
		log.Debug("batch committed", "count", len(page.Items), "cursor", cursor, "has_more", page.HasMore)

		if !page.HasMore || ctx.Err() != nil || m.replayPending(spec.ID) {
			return cursor, nil
		}
	}
}

// fetch calls the provider with a per-call deadline, retrying transient
// errors with exponential backoff and jitter.
func (m *Manager) fetch(ctx context.Context, spec Spec, cursor string, log *slog.Logger) (providers.Page, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.InitialBackoff
	bo.MaxInterval = m.cfg.MaxBackoff

	attempt := 0
	page, err := backoff.Retry(ctx, func() (providers.Page, error) {
		attempt++
		fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		defer cancel()

		page, err := spec.Provider.Fetch(fctx, cursor)
		switch {
		case err == nil:
			metrics.RecordFetch(spec.ID, "ok")
			return page, nil
		case ctx.Err() != nil:
			return page, backoff.Permanent(ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			err = types.NewTransient(spec.Provider.Name()+" fetch", err)
		}
		if types.IsTransient(err) {
			metrics.RecordFetch(spec.ID, "transient")
			log.Warn("transient fetch error", "attempt", attempt, "error", err)
			return page, err
		}
		metrics.RecordFetch(spec.ID, "fatal")
		return page, backoff.Permanent(err)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(m.cfg.MaxAttempts)),
	)
	if err != nil {
		return providers.Page{}, err
	}
	return page, nil
}

// wait blocks until the next poll is due, PollNow or Replay is called, or
// ctx is done. It reports false on ctx done.
func (m *Manager) wait(ctx context.Context, spec Spec) bool {
	timer := time.NewTimer(spec.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-m.wake[spec.ID]:
	}
	return true
}

// PollNow wakes a waiting polling partition. A partition that is mid-fetch
// picks the wake-up on its next wait, so fetches never overlap.
func (m *Manager) PollNow(id string) error {
	ch, ok := m.wake[id]
	if !ok {
		return ErrUnknownPartition
	}
	if !m.isActive(id) || m.specFor(id).Mode != ModePolling {
		return ErrNotPolling
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// Replay resets a partition's checkpoint to cursor, or to the provider's
// initial cursor when cursor is empty. On a running partition it is applied
// between batches; otherwise it is written to the store and takes effect on
// the next start.
func (m *Manager) Replay(ctx context.Context, id, cursor string) error {
	if _, ok := m.wake[id]; !ok {
		return ErrUnknownPartition
	}

	m.mu.Lock()
	if m.active[id] {
		m.replays[id] = &cursor
		m.mu.Unlock()
		select {
		case m.wake[id] <- struct{}{}:
		default:
		}
		m.log.Info("replay scheduled", "partition", id, "cursor", cursor)
		return nil
	}
	m.mu.Unlock()

	_, err := m.applyReplay(ctx, m.specFor(id), cursor)
	return err
}

func (m *Manager) applyReplay(ctx context.Context, spec Spec, cursor string) (string, error) {
	if cursor == "" {
		cursor = spec.Provider.InitialCursor(m.cfg.Now())
	}
	if err := ResetCheckpoint(ctx, m.store, spec.ID, cursor); err != nil {
		return cursor, err
	}
	m.board.update(spec.ID, func(s *Status) {
		s.Cursor = cursor
		s.ConsecutiveFailures = 0
		s.LastError = ""
	})
	m.log.Info("checkpoint replayed", "partition", spec.ID, "cursor", cursor)
	return cursor, nil
}

// ResetCheckpoint overwrites a partition's stored cursor. It is the only
// path by which a cursor moves backwards.
func ResetCheckpoint(ctx context.Context, store checkpoint.Store, partitionID, cursor string) error {
	cp, _, err := store.Load(ctx, partitionID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	cp.PartitionID = partitionID
	cp.Cursor = cursor
	if err := store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Statuses returns a snapshot of every partition, ordered by id.
func (m *Manager) Statuses() []Status { return m.board.all() }

func (m *Manager) Status(id string) (Status, bool) { return m.board.get(id) }

func (m *Manager) setState(id string, st State) {
	m.board.update(id, func(s *Status) { s.State = st })
}

func (m *Manager) fail(id string, st State, err error) {
	m.board.update(id, func(s *Status) {
		s.State = st
		s.LastError = err.Error()
		s.ConsecutiveFailures++
	})
}

func (m *Manager) setActive(id string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = v
}

// deactivate marks a partition as no longer running. A replay queued after
// the partition's last between-batch check is written to the store here, so
// an acknowledged replay is never lost.
func (m *Manager) deactivate(ctx context.Context, spec Spec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[spec.ID] = false
	c, ok := m.replays[spec.ID]
	if !ok {
		return
	}
	delete(m.replays, spec.ID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := m.applyReplay(ctx, spec, *c); err != nil {
		m.log.Error("replay failed", "partition", spec.ID, "error", err)
	}
}

func (m *Manager) isActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

func (m *Manager) takeReplay(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.replays[id]
	if !ok {
		return "", false
	}
	delete(m.replays, id)
	return *c, true
}

func (m *Manager) replayPending(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.replays[id]
	return ok
}

func (m *Manager) specFor(id string) Spec {
	for _, s := range m.specs {
		if s.ID == id {
			return s
		}
	}
	return Spec{}
}
