// Package indexer batches embedding records into idempotent vector store
// upserts with bounded retry.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsindex/logger"
	"newsindex/metrics"
	"newsindex/types"
	"newsindex/vectorstore"

	"github.com/cenkalti/backoff/v5"
)

var ErrStopped = errors.New("index writer stopped")

type Config struct {
	// BatchSize is the number of records a flush aims for. Submissions are
	// coalesced until it is reached or Linger expires.
	BatchSize      int
	Linger         time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type request struct {
	records []types.EmbeddingRecord
	done    chan error
}

// Writer is the single sink every partition's pipeline feeds.
type Writer struct {
	store    vectorstore.Store
	cfg      Config
	log      *slog.Logger
	requests chan *request
	stopped  chan struct{}
}

func NewWriter(store vectorstore.Store, cfg Config, log *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 50 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Writer{
		store:    store,
		cfg:      cfg,
		log:      logger.OrDefault(log),
		requests: make(chan *request),
		stopped:  make(chan struct{}),
	}
}

// Submit hands records to the flush loop and blocks until they are durably
// upserted or the upsert has failed for good. Run must be running.
func (w *Writer) Submit(ctx context.Context, records []types.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	req := &request{records: records, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		// The flush may still land; upserts are idempotent and the caller
		// will not commit, so the records are simply re-sent later.
		return ctx.Err()
	}
}

// Run coalesces submissions into batches until ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	defer close(w.stopped)
	for {
		var first *request
		select {
		case <-ctx.Done():
			return nil
		case first = <-w.requests:
		}

		pending := []*request{first}
		size := len(first.records)
		timer := time.NewTimer(w.cfg.Linger)
	collect:
		for size < w.cfg.BatchSize {
			select {
			case req := <-w.requests:
				pending = append(pending, req)
				size += len(req.records)
			case <-timer.C:
				break collect
			case <-ctx.Done():
				break collect
			}
		}
		timer.Stop()

		w.flush(ctx, pending, size)
	}
}

func (w *Writer) flush(ctx context.Context, pending []*request, size int) {
	records := make([]types.EmbeddingRecord, 0, size)
	for _, req := range pending {
		records = append(records, req.records...)
	}

	err := w.Upsert(ctx, records)
	if err == nil || len(pending) == 1 || types.IsIndexUnavailable(err) {
		for _, req := range pending {
			req.done <- err
		}
		return
	}

	// A rejected merged batch says nothing about which submitter's records
	// caused it; upsert each request alone so one bad batch fails only
	// its own partition.
	w.log.Warn("merged upsert rejected, retrying per request", "requests", len(pending), "error", err)
	for _, req := range pending {
		req.done <- w.Upsert(ctx, req.records)
	}
}

// Upsert writes records in chunks of BatchSize, retrying IndexUnavailable
// failures with exponential backoff. Any other error is returned at once.
func (w *Writer) Upsert(ctx context.Context, records []types.EmbeddingRecord) error {
	start := time.Now()
	for lo := 0; lo < len(records); lo += w.cfg.BatchSize {
		hi := min(lo+w.cfg.BatchSize, len(records))
		if err := w.upsertChunk(ctx, records[lo:hi]); err != nil {
			return err
		}
	}
	metrics.RecordUpsert(len(records), time.Since(start).Seconds())
	w.log.Debug("upserted records", "count", len(records))
	return nil
}

func (w *Writer) upsertChunk(ctx context.Context, chunk []types.EmbeddingRecord) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.InitialBackoff
	bo.MaxInterval = w.cfg.MaxBackoff
	bo.Multiplier = 2

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := w.store.Upsert(ctx, chunk)
		if err == nil {
			return struct{}{}, nil
		}
		if !types.IsIndexUnavailable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		w.log.Warn("vector store unavailable", "attempt", attempt, "count", len(chunk), "error", err)
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)),
	)
	if err != nil {
		return fmt.Errorf("upsert %d records after %d attempts: %w", len(chunk), attempt, err)
	}
	return nil
}
