package deduplication

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsindex/logger"
	"newsindex/types"

	"github.com/google/uuid"
)

// Filter admits each article at most once across all partitions. Admission
// claims the fingerprint; the caller then commits it once the article is
// indexed, or releases it so a later re-fetch can try again.
type Filter struct {
	store Store
	owner string
	now   func() time.Time
	log   *slog.Logger
}

// FilterConfig holds configuration for the filter
type FilterConfig struct {
	// Owner identifies this process run. Default: a random UUID.
	Owner string
	Now   func() time.Time
}

func NewFilter(store Store, cfg FilterConfig, log *slog.Logger) *Filter {
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Filter{store: store, owner: cfg.Owner, now: cfg.Now, log: logger.OrDefault(log)}
}

// Owner returns the claim owner id of this run.
func (f *Filter) Owner() string { return f.owner }

// Admit returns true the first time an article's fingerprint is seen and
// false for every later call, until the claim is released.
func (f *Filter) Admit(ctx context.Context, a *types.Article) (bool, error) {
	fp := Fingerprint(a)
	ok, err := f.store.Claim(ctx, fp, f.owner, f.now())
	if err != nil {
		return false, fmt.Errorf("admit %s: %w", a.ID, err)
	}
	if !ok {
		f.log.Debug("duplicate dropped", "article_id", a.ID, "fingerprint", fp)
	}
	return ok, nil
}

// Commit marks articles as durably indexed; later re-fetches drop them.
func (f *Filter) Commit(ctx context.Context, articles []*types.Article) error {
	return f.store.Commit(ctx, fingerprints(articles))
}

// Release gives up claims on articles that were not indexed.
func (f *Filter) Release(ctx context.Context, articles []*types.Article) error {
	return f.store.Release(ctx, fingerprints(articles), f.owner)
}

// Prune forgets fingerprints first seen more than retention ago.
func (f *Filter) Prune(ctx context.Context, retention time.Duration) (int, error) {
	n, err := f.store.Prune(ctx, f.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		f.log.Info("pruned fingerprints", "count", n, "retention", retention.String())
	}
	return n, nil
}

// Count returns the number of remembered fingerprints.
func (f *Filter) Count(ctx context.Context) (int, error) {
	return f.store.Count(ctx)
}

func fingerprints(articles []*types.Article) []string {
	out := make([]string, 0, len(articles))
	for _, a := range articles {
		out = append(out, Fingerprint(a))
	}
	return out
}
