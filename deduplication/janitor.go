package deduplication

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newsindex/logger"

	"github.com/robfig/cron/v3"
)

// Janitor prunes old fingerprints on a cron schedule.
type Janitor struct {
	cron      *cron.Cron
	filter    *Filter
	retention time.Duration
	log       *slog.Logger
}

// NewJanitor schedules pruning, e.g. schedule "@every 1h".
func NewJanitor(filter *Filter, schedule string, retention time.Duration, log *slog.Logger) (*Janitor, error) {
	j := &Janitor{
		cron:      cron.New(),
		filter:    filter,
		retention: retention,
		log:       logger.OrDefault(log),
	}
	if _, err := j.cron.AddFunc(schedule, j.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop waits for a running prune to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := j.filter.Prune(ctx, j.retention); err != nil {
		j.log.Error("fingerprint prune failed", "error", err)
	}
}
