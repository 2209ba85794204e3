package orchestrator

import (
	"context"
	"log/slog"

	"newsindex/logger"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived component with a blocking Run.
type Runner interface {
	Run(ctx context.Context) error
}

// Janitor is started alongside ingestion and stopped on shutdown.
type Janitor interface {
	Start()
	Stop()
}

// Orchestrator runs the partition manager against the index writer. The
// writer outlives the partitions so an in-flight batch can still flush.
type Orchestrator struct {
	partitions Runner
	writer     Runner
	janitor    Janitor
	extra      []Runner
	log        *slog.Logger
}

func New(partitions, writer Runner, janitor Janitor, log *slog.Logger, extra ...Runner) *Orchestrator {
	return &Orchestrator{
		partitions: partitions,
		writer:     writer,
		janitor:    janitor,
		extra:      extra,
		log:        logger.OrDefault(log),
	}
}

// Run blocks until ctx is done or a partition-wide error stops ingestion.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.janitor != nil {
		o.janitor.Start()
		defer o.janitor.Stop()
	}

	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	writerDone := make(chan error, 1)
	go func() { writerDone <- o.writer.Run(writerCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.partitions.Run(gctx) })
	for _, r := range o.extra {
		g.Go(func() error { return r.Run(gctx) })
	}

	o.log.Info("ingestion started")
	err := g.Wait()
	stopWriter()
	if werr := <-writerDone; werr != nil && err == nil {
		err = werr
	}
	o.log.Info("ingestion stopped")
	return err
}
