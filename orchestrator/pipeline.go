// Package orchestrator wires fetched batches through normalize, dedup, embed
// and upsert, and runs the long-lived ingestion process.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsindex/cleaner"
	"newsindex/deduplication"
	"newsindex/embedding"
	"newsindex/logger"
	"newsindex/metrics"
	"newsindex/types"
)

// Indexer durably upserts records; *indexer.Writer implements it.
type Indexer interface {
	Submit(ctx context.Context, records []types.EmbeddingRecord) error
}

// Sink receives articles after they are committed. Sink failures are logged
// and never undo a commit.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, articles []*types.Article) error
}

// Pipeline implements partition.Handler.
type Pipeline struct {
	filter   *deduplication.Filter
	embedder embedding.Embedder
	indexer  Indexer
	sinks    []Sink
	now      func() time.Time
	log      *slog.Logger
}

type PipelineOption func(*Pipeline)

func WithSinks(sinks ...Sink) PipelineOption {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(filter *deduplication.Filter, embedder embedding.Embedder, indexer Indexer, log *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		filter:   filter,
		embedder: embedder,
		indexer:  indexer,
		now:      time.Now,
		log:      logger.OrDefault(log),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Normalize maps a provider item into an Article. The display title keeps its
// case; the body is the cleaned text that gets embedded.
func Normalize(item types.RawItem, now time.Time) *types.Article {
	title := cleaner.Text(item.Title)
	if title == "" {
		title = types.DefaultTitle
	}
	source := strings.TrimSpace(item.SourceName)
	if source == "" {
		source = types.DefaultSource
	}
	published := now
	if item.PublishedAt != nil && !item.PublishedAt.IsZero() {
		published = item.PublishedAt.UTC()
	}

	key := deduplication.IdentityKey(item.NativeID, item.URL)
	return &types.Article{
		ID:          types.GenerateID(source, key),
		NativeID:    key,
		Title:       title,
		Body:        cleaner.Body(item.Title, item.Description, item.Content),
		SourceName:  source,
		PublishedAt: published,
		FetchedAt:   now,
		URL:         strings.TrimSpace(item.URL),
		ImageURL:    strings.TrimSpace(item.ImageURL),
		Author:      cleaner.Text(item.Author),
	}
}

// HandleBatch returns nil only when every admitted article of the batch is
// upserted and its fingerprint committed. On failure admitted claims are
// released so the re-fetched batch admits them again.
func (p *Pipeline) HandleBatch(ctx context.Context, partitionID string, items []types.RawItem) error {
	if len(items) == 0 {
		return nil
	}
	log := p.log.With("partition", partitionID)
	now := p.now().UTC()

	admitted := make([]*types.Article, 0, len(items))
	empty, dupes := 0, 0
	for _, item := range items {
		a := Normalize(item, now)
		if a.Body == "" {
			empty++
			continue
		}
		ok, err := p.filter.Admit(ctx, a)
		if err != nil {
			p.release(admitted, log)
			return err
		}
		if !ok {
			dupes++
			continue
		}
		admitted = append(admitted, a)
	}
	metrics.RecordItems(partitionID, "cleaned_empty", empty)
	metrics.RecordItems(partitionID, "duplicate", dupes)
	metrics.RecordItems(partitionID, "admitted", len(admitted))
	if len(admitted) == 0 {
		log.Debug("nothing new in batch", "count", len(items), "duplicates", dupes, "empty", empty)
		return nil
	}

	if err := p.index(ctx, admitted); err != nil {
		p.release(admitted, log)
		return err
	}
	if err := p.filter.Commit(ctx, admitted); err != nil {
		return fmt.Errorf("commit fingerprints: %w", err)
	}
	metrics.RecordItems(partitionID, "indexed", len(admitted))
	log.Info("batch indexed", "count", len(admitted), "duplicates", dupes, "empty", empty)

	p.deliver(ctx, admitted, log)
	return nil
}

func (p *Pipeline) index(ctx context.Context, articles []*types.Article) error {
	bodies := make([]string, len(articles))
	for i, a := range articles {
		bodies[i] = a.Body
	}
	vectors, err := p.embedder.EmbedBatch(ctx, bodies)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	records := make([]types.EmbeddingRecord, len(articles))
	for i, a := range articles {
		records[i] = types.EmbeddingRecord{
			ArticleID: a.ID,
			Vector:    vectors[i],
			Metadata:  types.MetadataOf(a),
		}
	}
	if err := p.indexer.Submit(ctx, records); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	return nil
}

// release runs on a fresh context: it must go through even when the failure
// was a cancelled batch context.
func (p *Pipeline) release(articles []*types.Article, log *slog.Logger) {
	if len(articles) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.filter.Release(ctx, articles); err != nil {
		log.Error("release fingerprints", "count", len(articles), "error", err)
	}
}

func (p *Pipeline) deliver(ctx context.Context, articles []*types.Article, log *slog.Logger) {
	for _, s := range p.sinks {
		if err := s.Deliver(ctx, articles); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			metrics.RecordSideOutputError(s.Name())
			log.Warn("side output failed", "output", s.Name(), "count", len(articles), "error", err)
		}
	}
}
