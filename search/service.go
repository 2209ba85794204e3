// Package search answers free-text queries against the vector index.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"newsindex/cleaner"
	"newsindex/embedding"
	"newsindex/logger"
	"newsindex/metrics"
	"newsindex/types"
	"newsindex/vectorstore"
)

var ErrInvalidK = errors.New("k must be a positive integer")

type Config struct {
	DefaultK int
	MaxK     int
	Timeout  time.Duration
}

// Service embeds queries with the same embedder and cleaning as ingestion.
// It never retries; errors go back to the caller as they are.
type Service struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	cfg      Config
	log      *slog.Logger
}

func NewService(embedder embedding.Embedder, store vectorstore.Store, cfg Config, log *slog.Logger) *Service {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 10
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{embedder: embedder, store: store, cfg: cfg, log: logger.OrDefault(log)}
}

// Search returns at most k results by descending similarity. k == 0 means
// the default; k above the maximum is capped. A query that is empty after
// cleaning returns no results without touching the embedder.
func (s *Service) Search(ctx context.Context, query string, k int) (results []types.SearchResult, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = errorStatus(err)
		}
		metrics.RecordSearch(status, time.Since(start).Seconds())
	}()

	switch {
	case k < 0:
		return nil, ErrInvalidK
	case k == 0:
		k = s.cfg.DefaultK
	case k > s.cfg.MaxK:
		k = s.cfg.MaxK
	}

	text := cleaner.Clean(query)
	if text == "" {
		return []types.SearchResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}

	results = make([]types.SearchResult, len(matches))
	for i, m := range matches {
		results[i] = types.SearchResult{
			Title:       m.Metadata.Title,
			URL:         m.Metadata.URL,
			ImageURL:    m.Metadata.ImageURL,
			PublishedAt: m.Metadata.PublishedAt,
			SourceName:  m.Metadata.SourceName,
			Score:       m.Score,
		}
	}
	s.log.Debug("search served", "query", text, "k", k, "count", len(results))
	return results, nil
}

func errorStatus(err error) string {
	switch {
	case types.IsIndexUnavailable(err):
		return "unavailable"
	case types.IsEmbedding(err):
		return "embedding_error"
	case errors.Is(err, ErrInvalidK):
		return "bad_request"
	default:
		return "error"
	}
}
