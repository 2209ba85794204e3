package rssfeeds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"newsindex/logger"
	"newsindex/types"

	readability "github.com/go-shiori/go-readability"
)

const (
	DefaultWorkerCount = 5
	defaultTimeout     = 30 * time.Second
)

// Extractor fills in body text for feed items that arrive with nothing but a
// title, using readability on the article page.
type Extractor struct {
	workers int
	timeout time.Duration
	fetch   func(url string, timeout time.Duration) (readability.Article, error)
	log     *slog.Logger
}

func NewExtractor(workers int, timeout time.Duration, log *slog.Logger) *Extractor {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Extractor{workers: workers, timeout: timeout, fetch: func(url string, timeout time.Duration) (readability.Article, error) {
		return readability.FromURL(url, timeout)
	}, log: logger.OrDefault(log)}
}

// Fill extracts content for every item lacking a description, using a
// bounded worker pool. Failures are logged and leave the item unchanged.
func (e *Extractor) Fill(ctx context.Context, items []types.RawItem) {
	var wg sync.WaitGroup
	queue := make(chan *types.RawItem)

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for item := range queue {
				if err := e.extract(item); err != nil {
					e.log.Warn("content extraction failed", "worker", workerID, "url", item.URL, "error", err)
				}
			}
		}(i)
	}

	for i := range items {
		item := &items[i]
		if strings.TrimSpace(item.Description) != "" || strings.TrimSpace(item.Content) != "" {
			continue
		}
		select {
		case queue <- item:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()
}

func (e *Extractor) extract(item *types.RawItem) error {
	if item.URL == "" {
		return fmt.Errorf("article URL is empty")
	}

	extracted, err := e.fetch(item.URL, e.timeout)
	if err != nil {
		return fmt.Errorf("readability extraction failed: %w", err)
	}

	item.Content = extracted.TextContent
	if item.Description == "" {
		item.Description = extracted.Excerpt
	}
	if item.ImageURL == "" {
		item.ImageURL = extracted.Image
	}
	if item.Author == "" {
		item.Author = extracted.Byline
	}
	if item.PublishedAt == nil && extracted.PublishedTime != nil {
		item.PublishedAt = extracted.PublishedTime
	}
	return nil
}
