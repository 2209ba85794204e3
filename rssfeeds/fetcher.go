package rssfeeds

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"newsindex/logger"
	"newsindex/providers"
	"newsindex/types"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// Config configures one RSS partition.
type Config struct {
	Feed           string
	MaxItems       int
	Lookback       time.Duration
	RatePerSecond  float64
	Timeout        time.Duration
	Extract        bool
	ExtractWorkers int
	ExtractTimeout time.Duration
}

// Feed adapts an RSS/Atom feed to the provider contract. A feed has no
// pagination, so every fetch is a complete sweep: HasMore is always false
// and the cursor only moves when a newer item shows up.
type Feed struct {
	cfg       Config
	feed      FeedConfig
	parser    *gofeed.Parser
	limiter   *rate.Limiter
	extractor *Extractor
	log       *slog.Logger
}

func NewFeed(cfg Config, client *http.Client, log *slog.Logger) *Feed {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	parser := gofeed.NewParser()
	parser.Client = client

	f := &Feed{
		cfg:     cfg,
		feed:    ResolveFeed(cfg.Feed),
		parser:  parser,
		limiter: providers.NewLimiter(cfg.RatePerSecond),
		log:     logger.OrDefault(log),
	}
	if cfg.Extract {
		f.extractor = NewExtractor(cfg.ExtractWorkers, cfg.ExtractTimeout, f.log)
	}
	return f
}

func (f *Feed) Name() string { return "rss" }

func (f *Feed) InitialCursor(now time.Time) string {
	return providers.SinceCursor(now.Add(-f.cfg.Lookback))
}

// Fetch retrieves the feed and returns items newer than the cursor.
func (f *Feed) Fetch(ctx context.Context, cursor string) (providers.Page, error) {
	const op = "rss.fetch"

	cur, err := providers.ParseCursor(cursor)
	if err != nil {
		return providers.Page{}, types.NewFatal(op, err)
	}
	if err := providers.Wait(ctx, f.limiter); err != nil {
		return providers.Page{}, err
	}

	feed, err := f.parser.ParseURLWithContext(f.feed.URL, ctx)
	if err != nil {
		return providers.Page{}, classifyFeedError(op, err)
	}

	source := f.feed.Name
	if source == "" {
		source = strings.TrimSpace(feed.Title)
	}

	count := min(len(feed.Items), f.cfg.MaxItems)
	items := make([]types.RawItem, 0, count)
	for _, it := range feed.Items[:count] {
		var published *time.Time
		if it.PublishedParsed != nil {
			published = it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			published = it.UpdatedParsed
		}
		if published != nil && !cur.Since.IsZero() && published.Before(cur.Since) {
			continue
		}

		item := types.RawItem{
			NativeID:    it.GUID,
			Title:       it.Title,
			Description: it.Description,
			Content:     it.Content,
			SourceName:  source,
			URL:         it.Link,
			PublishedAt: published,
		}
		if it.Author != nil {
			item.Author = it.Author.Name
		}
		if it.Image != nil {
			item.ImageURL = it.Image.URL
		}
		if item.ImageURL == "" {
			item.ImageURL = firstImage(it.Description + it.Content)
		}

		cur.Observe(published)
		items = append(items, item)
	}

	if f.extractor != nil {
		f.extractor.Fill(ctx, items)
	}

	return providers.Page{Items: items, NextCursor: cur.Settle().Encode()}, nil
}

// firstImage finds the first <img src> in an HTML fragment.
func firstImage(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

func classifyFeedError(op string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return providers.Classify(op, httpErr.StatusCode, httpErr.Status)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return providers.ClassifyTransport(op, err)
	}
	// Anything else is an unparsable body.
	return types.NewFatal(op, err)
}
