package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"newsindex/types"

	"golang.org/x/time/rate"
)

// NewsDataConfig configures the NewsData.io /api/1/latest adapter.
type NewsDataConfig struct {
	BaseURL       string
	APIKey        string
	Query         string
	Language      string
	PageSize      int
	RatePerSecond float64
	Lookback      time.Duration
	Timeout       time.Duration
}

// NewsData follows nextPage tokens newest first and stops a sweep as soon
// as it reaches items older than the cursor's Since. Items at exactly Since
// are kept and left to deduplication.
type NewsData struct {
	cfg     NewsDataConfig
	client  *http.Client
	limiter *rate.Limiter
}

type newsDataResponse struct {
	Status       string            `json:"status"`
	TotalResults int               `json:"totalResults"`
	Results      []newsDataArticle `json:"results"`
	NextPage     string            `json:"nextPage"`
}

type newsDataArticle struct {
	ArticleID   string   `json:"article_id"`
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	PubDate     string   `json:"pubDate"`
	ImageURL    string   `json:"image_url"`
	SourceID    string   `json:"source_id"`
	SourceName  string   `json:"source_name"`
	Creator     []string `json:"creator"`
}

func NewNewsData(cfg NewsDataConfig, client *http.Client) *NewsData {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://newsdata.io"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &NewsData{cfg: cfg, client: client, limiter: NewLimiter(cfg.RatePerSecond)}
}

func (n *NewsData) Name() string { return "newsdata" }

func (n *NewsData) InitialCursor(now time.Time) string {
	return SinceCursor(now.Add(-n.cfg.Lookback))
}

func (n *NewsData) Fetch(ctx context.Context, cursor string) (Page, error) {
	const op = "newsdata.fetch"

	cur, err := ParseCursor(cursor)
	if err != nil {
		return Page{}, types.NewFatal(op, err)
	}

	q := url.Values{}
	q.Set("apikey", n.cfg.APIKey)
	q.Set("q", n.cfg.Query)
	q.Set("language", n.cfg.Language)
	q.Set("size", strconv.Itoa(n.cfg.PageSize))
	if cur.Token != "" {
		q.Set("page", cur.Token)
	}
	endpoint := strings.TrimRight(n.cfg.BaseURL, "/") + "/api/1/latest?" + q.Encode()

	if err := Wait(ctx, n.limiter); err != nil {
		return Page{}, err
	}

	var resp newsDataResponse
	if err := getJSON(ctx, n.client, op, endpoint, nil, &resp); err != nil {
		return Page{}, err
	}
	if resp.Status != "success" {
		return Page{}, types.NewFatal(op, errors.New("unexpected status "+strconv.Quote(resp.Status)))
	}

	reachedSince := false
	items := make([]types.RawItem, 0, len(resp.Results))
	for _, a := range resp.Results {
		published := parseTime(a.PubDate)
		if published != nil && !cur.Since.IsZero() && published.Before(cur.Since) {
			reachedSince = true
			continue
		}
		source := a.SourceName
		if source == "" {
			source = a.SourceID
		}
		item := types.RawItem{
			NativeID:    a.ArticleID,
			Title:       a.Title,
			Description: a.Description,
			Content:     a.Content,
			SourceName:  source,
			URL:         a.Link,
			ImageURL:    a.ImageURL,
			Author:      strings.Join(a.Creator, ", "),
			PublishedAt: published,
		}
		cur.Observe(published)
		items = append(items, item)
	}

	if resp.NextPage != "" && !reachedSince && len(resp.Results) > 0 {
		return Page{Items: items, NextCursor: cur.Next(0, resp.NextPage).Encode(), HasMore: true}, nil
	}
	return Page{Items: items, NextCursor: cur.Settle().Encode()}, nil
}
