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

// NewsAPIConfig configures the NewsAPI /v2/everything adapter.
type NewsAPIConfig struct {
	BaseURL       string
	APIKey        string
	Query         string
	Language      string
	PageSize      int
	RatePerSecond float64
	Lookback      time.Duration
	Timeout       time.Duration
}

// NewsAPI pages through /v2/everything newest first. The cursor's Since is
// passed as the "from" bound so a sweep only covers unseen time.
type NewsAPI struct {
	cfg     NewsAPIConfig
	client  *http.Client
	limiter *rate.Limiter
}

type newsAPIResponse struct {
	Status       string           `json:"status"`
	Code         string           `json:"code"`
	Message      string           `json:"message"`
	TotalResults int              `json:"totalResults"`
	Articles     []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

func NewNewsAPI(cfg NewsAPIConfig, client *http.Client) *NewsAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://newsapi.org"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
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
	return &NewsAPI{cfg: cfg, client: client, limiter: NewLimiter(cfg.RatePerSecond)}
}

func (n *NewsAPI) Name() string { return "newsapi" }

func (n *NewsAPI) InitialCursor(now time.Time) string {
	return SinceCursor(now.Add(-n.cfg.Lookback))
}

func (n *NewsAPI) Fetch(ctx context.Context, cursor string) (Page, error) {
	const op = "newsapi.fetch"

	cur, err := ParseCursor(cursor)
	if err != nil {
		return Page{}, types.NewFatal(op, err)
	}
	page := cur.Page
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("q", n.cfg.Query)
	q.Set("language", n.cfg.Language)
	q.Set("sortBy", "publishedAt")
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(n.cfg.PageSize))
	if !cur.Since.IsZero() {
		q.Set("from", cur.Since.UTC().Format(time.RFC3339))
	}
	endpoint := strings.TrimRight(n.cfg.BaseURL, "/") + "/v2/everything?" + q.Encode()

	if err := Wait(ctx, n.limiter); err != nil {
		return Page{}, err
	}

	var resp newsAPIResponse
	header := http.Header{"X-Api-Key": []string{n.cfg.APIKey}}
	if err := getJSON(ctx, n.client, op, endpoint, header, &resp); err != nil {
		return Page{}, err
	}
	if resp.Status != "ok" {
		err := errors.New(resp.Code + ": " + resp.Message)
		if resp.Code == "rateLimited" {
			return Page{}, types.NewTransient(op, err)
		}
		return Page{}, types.NewFatal(op, err)
	}

	items := make([]types.RawItem, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if a.URL == "" || a.Title == "[Removed]" {
			continue
		}
		item := types.RawItem{
			Title:       a.Title,
			Description: a.Description,
			Content:     a.Content,
			SourceName:  a.Source.Name,
			URL:         a.URL,
			ImageURL:    a.URLToImage,
			Author:      a.Author,
			PublishedAt: parseTime(a.PublishedAt),
		}
		cur.Observe(item.PublishedAt)
		items = append(items, item)
	}

	// NewsAPI answers past-the-end pages with an empty list.
	if len(resp.Articles) > 0 && page*n.cfg.PageSize < resp.TotalResults {
		return Page{Items: items, NextCursor: cur.Next(page+1, "").Encode(), HasMore: true}, nil
	}
	return Page{Items: items, NextCursor: cur.Settle().Encode()}, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

// parseTime accepts the handful of layouts news APIs use. Times without a
// zone are taken as UTC.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}
