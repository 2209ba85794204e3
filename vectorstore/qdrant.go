package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"newsindex/types"

	"github.com/google/uuid"
)

// QdrantConfig points at a Qdrant REST endpoint.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Qdrant is a minimal REST client to Qdrant using cosine distance.
type Qdrant struct {
	base       string
	collection string
	header     http.Header
	dimension  int
	client     *http.Client
}

func NewQdrant(cfg QdrantConfig) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("api-key", cfg.APIKey)
	}
	return &Qdrant{
		base:       strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		header:     header,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID maps an article id onto the UUID space Qdrant accepts as point id.
func PointID(articleID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(articleID)).String()
}

type qdrantPayload struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	SourceName  string    `json:"source_name"`
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

func (q *Qdrant) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", q.base, url.PathEscape(q.collection))
}

func (q *Qdrant) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := doJSON(ctx, q.client, "qdrant get collection", http.MethodGet, q.collectionURL(), q.header, nil, &info)
	var statusErr *StatusError
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != dimension {
			return types.NewConfiguration("embedding.dimension", "qdrant collection %q has dimension %d, configured %d", q.collection, size, dimension)
		}
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound:
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		if err := doJSON(ctx, q.client, "qdrant create collection", http.MethodPut, q.collectionURL(), q.header, body, nil); err != nil {
			return err
		}
	default:
		return err
	}

	q.dimension = dimension
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, records []types.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkRecords(records, q.dimension); err != nil {
		return err
	}
	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		points[i] = qdrantPoint{
			ID:     PointID(r.ArticleID),
			Vector: r.Vector,
			Payload: qdrantPayload{
				ArticleID:   r.ArticleID,
				Title:       r.Metadata.Title,
				URL:         r.Metadata.URL,
				ImageURL:    r.Metadata.ImageURL,
				PublishedAt: r.Metadata.PublishedAt,
				SourceName:  r.Metadata.SourceName,
			},
		}
	}
	body := map[string]any{"points": points}
	return doJSON(ctx, q.client, "qdrant upsert", http.MethodPut, q.collectionURL()+"/points?wait=true", q.header, body, nil)
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, k int) ([]types.Match, error) {
	if k <= 0 {
		return []types.Match{}, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []struct {
			Score   float32       `json:"score"`
			Vector  []float32     `json:"vector"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := doJSON(ctx, q.client, "qdrant search", http.MethodPost, q.collectionURL()+"/points/search", q.header, req, &resp); err != nil {
		return nil, err
	}

	matches := make([]types.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		matches = append(matches, types.Match{
			ID:     r.Payload.ArticleID,
			Score:  r.Score,
			Vector: r.Vector,
			Metadata: types.Metadata{
				Title:       r.Payload.Title,
				URL:         r.Payload.URL,
				ImageURL:    r.Payload.ImageURL,
				PublishedAt: r.Payload.PublishedAt,
				SourceName:  r.Payload.SourceName,
			},
		})
	}
	return rank(matches, k), nil
}

func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}
	body := map[string]any{"points": points}
	return doJSON(ctx, q.client, "qdrant delete", http.MethodPost, q.collectionURL()+"/points/delete?wait=true", q.header, body, nil)
}

func (q *Qdrant) Close() error {
	q.client.CloseIdleConnections()
	return nil
}
