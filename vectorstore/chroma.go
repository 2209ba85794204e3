package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"newsindex/logger"
	"newsindex/types"
)

// Chroma wraps the Chroma v2 REST API. Chroma v2 expects client-supplied
// embeddings, so every call carries vectors computed by the embedder.
type Chroma struct {
	baseURL        string
	tenant         string
	database       string
	collectionName string
	collectionID   string
	dimension      int
	httpClient     *http.Client
	log            *slog.Logger
}

// ChromaConfig holds configuration for Chroma connection
type ChromaConfig struct {
	Host           string
	Port           int
	Tenant         string
	Database       string
	CollectionName string
	Timeout        time.Duration
}

type chromaMetadata struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	ImageURL    string `json:"image_url"`
	PublishedAt string `json:"published_at"`
	SourceName  string `json:"source_name"`
}

// chromaQueryResults is the response from a similarity query; every field is
// indexed by query first.
type chromaQueryResults struct {
	IDs        [][]string         `json:"ids"`
	Distances  [][]float32        `json:"distances"`
	Metadatas  [][]chromaMetadata `json:"metadatas"`
	Embeddings [][][]float32      `json:"embeddings"`
}

// NewChroma creates a new Chroma wrapper instance. The collection is resolved
// by EnsureCollection.
func NewChroma(config ChromaConfig, log *slog.Logger) *Chroma {
	if config.Tenant == "" {
		config.Tenant = "default_tenant"
	}
	if config.Database == "" {
		config.Database = "default_database"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	return &Chroma{
		baseURL:        fmt.Sprintf("http://%s:%d/api/v2", config.Host, config.Port),
		tenant:         config.Tenant,
		database:       config.Database,
		collectionName: config.CollectionName,
		httpClient:     &http.Client{Timeout: config.Timeout},
		log:            logger.OrDefault(log),
	}
}

// EnsureCollection gets or creates the collection with cosine space.
func (c *Chroma) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	createURL := fmt.Sprintf("%s/tenants/%s/databases/%s/collections", c.baseURL, url.PathEscape(c.tenant), url.PathEscape(c.database))
	payload := map[string]any{
		"name": c.collectionName,
		"metadata": map[string]any{
			"hnsw:space":  "cosine",
			"description": "news article embeddings",
		},
		"get_or_create": true,
	}

	var result struct {
		ID        string `json:"id"`
		Dimension *int   `json:"dimension"`
	}
	if err := doJSON(ctx, c.httpClient, "chroma get or create collection", http.MethodPost, createURL, nil, payload, &result); err != nil {
		return err
	}
	if result.ID == "" {
		return fmt.Errorf("chroma get or create collection: response has no id")
	}
	if result.Dimension != nil && *result.Dimension != dimension {
		return types.NewConfiguration("embedding.dimension", "chroma collection %q has dimension %d, configured %d", c.collectionName, *result.Dimension, dimension)
	}

	c.collectionID = result.ID
	c.dimension = dimension
	c.log.Info("using chroma collection", "collection", c.collectionName, "id", result.ID)
	return nil
}

// collectionURL returns the base URL for collection operations
func (c *Chroma) collectionURL() string {
	return fmt.Sprintf("%s/tenants/%s/databases/%s/collections/%s", c.baseURL, url.PathEscape(c.tenant), url.PathEscape(c.database), c.collectionID)
}

func (c *Chroma) ready() error {
	if c.collectionID == "" {
		return errors.New("chroma collection not initialized")
	}
	return nil
}

// Upsert adds or replaces records by id.
func (c *Chroma) Upsert(ctx context.Context, records []types.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.ready(); err != nil {
		return err
	}
	if err := checkRecords(records, c.dimension); err != nil {
		return err
	}

	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	metadatas := make([]chromaMetadata, len(records))
	documents := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ArticleID
		embeddings[i] = r.Vector
		metadatas[i] = chromaMetadata{
			Title:       r.Metadata.Title,
			URL:         r.Metadata.URL,
			ImageURL:    r.Metadata.ImageURL,
			PublishedAt: r.Metadata.PublishedAt.UTC().Format(time.RFC3339),
			SourceName:  r.Metadata.SourceName,
		}
		documents[i] = r.Metadata.Title
	}
	payload := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"metadatas":  metadatas,
		"documents":  documents,
	}
	if err := doJSON(ctx, c.httpClient, "chroma upsert", http.MethodPost, c.collectionURL()+"/upsert", nil, payload, nil); err != nil {
		return err
	}
	c.log.Debug("upserted documents", "count", len(records))
	return nil
}

// Search queries by embedding. Chroma reports cosine distance; the score is
// 1 - distance.
func (c *Chroma) Search(ctx context.Context, vector []float32, k int) ([]types.Match, error) {
	if k <= 0 {
		return []types.Match{}, nil
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        k,
		"include":          []string{"metadatas", "distances", "embeddings"},
	}
	var result chromaQueryResults
	if err := doJSON(ctx, c.httpClient, "chroma query", http.MethodPost, c.collectionURL()+"/query", nil, payload, &result); err != nil {
		return nil, err
	}
	if len(result.IDs) == 0 {
		return []types.Match{}, nil
	}

	matches := make([]types.Match, 0, len(result.IDs[0]))
	for i, id := range result.IDs[0] {
		m := types.Match{ID: id}
		if len(result.Distances) > 0 && i < len(result.Distances[0]) {
			m.Score = 1 - result.Distances[0][i]
		}
		if len(result.Embeddings) > 0 && i < len(result.Embeddings[0]) {
			m.Vector = result.Embeddings[0][i]
		}
		if len(result.Metadatas) > 0 && i < len(result.Metadatas[0]) {
			md := result.Metadatas[0][i]
			published, _ := time.Parse(time.RFC3339, md.PublishedAt)
			m.Metadata = types.Metadata{
				Title:       md.Title,
				URL:         md.URL,
				ImageURL:    md.ImageURL,
				PublishedAt: published,
				SourceName:  md.SourceName,
			}
		}
		matches = append(matches, m)
	}
	return rank(matches, k), nil
}

// Delete removes records by id.
func (c *Chroma) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.ready(); err != nil {
		return err
	}
	payload := map[string]any{"ids": ids}
	return doJSON(ctx, c.httpClient, "chroma delete", http.MethodPost, c.collectionURL()+"/delete", nil, payload, nil)
}

// Count returns the number of documents in the collection
func (c *Chroma) Count(ctx context.Context) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var count int
	if err := doJSON(ctx, c.httpClient, "chroma count", http.MethodGet, c.collectionURL()+"/count", nil, nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Chroma) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
