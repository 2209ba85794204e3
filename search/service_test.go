package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"newsindex/cleaner"
	"newsindex/embedding"
	"newsindex/types"
	"newsindex/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 1024

// countingEmbedder counts calls through to a hashing embedder.
type countingEmbedder struct {
	*embedding.Service
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Service.Embed(ctx, text)
}

func newEmbedder() *countingEmbedder {
	svc := embedding.NewService(embedding.NewHashProvider(dim), embedding.Config{Dimension: dim, MaxInputTokens: 256}, nil)
	return &countingEmbedder{Service: svc}
}

func seed(t *testing.T, emb embedding.Embedder, store vectorstore.Store, docs map[string]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, dim))
	for title, text := range docs {
		vec, err := emb.Embed(ctx, cleaner.Body(title, text))
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []types.EmbeddingRecord{{
			ArticleID: title,
			Vector:    vec,
			Metadata:  types.Metadata{Title: title, URL: "https://news.example/" + title, SourceName: "Example", PublishedAt: time.Now()},
		}}))
	}
}

func TestSearchRanksRelevantArticlesFirst(t *testing.T) {
	emb := newEmbedder()
	store := vectorstore.NewMemory()
	climate := map[string]string{
		"Climate policy summit":     "Ministers debate climate policy and emission targets",
		"New climate policy":        "Government unveils climate policy for coastal cities",
		"Climate policy under fire": "Critics say the climate policy lacks funding",
	}
	unrelated := map[string]string{
		"Football final":     "Striker scores twice in cup final",
		"Chip shortage":      "Semiconductor supply remains tight for carmakers",
		"Museum reopens":     "Renovated gallery welcomes visitors after repairs",
		"Interest rates":     "Central bank holds rates steady this quarter",
		"Marathon record":    "Runner breaks course record in Berlin",
		"Smartphone launch":  "Company reveals foldable phone with bigger battery",
		"Film festival wins": "Documentary takes top prize at festival",
	}
	seed(t, emb, store, climate)
	seed(t, emb, store, unrelated)

	svc := NewService(emb, store, Config{}, nil)
	results, err := svc.Search(context.Background(), "climate policy", 10)
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 10)
	require.GreaterOrEqual(t, len(results), 3)

	for i := 0; i < 3; i++ {
		assert.Contains(t, climate, results[i].Title, "result %d should be climate-related", i)
	}
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Greater(t, results[2].Score, results[3].Score)
}

func TestSearchEmptyQuerySkipsEmbedder(t *testing.T) {
	emb := newEmbedder()
	svc := NewService(emb, vectorstore.NewMemory(), Config{}, nil)

	for _, q := range []string{"", "   ", "?!…"} {
		results, err := svc.Search(context.Background(), q, 10)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	}
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestSearchK(t *testing.T) {
	emb := newEmbedder()
	store := vectorstore.NewMemory()
	docs := map[string]string{}
	for i := range 15 {
		docs[fmt.Sprintf("doc %d", i)] = fmt.Sprintf("news item number %d", i)
	}
	seed(t, emb, store, docs)
	svc := NewService(emb, store, Config{DefaultK: 4, MaxK: 6}, nil)

	results, err := svc.Search(context.Background(), "news", 0)
	require.NoError(t, err)
	assert.Len(t, results, 4)

	results, err = svc.Search(context.Background(), "news", 50)
	require.NoError(t, err)
	assert.Len(t, results, 6)

	_, err = svc.Search(context.Background(), "news", -1)
	assert.ErrorIs(t, err, ErrInvalidK)
}

type downStore struct{ vectorstore.Store }

func (downStore) Search(context.Context, []float32, int) ([]types.Match, error) {
	return nil, types.NewIndexUnavailable("search", errors.New("connection refused"))
}

func TestSearchSurfacesUnavailableIndex(t *testing.T) {
	svc := NewService(newEmbedder(), downStore{}, Config{}, nil)
	results, err := svc.Search(context.Background(), "climate", 5)
	require.Error(t, err)
	assert.True(t, types.IsIndexUnavailable(err))
	assert.Nil(t, results)
}
