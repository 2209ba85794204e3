package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"newsindex/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chromaServer(t *testing.T, dimension *int) (*httptest.Server, *[]string) {
	var upserted []string
	mux := http.NewServeMux()
	const coll = "/api/v2/tenants/default_tenant/databases/default_database/collections"
	mux.HandleFunc(coll, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "news", body["name"])
		assert.Equal(t, true, body["get_or_create"])
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "c-1", "name": "news", "dimension": dimension})
	})
	mux.HandleFunc(coll+"/c-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs        []string    `json:"ids"`
			Embeddings [][]float32 `json:"embeddings"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Embeddings, len(body.IDs))
		upserted = append(upserted, body.IDs...)
		_, _ = w.Write([]byte(`true`))
	})
	mux.HandleFunc(coll+"/c-1/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 2, body["n_results"])
		_, _ = w.Write([]byte(`{
			"ids": [["b", "a"]],
			"distances": [[0.4, 0.1]],
			"embeddings": [[[0, 1], [1, 0]]],
			"metadatas": [[
				{"title": "beta", "url": "https://example.com/b", "published_at": "2024-05-01T12:00:00Z", "source_name": "Example"},
				{"title": "alpha", "url": "https://example.com/a", "published_at": "2024-05-01T12:00:00Z", "source_name": "Example"}
			]]
		}`))
	})
	mux.HandleFunc(coll+"/c-1/count", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`2`))
	})
	return httptest.NewServer(mux), &upserted
}

func newTestChroma(t *testing.T, srvURL string) *Chroma {
	hostPort := strings.TrimPrefix(srvURL, "http://")
	i := strings.LastIndex(hostPort, ":")
	port, err := strconv.Atoi(hostPort[i+1:])
	require.NoError(t, err)
	return NewChroma(ChromaConfig{Host: hostPort[:i], Port: port, CollectionName: "news"}, nil)
}

func TestChromaUpsertAndSearch(t *testing.T) {
	srv, upserted := chromaServer(t, nil)
	defer srv.Close()

	ctx := context.Background()
	c := newTestChroma(t, srv.URL)
	require.NoError(t, c.EnsureCollection(ctx, 2))

	require.NoError(t, c.Upsert(ctx, []types.EmbeddingRecord{
		record("a", []float32{1, 0}, "alpha"),
		record("b", []float32{0, 1}, "beta"),
	}))
	assert.Equal(t, []string{"a", "b"}, *upserted)

	matches, err := c.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 0.9, matches[0].Score, 1e-6)
	assert.Equal(t, "alpha", matches[0].Metadata.Title)
	assert.Equal(t, 2024, matches[0].Metadata.PublishedAt.Year())
	assert.Equal(t, "b", matches[1].ID)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChromaDimensionMismatch(t *testing.T) {
	dim := 768
	srv, _ := chromaServer(t, &dim)
	defer srv.Close()

	c := newTestChroma(t, srv.URL)
	err := c.EnsureCollection(context.Background(), 384)
	assert.True(t, types.IsConfiguration(err))
}

func TestChromaRequiresCollection(t *testing.T) {
	c := NewChroma(ChromaConfig{Host: "localhost", Port: 1, CollectionName: "news"}, nil)
	err := c.Upsert(context.Background(), []types.EmbeddingRecord{record("a", []float32{1}, "a")})
	assert.Error(t, err)
}
