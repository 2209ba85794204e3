package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"newsindex/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProvider puts the token count of each text in v[0] and records
// every call it receives.
type recordingProvider struct {
	mu    sync.Mutex
	calls [][]string
	dim   int
	err   error
}

func (r *recordingProvider) ModelName() string { return "recording" }

func (r *recordingProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), texts...))
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, r.dim)
		v[0] = float32(len(strings.Fields(t)))
		out[i] = v
	}
	return out, nil
}

func TestEmbedBatchPreservesOrderAcrossChunks(t *testing.T) {
	p := &recordingProvider{dim: 4}
	s := NewService(p, Config{Dimension: 4, BatchSize: 3, Concurrency: 4, MaxInputTokens: 100}, nil)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strings.TrimSpace(strings.Repeat("w ", i+1))
	}
	vecs, err := s.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 10)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0], "vector %d out of order", i)
	}
	assert.Len(t, p.calls, 4)
}

func TestEmbedTruncatesToMaxTokens(t *testing.T) {
	p := &recordingProvider{dim: 2}
	s := NewService(p, Config{Dimension: 2, MaxInputTokens: 3}, nil)

	v, err := s.Embed(context.Background(), "one two three four five")
	require.NoError(t, err)
	assert.Equal(t, float32(3), v[0])
	assert.Equal(t, "one two three", p.calls[0][0])
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	p := &recordingProvider{dim: 2}
	s := NewService(p, Config{Dimension: 2}, nil)

	_, err := s.Embed(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, types.IsEmbedding(err))
	assert.ErrorIs(t, err, types.ErrEmptyInput)
	assert.Empty(t, p.calls)
}

func TestEmbedErrors(t *testing.T) {
	t.Run("provider failure", func(t *testing.T) {
		s := NewService(&recordingProvider{dim: 2, err: errors.New("down")}, Config{Dimension: 2}, nil)
		_, err := s.EmbedBatch(context.Background(), []string{"a"})
		assert.True(t, types.IsEmbedding(err))
	})
	t.Run("dimension mismatch", func(t *testing.T) {
		s := NewService(&recordingProvider{dim: 3}, Config{Dimension: 2}, nil)
		_, err := s.EmbedBatch(context.Background(), []string{"a"})
		assert.True(t, types.IsEmbedding(err))
	})
	t.Run("verify mismatch is configuration", func(t *testing.T) {
		s := NewService(&recordingProvider{dim: 3}, Config{Dimension: 2}, nil)
		err := s.Verify(context.Background())
		assert.True(t, types.IsConfiguration(err))
	})
}

func TestHashProviderDeterministicAndNormalized(t *testing.T) {
	s := NewService(NewHashProvider(64), Config{Dimension: 64, MaxInputTokens: 256}, nil)
	ctx := context.Background()

	a, err := s.Embed(ctx, "climate policy talks stall")
	require.NoError(t, err)
	b, err := s.Embed(ctx, "climate policy talks stall")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float32
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	related, _ := s.Embed(ctx, "new climate policy announced")
	unrelated, _ := s.Embed(ctx, "football transfer window closes")
	assert.Greater(t, dot(a, related), dot(a, unrelated))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", Truncate("  a   b  ", 0))
	assert.Equal(t, "a", Truncate("a b c", 1))
	assert.Equal(t, "", Truncate("", 3))
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Dimensions)

		// Answer out of order; the provider must reorder by index.
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{"index": i, "embedding": []float64{float64(i), 0, 0}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Dimension: 3})
	vecs, err := p.EmbedTexts(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0])
	}
}

func TestOpenAIProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	s := NewService(NewOpenAIProvider(OpenAIConfig{APIKey: "x", BaseURL: srv.URL}), Config{Dimension: 3}, nil)
	_, err := s.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, types.IsEmbedding(err))
}

func TestCohereProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/embed", r.URL.Path)
		assert.Equal(t, "Bearer co-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "search_document", req["input_type"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"e1","embeddings":{"float":[[0.5,0.25],[1,0]]},"texts":["a","b"]}`)
	}))
	defer srv.Close()

	p := NewCohereProvider(CohereConfig{APIKey: "co-key", BaseURL: srv.URL})
	vecs, err := p.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.25}, {1, 0}}, vecs)
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
