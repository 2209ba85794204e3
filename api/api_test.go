package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"newsindex/partition"
	"newsindex/search"
	"newsindex/types"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSearcher struct {
	query   string
	k       int
	results []types.SearchResult
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int) ([]types.SearchResult, error) {
	f.query, f.k = query, k
	if k < 0 {
		return nil, search.ErrInvalidK
	}
	return f.results, f.err
}

type fakePartitions struct {
	statuses []partition.Status
	polled   []string
	replayed map[string]string
	pollErr  error
}

func (f *fakePartitions) Statuses() []partition.Status { return f.statuses }

func (f *fakePartitions) Status(id string) (partition.Status, bool) {
	for _, s := range f.statuses {
		if s.ID == id {
			return s, true
		}
	}
	return partition.Status{}, false
}

func (f *fakePartitions) PollNow(id string) error {
	if _, ok := f.Status(id); !ok {
		return partition.ErrUnknownPartition
	}
	if f.pollErr != nil {
		return f.pollErr
	}
	f.polled = append(f.polled, id)
	return nil
}

func (f *fakePartitions) Replay(_ context.Context, id, cursor string) error {
	if _, ok := f.Status(id); !ok {
		return partition.ErrUnknownPartition
	}
	f.replayed[id] = cursor
	return nil
}

type fakeFingerprints struct {
	count     int
	retention time.Duration
}

func (f *fakeFingerprints) Count(context.Context) (int, error) { return f.count, nil }
func (f *fakeFingerprints) Prune(_ context.Context, retention time.Duration) (int, error) {
	f.retention = retention
	return 3, nil
}

func do(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	w := do(t, NewRouter(Dependencies{}, nil), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestMetricsExposed(t *testing.T) {
	w := do(t, NewRouter(Dependencies{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSearchGetAndPost(t *testing.T) {
	s := &fakeSearcher{results: []types.SearchResult{{Title: "Climate deal", URL: "https://x.example/1", Score: 0.91}}}
	r := NewRouter(Dependencies{Search: s}, nil)

	w := do(t, r, http.MethodGet, "/api/search?q=climate+policy&k=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "climate policy", s.query)
	assert.Equal(t, 5, s.k)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Climate deal", resp.Results[0].Title)

	w = do(t, r, http.MethodPost, "/api/search", `{"query":"markets"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "markets", s.query)
	assert.Equal(t, 0, s.k)
}

func TestSearchErrors(t *testing.T) {
	cases := []struct {
		name      string
		target    string
		err       error
		status    int
		retryable bool
	}{
		{"non-integer k", "/api/search?q=a&k=ten", nil, http.StatusBadRequest, false},
		{"negative k", "/api/search?q=a&k=-1", nil, http.StatusBadRequest, false},
		{"index down", "/api/search?q=a", types.NewIndexUnavailable("search", errors.New("refused")), http.StatusServiceUnavailable, true},
		{"embedder down", "/api/search?q=a", fmt.Errorf("embed query: %w", types.NewEmbedding("embed", errors.New("401"))), http.StatusBadGateway, false},
		{"other", "/api/search?q=a", errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := NewRouter(Dependencies{Search: &fakeSearcher{err: c.err}}, nil)
			w := do(t, r, http.MethodGet, c.target, "")
			assert.Equal(t, c.status, w.Code)
			if c.err != nil {
				assert.Equal(t, c.retryable, decode(t, w)["retryable"])
			}
		})
	}
}

func TestSearchBadBody(t *testing.T) {
	r := NewRouter(Dependencies{Search: &fakeSearcher{}}, nil)
	w := do(t, r, http.MethodPost, "/api/search", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func newPartitions() *fakePartitions {
	return &fakePartitions{
		statuses: []partition.Status{
			{ID: "newsapi", Provider: "newsapi", Mode: partition.ModePolling, State: partition.StateIdle, Cursor: "page=2"},
			{ID: "rss:hn", Provider: "rss", Mode: partition.ModeRecovery, State: partition.StateStopped},
		},
		replayed: map[string]string{},
	}
}

func TestPartitionRoutes(t *testing.T) {
	p := newPartitions()
	r := NewRouter(Dependencies{Partitions: p}, nil)

	w := do(t, r, http.MethodGet, "/api/partitions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["partitions"], 2)

	w = do(t, r, http.MethodGet, "/api/partitions/newsapi", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "page=2", decode(t, w)["cursor"])

	w = do(t, r, http.MethodGet, "/api/partitions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/partitions/newsapi/poll", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"newsapi"}, p.polled)

	w = do(t, r, http.MethodPost, "/api/partitions/missing/poll", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPollOnRecoveryPartitionConflicts(t *testing.T) {
	p := newPartitions()
	p.pollErr = partition.ErrNotPolling
	w := do(t, NewRouter(Dependencies{Partitions: p}, nil), http.MethodPost, "/api/partitions/rss:hn/poll", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReplayRoute(t *testing.T) {
	p := newPartitions()
	r := NewRouter(Dependencies{Partitions: p}, nil)

	w := do(t, r, http.MethodPost, "/api/partitions/newsapi/replay", `{"cursor":"page=1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "page=1", p.replayed["newsapi"])

	w = do(t, r, http.MethodPost, "/api/partitions/rss:hn/replay", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	cursor, ok := p.replayed["rss:hn"]
	assert.True(t, ok)
	assert.Empty(t, cursor)

	w = do(t, r, http.MethodPost, "/api/partitions/missing/replay", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeduplicationRoutes(t *testing.T) {
	f := &fakeFingerprints{count: 42}
	r := NewRouter(Dependencies{Dedup: f, Retention: 48 * time.Hour}, nil)

	w := do(t, r, http.MethodGet, "/api/deduplication/count", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 42, decode(t, w)["count"])

	w = do(t, r, http.MethodPost, "/api/deduplication/prune", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["removed"])
	assert.Equal(t, 48*time.Hour, f.retention)
}

func TestQueryOnlyRouterHasNoOperatorRoutes(t *testing.T) {
	r := NewRouter(Dependencies{Search: &fakeSearcher{}}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/partitions", "").Code)
}
