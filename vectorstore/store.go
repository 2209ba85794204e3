// Package vectorstore is the narrow contract the pipeline and the query path
// hold against the similarity index, plus its backends.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"

	"newsindex/types"
)

// Store is a collection of (article id, vector, metadata) records keyed by
// article id. Upsert overwrites; it never duplicates.
type Store interface {
	// EnsureCollection creates the collection if missing. An existing
	// collection with another dimension is a ConfigurationError.
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, records []types.EmbeddingRecord) error
	// Search returns at most k matches ordered by descending score.
	Search(ctx context.Context, vector []float32, k int) ([]types.Match, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}

// StatusError is a non-2xx answer from a REST backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// doJSON sends body as JSON and decodes a 2xx answer into out. Transport
// failures, 429 and 5xx come back as IndexUnavailableError; any other non-2xx
// is a plain *StatusError, which the index writer does not retry.
func doJSON(ctx context.Context, client *http.Client, op, method, endpoint string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return types.NewIndexUnavailable(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return types.NewIndexUnavailable(op, statusErr)
		}
		return fmt.Errorf("%s: %w", op, statusErr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func checkRecords(records []types.EmbeddingRecord, dimension int) error {
	for _, r := range records {
		if r.ArticleID == "" {
			return errors.New("record without article id")
		}
		if dimension > 0 && len(r.Vector) != dimension {
			return types.NewConfiguration("embedding.dimension", "record %s has dimension %d, collection has %d", r.ArticleID, len(r.Vector), dimension)
		}
	}
	return nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// rank sorts by descending score, breaking ties by id, and keeps k.
func rank(matches []types.Match, k int) []types.Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
