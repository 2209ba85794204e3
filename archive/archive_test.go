package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"newsindex/types"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ObjectStore = (*S3)(nil)

type memObjects struct {
	objects map[string][]byte
	types   map[string]string
	failKey string
}

func (m *memObjects) Put(_ context.Context, key string, body io.Reader, contentType string) error {
	if key == m.failKey {
		return errors.New("access denied")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func newMem() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func article(id string, published time.Time) *types.Article {
	return &types.Article{ID: id, Title: "Story " + id, SourceName: "Wire", URL: "https://wire.example/" + id, PublishedAt: published}
}

func TestArchiverKeyLayout(t *testing.T) {
	a := NewArchiver(newMem(), "news/", nil)
	at := time.Date(2024, 3, 7, 23, 30, 0, 0, time.FixedZone("SGT", 8*3600))
	assert.Equal(t, "news/articles/2024/03/07/abc.json", a.Key(article("abc", at)))

	bare := NewArchiver(newMem(), "", nil)
	assert.Equal(t, "articles/2024/03/07/abc.json", bare.Key(article("abc", at)))
}

func TestArchiverDeliverWritesJSON(t *testing.T) {
	mem := newMem()
	a := NewArchiver(mem, "", nil)
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, a.Deliver(context.Background(), []*types.Article{article("a1", at), article("a2", at)}))
	require.Len(t, mem.objects, 2)

	var got types.Article
	require.NoError(t, json.Unmarshal(mem.objects["articles/2024/06/01/a1.json"], &got))
	assert.Equal(t, "Story a1", got.Title)
	assert.Equal(t, "application/json", mem.types["articles/2024/06/01/a1.json"])
}

func TestArchiverStopsOnFailure(t *testing.T) {
	mem := newMem()
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	mem.failKey = "articles/2024/06/01/a1.json"

	err := NewArchiver(mem, "", nil).Deliver(context.Background(), []*types.Article{article("a1", at), article("a2", at)})
	require.Error(t, err)
	assert.Empty(t, mem.objects)
}

func TestClassify(t *testing.T) {
	missing := &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"}
	err := classify("news", "put k", fmt.Errorf("operation error: %w", missing))
	assert.True(t, types.IsConfiguration(err))

	notFound := &smithy.GenericAPIError{Code: "NotFound"}
	assert.True(t, types.IsConfiguration(classify("news", "head bucket", notFound)))
	assert.False(t, types.IsConfiguration(classify("news", "get k", notFound)))

	other := classify("news", "put k", errors.New("timeout"))
	assert.False(t, types.IsConfiguration(other))
	assert.ErrorContains(t, other, "s3 put k")
}
