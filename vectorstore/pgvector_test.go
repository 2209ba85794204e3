package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsindex/types"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPGVector(t *testing.T) (*PGVector, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewPGVector(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestPGVectorEnsureCollection(t *testing.T) {
	store, mock := newMockPGVector(t)
	defer mock.Close()

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS news_embeddings").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS news_embeddings_embedding_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT atttypmod FROM pg_attribute").
		WithArgs("news_embeddings").
		WillReturnRows(pgxmock.NewRows([]string{"atttypmod"}).AddRow(int32(3)))

	require.NoError(t, store.EnsureCollection(context.Background(), 3))
	assert.Equal(t, 3, store.dimension)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorEnsureCollectionDimensionMismatch(t *testing.T) {
	store, mock := newMockPGVector(t)
	defer mock.Close()

	mock.ExpectExec("CREATE EXTENSION").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT atttypmod").
		WithArgs("news_embeddings").
		WillReturnRows(pgxmock.NewRows([]string{"atttypmod"}).AddRow(int32(768)))

	err := store.EnsureCollection(context.Background(), 384)
	assert.True(t, types.IsConfiguration(err))
}

func TestPGVectorUpsert(t *testing.T) {
	store, mock := newMockPGVector(t)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO news_embeddings .* ON CONFLICT \(article_id\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err := store.Upsert(context.Background(), []types.EmbeddingRecord{
		record("a", []float32{1, 0}, "alpha"),
		record("b", []float32{0, 1}, "beta"),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorSearch(t *testing.T) {
	store, mock := newMockPGVector(t)
	defer mock.Close()

	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"article_id", "embedding", "title", "url", "image_url", "source_name", "published_at", "score"}).
		AddRow("a", pgvector.NewVector([]float32{1, 0}), "alpha", "https://example.com/a", "", "Example", published, 0.98).
		AddRow("b", pgvector.NewVector([]float32{0.5, 0.5}), "beta", "https://example.com/b", "", "Example", published, 0.7)
	mock.ExpectQuery(`FROM news_embeddings ORDER BY embedding <=> \$2 LIMIT 2`).WillReturnRows(rows)

	matches, err := store.Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 0.98, matches[0].Score, 1e-6)
	assert.Equal(t, []float32{1, 0}, matches[0].Vector)
	assert.Equal(t, "alpha", matches[0].Metadata.Title)
	assert.Equal(t, published, matches[0].Metadata.PublishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorDelete(t *testing.T) {
	store, mock := newMockPGVector(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM news_embeddings WHERE article_id IN \(\$1,\$2\)`).
		WithArgs("a", "b").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, store.Delete(context.Background(), []string{"a", "b"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"network", errors.New("dial tcp: connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockPGVector(t)
			defer mock.Close()

			mock.ExpectExec("INSERT INTO news_embeddings").WillReturnError(tc.err)
			err := store.Upsert(context.Background(), []types.EmbeddingRecord{record("a", []float32{1}, "a")})
			require.Error(t, err)
			assert.Equal(t, tc.unavailable, types.IsIndexUnavailable(err))
		})
	}
}

func TestPGVectorRejectsBadTableName(t *testing.T) {
	_, err := NewPGVector(nil, "news; DROP TABLE x")
	assert.True(t, types.IsConfiguration(err))
}
