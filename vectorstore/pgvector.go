package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"newsindex/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// DB is the subset of *pgxpool.Pool the pgvector store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type PGVectorConfig struct {
	DSN      string
	Table    string
	MaxConns int
}

// PGVector stores records in a Postgres table with a vector column and
// ranks by cosine distance.
type PGVector struct {
	db        DB
	table     string
	dimension int
	psql      sq.StatementBuilderType
}

var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresPool opens a pool with pgvector types registered on every
// connection.
func NewPostgresPool(ctx context.Context, cfg PGVectorConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	} else {
		config.MaxConns = 10
	}
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, types.NewIndexUnavailable("postgres ping", err)
	}
	return pool, nil
}

func NewPGVector(db DB, table string) (*PGVector, error) {
	if table == "" {
		table = "news_embeddings"
	}
	if !identifier.MatchString(table) {
		return nil, types.NewConfiguration("vector_store.pgvector.table", "invalid table name %q", table)
	}
	return &PGVector{
		db:    db,
		table: table,
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (p *PGVector) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	article_id   TEXT PRIMARY KEY,
	embedding    vector(%d) NOT NULL,
	title        TEXT NOT NULL,
	url          TEXT NOT NULL,
	image_url    TEXT NOT NULL DEFAULT '',
	source_name  TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
)`, p.table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, p.table, p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return classifyPG("pgvector ensure collection", err)
		}
	}

	// atttypmod of a vector column is its declared dimension.
	var existing int32
	err := p.db.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		p.table,
	).Scan(&existing)
	if err != nil {
		return classifyPG("pgvector ensure collection", err)
	}
	if int(existing) != dimension {
		return types.NewConfiguration("embedding.dimension", "table %s has dimension %d, configured %d", p.table, existing, dimension)
	}
	p.dimension = dimension
	return nil
}

func (p *PGVector) Upsert(ctx context.Context, records []types.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkRecords(records, p.dimension); err != nil {
		return err
	}

	now := time.Now().UTC()
	q := p.psql.Insert(p.table).
		Columns("article_id", "embedding", "title", "url", "image_url", "source_name", "published_at", "updated_at")
	for _, r := range records {
		q = q.Values(
			r.ArticleID,
			pgvector.NewVector(r.Vector),
			r.Metadata.Title,
			r.Metadata.URL,
			r.Metadata.ImageURL,
			r.Metadata.SourceName,
			r.Metadata.PublishedAt,
			now,
		)
	}
	q = q.Suffix(`ON CONFLICT (article_id) DO UPDATE SET
	embedding = EXCLUDED.embedding,
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	image_url = EXCLUDED.image_url,
	source_name = EXCLUDED.source_name,
	published_at = EXCLUDED.published_at,
	updated_at = EXCLUDED.updated_at`)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := p.db.Exec(ctx, sql, args...); err != nil {
		return classifyPG("pgvector upsert", err)
	}
	return nil
}

func (p *PGVector) Search(ctx context.Context, vector []float32, k int) ([]types.Match, error) {
	if k <= 0 {
		return []types.Match{}, nil
	}
	v := pgvector.NewVector(vector)
	sql, args, err := p.psql.
		Select("article_id", "embedding", "title", "url", "image_url", "source_name", "published_at").
		Column("1 - (embedding <=> ?) AS score", v).
		From(p.table).
		OrderByClause("embedding <=> ?", v).
		Limit(uint64(k)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search: %w", err)
	}

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyPG("pgvector search", err)
	}
	defer rows.Close()

	matches := make([]types.Match, 0, k)
	for rows.Next() {
		var (
			m         types.Match
			embedding pgvector.Vector
			score     float64
		)
		if err := rows.Scan(&m.ID, &embedding, &m.Metadata.Title, &m.Metadata.URL, &m.Metadata.ImageURL, &m.Metadata.SourceName, &m.Metadata.PublishedAt, &score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Vector = embedding.Slice()
		m.Score = float32(score)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG("pgvector search", err)
	}
	return rank(matches, k), nil
}

func (p *PGVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sql, args, err := p.psql.Delete(p.table).Where(sq.Eq{"article_id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := p.db.Exec(ctx, sql, args...); err != nil {
		return classifyPG("pgvector delete", err)
	}
	return nil
}

func (p *PGVector) Close() error {
	p.db.Close()
	return nil
}

// classifyPG treats connection-level failures as IndexUnavailable and
// statement errors reported by the server as plain errors.
func classifyPG(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		// Class 08 is connection exception, 53 insufficient resources,
		// 57 operator intervention.
		switch pgErr.Code[:2] {
		case "08", "53", "57":
			return types.NewIndexUnavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return types.NewIndexUnavailable(op, err)
}
