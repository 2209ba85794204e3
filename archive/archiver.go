// Package archive keeps a JSON copy of every committed article in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"

	"newsindex/logger"
	"newsindex/types"
)

// ObjectStore is the part of *S3 the archiver needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Archiver writes articles under {prefix}articles/{yyyy}/{mm}/{dd}/{id}.json,
// dated by publication time. Rewriting an article overwrites the same key.
type Archiver struct {
	store  ObjectStore
	prefix string
	log    *slog.Logger
}

func NewArchiver(store ObjectStore, prefix string, log *slog.Logger) *Archiver {
	return &Archiver{store: store, prefix: prefix, log: logger.OrDefault(log)}
}

func (a *Archiver) Name() string { return "s3" }

// Key returns the object key of an article.
func (a *Archiver) Key(article *types.Article) string {
	t := article.PublishedAt.UTC()
	return a.prefix + path.Join("articles",
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		article.ID+".json")
}

// Deliver stops at the first failed upload.
func (a *Archiver) Deliver(ctx context.Context, articles []*types.Article) error {
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := json.Marshal(article)
		if err != nil {
			return fmt.Errorf("encode article %s: %w", article.ID, err)
		}
		key := a.Key(article)
		if err := a.store.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
			return err
		}
		a.log.Debug("article archived", "article_id", article.ID, "key", key)
	}
	return nil
}
