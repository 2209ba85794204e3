package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	DefaultTitle  = "N/A"
	DefaultSource = "Unknown"
)

// Article is the canonical record every provider normalizes into.
type Article struct {
	ID          string    `json:"id"`
	NativeID    string    `json:"native_id,omitempty"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	SourceName  string    `json:"source_name"`
	PublishedAt time.Time `json:"published_at"`
	FetchedAt   time.Time `json:"fetched_at"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	Author      string    `json:"author,omitempty"`
}

// RawItem is what a provider adapter hands back before cleaning.
// Description holds the short summary, Content the longest text the provider had.
type RawItem struct {
	NativeID    string
	Title       string
	Description string
	Content     string
	SourceName  string
	URL         string
	ImageURL    string
	Author      string
	PublishedAt *time.Time
}

// Metadata is the denormalized subset of an Article stored next to its vector.
type Metadata struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	SourceName  string    `json:"source_name"`
}

// MetadataOf projects the display fields out of an article.
func MetadataOf(a *Article) Metadata {
	return Metadata{
		Title:       a.Title,
		URL:         a.URL,
		ImageURL:    a.ImageURL,
		PublishedAt: a.PublishedAt,
		SourceName:  a.SourceName,
	}
}

// EmbeddingRecord pairs one article with its vector.
type EmbeddingRecord struct {
	ArticleID string    `json:"article_id"`
	Vector    []float32 `json:"vector"`
	Metadata  Metadata  `json:"metadata"`
}

// Match is a single hit returned by a vector store, highest score first.
type Match struct {
	ID       string
	Score    float32
	Vector   []float32
	Metadata Metadata
}

// SearchResult is what the query path returns to callers.
type SearchResult struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	SourceName  string    `json:"source_name"`
	Score       float32   `json:"score"`
}

// GenerateID returns a stable id for (source, native id). Re-fetching the
// same item always yields the same id.
func GenerateID(sourceName, nativeID string) string {
	hash := sha256.Sum256([]byte(sourceName + "\x00" + nativeID))
	return hex.EncodeToString(hash[:])[:32]
}
