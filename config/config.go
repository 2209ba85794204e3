package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"newsindex/types"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModePolling  = "polling"
	ModeRecovery = "recovery"

	ProviderNewsAPI  = "newsapi"
	ProviderNewsData = "newsdata"
	ProviderRSS      = "rss"

	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendQdrant   = "qdrant"
	BackendChroma   = "chroma"
	BackendPGVector = "pgvector"

	EmbedderCohere = "cohere"
	EmbedderOpenAI = "openai"
	EmbedderHash   = "hash"
)

// Config is built once at startup and passed to every constructor.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	Topic       string            `yaml:"topic"`
	Partitions  []PartitionConfig `yaml:"partitions"`
	Fetch       FetchConfig       `yaml:"fetch"`
	NewsAPI     ProviderConfig    `yaml:"newsapi"`
	NewsData    ProviderConfig    `yaml:"newsdata"`
	RSS         RSSConfig         `yaml:"rss"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Redis       RedisConfig       `yaml:"redis"`
	Search      SearchConfig      `yaml:"search"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// PartitionConfig describes one independently checkpointed fetch stream.
type PartitionConfig struct {
	ID       string        `yaml:"id"`
	Provider string        `yaml:"provider"`
	Mode     string        `yaml:"mode"`
	Query    string        `yaml:"query"`
	Feed     string        `yaml:"feed"`
	Interval time.Duration `yaml:"interval"`
}

// FetchConfig holds the retry policy and defaults shared by all partitions.
type FetchConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	Lookback       time.Duration `yaml:"lookback"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
}

type ProviderConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	PageSize      int     `yaml:"page_size"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Language      string  `yaml:"language"`
}

type RSSConfig struct {
	MaxItems       int           `yaml:"max_items"`
	Extract        bool          `yaml:"extract"`
	ExtractWorkers int           `yaml:"extract_workers"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
}

type EmbeddingConfig struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	Dimension      int           `yaml:"dimension"`
	MaxInputTokens int           `yaml:"max_input_tokens"`
	BatchSize      int           `yaml:"batch_size"`
	Concurrency    int           `yaml:"concurrency"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

type VectorStoreConfig struct {
	Backend    string         `yaml:"backend"`
	Collection string         `yaml:"collection"`
	Timeout    time.Duration  `yaml:"timeout"`
	Qdrant     QdrantConfig   `yaml:"qdrant"`
	Chroma     ChromaConfig   `yaml:"chroma"`
	PGVector   PGVectorConfig `yaml:"pgvector"`
}

type QdrantConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type ChromaConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Tenant   string `yaml:"tenant"`
	Database string `yaml:"database"`
}

type PGVectorConfig struct {
	DSN      string `yaml:"dsn"`
	Table    string `yaml:"table"`
	MaxConns int    `yaml:"max_conns"`
}

type IndexerConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	Linger         time.Duration `yaml:"linger"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type DedupConfig struct {
	Backend       string        `yaml:"backend"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

type CheckpointConfig struct {
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SearchConfig struct {
	DefaultK int           `yaml:"default_k"`
	MaxK     int           `yaml:"max_k"`
	Timeout  time.Duration `yaml:"timeout"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	IndexedTopic string   `yaml:"indexed_topic"`
	ReplayTopic  string   `yaml:"replay_topic"`
	GroupID      string   `yaml:"group_id"`
}

type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Load reads .env (if present), the YAML file at path (if non-empty), then
// environment overrides, then defaults, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &types.ConfigurationError{Field: "path", Err: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &types.ConfigurationError{Field: "path", Err: fmt.Errorf("parse %s: %w", path, err)}
		}
	}

	applyEnv(cfg)
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.NewsAPI.APIKey, "NEWSAPI_KEY")
	setString(&cfg.NewsData.APIKey, "NEWSDATA_KEY")
	setString(&cfg.Topic, "NEWS_TOPIC")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASS")
	setString(&cfg.VectorStore.Qdrant.URL, "QDRANT_URL")
	setString(&cfg.VectorStore.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&cfg.VectorStore.PGVector.DSN, "DATABASE_URL")
	setString(&cfg.Archive.Bucket, "S3_BUCKET")
	setString(&cfg.Archive.Region, "S3_REGION")
	setString(&cfg.Archive.Prefix, "S3_PREFIX")
	setString(&cfg.Archive.Endpoint, "S3_ENDPOINT")

	switch strings.ToLower(cfg.Embedding.Provider) {
	case EmbedderCohere:
		setString(&cfg.Embedding.APIKey, "COHERE_API_KEY")
	case EmbedderOpenAI:
		setString(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimension = d
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Topic == "" {
		cfg.Topic = "artificial intelligence"
	}

	if cfg.Fetch.PollInterval == 0 {
		cfg.Fetch.PollInterval = 5 * time.Second
	}
	if cfg.Fetch.Lookback == 0 {
		cfg.Fetch.Lookback = 24 * time.Hour
	}
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = 5
	}
	if cfg.Fetch.InitialBackoff == 0 {
		cfg.Fetch.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Fetch.MaxBackoff == 0 {
		cfg.Fetch.MaxBackoff = 30 * time.Second
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 15 * time.Second
	}

	if cfg.NewsAPI.BaseURL == "" {
		cfg.NewsAPI.BaseURL = "https://newsapi.org"
	}
	if cfg.NewsData.BaseURL == "" {
		cfg.NewsData.BaseURL = "https://newsdata.io"
	}
	for _, p := range []*ProviderConfig{&cfg.NewsAPI, &cfg.NewsData} {
		if p.PageSize == 0 {
			p.PageSize = 20
		}
		if p.RatePerSecond == 0 {
			p.RatePerSecond = 1
		}
		if p.Language == "" {
			p.Language = "en"
		}
	}
	if cfg.RSS.MaxItems == 0 {
		cfg.RSS.MaxItems = 50
	}
	if cfg.RSS.ExtractWorkers == 0 {
		cfg.RSS.ExtractWorkers = 5
	}
	if cfg.RSS.ExtractTimeout == 0 {
		cfg.RSS.ExtractTimeout = 30 * time.Second
	}

	// With nothing configured, index the topic from every keyed provider.
	if len(cfg.Partitions) == 0 {
		if cfg.NewsAPI.APIKey != "" {
			cfg.Partitions = append(cfg.Partitions, PartitionConfig{ID: "newsapi", Provider: ProviderNewsAPI})
		}
		if cfg.NewsData.APIKey != "" {
			cfg.Partitions = append(cfg.Partitions, PartitionConfig{ID: "newsdata", Provider: ProviderNewsData})
		}
	}
	for i := range cfg.Partitions {
		p := &cfg.Partitions[i]
		if p.Mode == "" {
			p.Mode = ModePolling
		}
		if p.Query == "" {
			p.Query = cfg.Topic
		}
		if p.Interval == 0 {
			p.Interval = cfg.Fetch.PollInterval
		}
		if p.ID == "" {
			p.ID = p.Provider
			if p.Feed != "" {
				p.ID = p.Provider + ":" + p.Feed
			}
		}
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = EmbedderHash
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case EmbedderCohere:
			cfg.Embedding.Model = "embed-english-light-v3.0"
		case EmbedderOpenAI:
			cfg.Embedding.Model = "text-embedding-3-small"
		default:
			cfg.Embedding.Model = "feature-hash-v1"
		}
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}
	if cfg.Embedding.MaxInputTokens == 0 {
		cfg.Embedding.MaxInputTokens = 256
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 2
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}

	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = BackendMemory
		if cfg.VectorStore.Qdrant.URL != "" {
			cfg.VectorStore.Backend = BackendQdrant
		}
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "news"
	}
	if cfg.VectorStore.Timeout == 0 {
		cfg.VectorStore.Timeout = 10 * time.Second
	}
	if cfg.VectorStore.Chroma.Host == "" {
		cfg.VectorStore.Chroma.Host = "localhost"
	}
	if cfg.VectorStore.Chroma.Port == 0 {
		cfg.VectorStore.Chroma.Port = 8000
	}
	if cfg.VectorStore.Chroma.Tenant == "" {
		cfg.VectorStore.Chroma.Tenant = "default_tenant"
	}
	if cfg.VectorStore.Chroma.Database == "" {
		cfg.VectorStore.Chroma.Database = "default_database"
	}
	if cfg.VectorStore.PGVector.Table == "" {
		cfg.VectorStore.PGVector.Table = "news_embeddings"
	}
	if cfg.VectorStore.PGVector.MaxConns == 0 {
		cfg.VectorStore.PGVector.MaxConns = 10
	}

	if cfg.Indexer.BatchSize == 0 {
		cfg.Indexer.BatchSize = 64
	}
	if cfg.Indexer.Linger == 0 {
		cfg.Indexer.Linger = 200 * time.Millisecond
	}
	if cfg.Indexer.MaxAttempts == 0 {
		cfg.Indexer.MaxAttempts = 5
	}
	if cfg.Indexer.InitialBackoff == 0 {
		cfg.Indexer.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Indexer.MaxBackoff == 0 {
		cfg.Indexer.MaxBackoff = 20 * time.Second
	}

	if cfg.Dedup.Backend == "" {
		cfg.Dedup.Backend = BackendMemory
		if cfg.Redis.Addr != "" {
			cfg.Dedup.Backend = BackendRedis
		}
	}
	if cfg.Dedup.Retention == 0 {
		cfg.Dedup.Retention = 30 * 24 * time.Hour
	}
	if cfg.Dedup.PruneSchedule == "" {
		cfg.Dedup.PruneSchedule = "@every 1h"
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = BackendMemory
		if cfg.Redis.Addr != "" {
			cfg.Checkpoint.Backend = BackendRedis
		}
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "newsindex"
	}

	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 10 * time.Second
	}

	if cfg.Kafka.IndexedTopic == "" {
		cfg.Kafka.IndexedTopic = "newsindex.article-indexed"
	}
	if cfg.Kafka.ReplayTopic == "" {
		cfg.Kafka.ReplayTopic = "newsindex.replay"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "newsindex"
	}
	if cfg.Archive.Prefix != "" {
		cfg.Archive.Prefix = strings.Trim(cfg.Archive.Prefix, "/") + "/"
	}
}

// Validate reports the first problem as a *types.ConfigurationError.
func (c *Config) Validate() error {
	if len(c.Partitions) == 0 {
		return types.NewConfiguration("partitions", "no partitions configured (set NEWSAPI_KEY, NEWSDATA_KEY or list partitions)")
	}
	seen := make(map[string]bool, len(c.Partitions))
	for _, p := range c.Partitions {
		if seen[p.ID] {
			return types.NewConfiguration("partitions", "duplicate partition id %q", p.ID)
		}
		seen[p.ID] = true

		switch p.Provider {
		case ProviderNewsAPI:
			if c.NewsAPI.APIKey == "" {
				return types.NewConfiguration("newsapi.api_key", "partition %q needs NEWSAPI_KEY", p.ID)
			}
		case ProviderNewsData:
			if c.NewsData.APIKey == "" {
				return types.NewConfiguration("newsdata.api_key", "partition %q needs NEWSDATA_KEY", p.ID)
			}
		case ProviderRSS:
			if p.Feed == "" {
				return types.NewConfiguration("partitions.feed", "partition %q needs a feed preset or URL", p.ID)
			}
		default:
			return types.NewConfiguration("partitions.provider", "unknown provider %q", p.Provider)
		}

		if p.Mode != ModePolling && p.Mode != ModeRecovery {
			return types.NewConfiguration("partitions.mode", "unknown mode %q", p.Mode)
		}
		if p.Interval <= 0 {
			return types.NewConfiguration("partitions.interval", "partition %q interval must be positive", p.ID)
		}
	}

	switch c.Embedding.Provider {
	case EmbedderCohere, EmbedderOpenAI:
		if c.Embedding.APIKey == "" {
			return types.NewConfiguration("embedding.api_key", "%s embedder needs an api key", c.Embedding.Provider)
		}
	case EmbedderHash:
	default:
		return types.NewConfiguration("embedding.provider", "unknown embedder %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return types.NewConfiguration("embedding.dimension", "dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.MaxInputTokens <= 0 {
		return types.NewConfiguration("embedding.max_input_tokens", "must be positive")
	}

	switch c.VectorStore.Backend {
	case BackendMemory, BackendChroma:
	case BackendQdrant:
		if c.VectorStore.Qdrant.URL == "" {
			return types.NewConfiguration("vector_store.qdrant.url", "QDRANT_URL is required for the qdrant backend")
		}
	case BackendPGVector:
		if c.VectorStore.PGVector.DSN == "" {
			return types.NewConfiguration("vector_store.pgvector.dsn", "DATABASE_URL is required for the pgvector backend")
		}
	default:
		return types.NewConfiguration("vector_store.backend", "unknown backend %q", c.VectorStore.Backend)
	}

	for field, backend := range map[string]string{"dedup.backend": c.Dedup.Backend, "checkpoint.backend": c.Checkpoint.Backend} {
		if backend != BackendMemory && backend != BackendRedis {
			return types.NewConfiguration(field, "unknown backend %q", backend)
		}
	}

	if c.Search.DefaultK <= 0 || c.Search.MaxK < c.Search.DefaultK {
		return types.NewConfiguration("search", "need 0 < default_k <= max_k, got %d/%d", c.Search.DefaultK, c.Search.MaxK)
	}
	if c.Indexer.BatchSize <= 0 || c.Indexer.MaxAttempts <= 0 {
		return types.NewConfiguration("indexer", "batch_size and max_attempts must be positive")
	}
	return nil
}

// Partition looks up a partition by id.
func (c *Config) Partition(id string) (PartitionConfig, error) {
	for _, p := range c.Partitions {
		if p.ID == id {
			return p, nil
		}
	}
	return PartitionConfig{}, errors.New("unknown partition " + id)
}
