// Package app builds every component from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsindex/api"
	"newsindex/archive"
	"newsindex/checkpoint"
	"newsindex/config"
	"newsindex/deduplication"
	"newsindex/embedding"
	"newsindex/events"
	"newsindex/indexer"
	"newsindex/logger"
	"newsindex/orchestrator"
	"newsindex/partition"
	"newsindex/providers"
	"newsindex/rssfeeds"
	"newsindex/search"
	"newsindex/types"
	"newsindex/vectorstore"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// App owns the shared clients and closes them on Close.
type App struct {
	cfg *config.Config
	log *slog.Logger

	mu      sync.Mutex
	redis   redis.UniversalClient
	closers []func() error
}

func New(cfg *config.Config, log *slog.Logger) *App {
	return &App{cfg: cfg, log: logger.OrDefault(log)}
}

// Ingestion is everything `run` needs.
type Ingestion struct {
	Orchestrator *orchestrator.Orchestrator
	Manager      *partition.Manager
	Filter       *deduplication.Filter
	Search       *search.Service
}

// Redis returns the shared client, connecting on first use.
func (a *App) Redis(ctx context.Context) (redis.UniversalClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.redis != nil {
		return a.redis, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *App) CheckpointStore(ctx context.Context) (checkpoint.Store, error) {
	if a.cfg.Checkpoint.Backend != config.BackendRedis {
		a.log.Warn("checkpoints are kept in memory and lost on restart")
		return checkpoint.NewMemoryStore(), nil
	}
	client, err := a.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewRedisStore(client, a.cfg.Redis.KeyPrefix), nil
}

func (a *App) DedupStore(ctx context.Context) (deduplication.Store, error) {
	if a.cfg.Dedup.Backend != config.BackendRedis {
		return deduplication.NewMemoryStore(), nil
	}
	client, err := a.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return deduplication.NewRedisStore(client, a.cfg.Redis.KeyPrefix), nil
}

// Embedder builds the configured embedder and checks that it produces
// vectors of the configured dimension.
func (a *App) Embedder(ctx context.Context) (*embedding.Service, error) {
	ec := a.cfg.Embedding
	var provider embedding.Provider
	switch ec.Provider {
	case config.EmbedderCohere:
		provider = embedding.NewCohereProvider(embedding.CohereConfig{
			APIKey:  ec.APIKey,
			Model:   ec.Model,
			BaseURL: ec.BaseURL,
			Timeout: ec.Timeout,
		})
	case config.EmbedderOpenAI:
		provider = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:    ec.APIKey,
			Model:     ec.Model,
			BaseURL:   ec.BaseURL,
			Dimension: ec.Dimension,
			Timeout:   ec.Timeout,
		})
	case config.EmbedderHash:
		provider = embedding.NewHashProvider(ec.Dimension)
	default:
		return nil, types.NewConfiguration("embedding.provider", "unknown embedder %q", ec.Provider)
	}

	svc := embedding.NewService(provider, embedding.Config{
		Dimension:      ec.Dimension,
		MaxInputTokens: ec.MaxInputTokens,
		BatchSize:      ec.BatchSize,
		Concurrency:    ec.Concurrency,
	}, a.log)
	if err := svc.Verify(ctx); err != nil {
		return nil, err
	}
	a.log.Info("embedder ready", "provider", ec.Provider, "model", svc.ModelName(), "dimension", svc.Dimension())
	return svc, nil
}

// VectorStore connects the configured backend and makes sure the collection
// exists with the configured dimension.
func (a *App) VectorStore(ctx context.Context) (vectorstore.Store, error) {
	vc := a.cfg.VectorStore
	var store vectorstore.Store
	switch vc.Backend {
	case config.BackendMemory:
		a.log.Warn("vector index is kept in memory and lost on restart")
		store = vectorstore.NewMemory()
	case config.BackendQdrant:
		store = vectorstore.NewQdrant(vectorstore.QdrantConfig{
			URL:        vc.Qdrant.URL,
			APIKey:     vc.Qdrant.APIKey,
			Collection: vc.Collection,
			Timeout:    vc.Timeout,
		})
	case config.BackendChroma:
		store = vectorstore.NewChroma(vectorstore.ChromaConfig{
			Host:           vc.Chroma.Host,
			Port:           vc.Chroma.Port,
			Tenant:         vc.Chroma.Tenant,
			Database:       vc.Chroma.Database,
			CollectionName: vc.Collection,
			Timeout:        vc.Timeout,
		}, a.log)
	case config.BackendPGVector:
		pool, err := vectorstore.NewPostgresPool(ctx, vectorstore.PGVectorConfig{
			DSN:      vc.PGVector.DSN,
			Table:    vc.PGVector.Table,
			MaxConns: vc.PGVector.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		pg, err := vectorstore.NewPGVector(pool, vc.PGVector.Table)
		if err != nil {
			pool.Close()
			return nil, err
		}
		store = pg
	default:
		return nil, types.NewConfiguration("vector_store.backend", "unknown backend %q", vc.Backend)
	}

	if err := store.EnsureCollection(ctx, a.cfg.Embedding.Dimension); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("prepare %s collection %q: %w", vc.Backend, vc.Collection, err)
	}
	a.mu.Lock()
	a.closers = append(a.closers, store.Close)
	a.mu.Unlock()
	return store, nil
}

// Query builds the query path alone, for processes that do not ingest.
func (a *App) Query(ctx context.Context) (*search.Service, error) {
	emb, err := a.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.VectorStore(ctx)
	if err != nil {
		return nil, err
	}
	return a.searchService(emb, store), nil
}

func (a *App) searchService(emb embedding.Embedder, store vectorstore.Store) *search.Service {
	return search.NewService(emb, store, search.Config{
		DefaultK: a.cfg.Search.DefaultK,
		MaxK:     a.cfg.Search.MaxK,
		Timeout:  a.cfg.Search.Timeout,
	}, a.log)
}

// Provider builds the adapter behind one configured partition.
func (a *App) Provider(pc config.PartitionConfig) (providers.Provider, error) {
	fc := a.cfg.Fetch
	switch pc.Provider {
	case config.ProviderNewsAPI:
		p := a.cfg.NewsAPI
		return providers.NewNewsAPI(providers.NewsAPIConfig{
			BaseURL:       p.BaseURL,
			APIKey:        p.APIKey,
			Query:         pc.Query,
			Language:      p.Language,
			PageSize:      p.PageSize,
			RatePerSecond: p.RatePerSecond,
			Lookback:      fc.Lookback,
			Timeout:       fc.Timeout,
		}, nil), nil
	case config.ProviderNewsData:
		p := a.cfg.NewsData
		return providers.NewNewsData(providers.NewsDataConfig{
			BaseURL:       p.BaseURL,
			APIKey:        p.APIKey,
			Query:         pc.Query,
			Language:      p.Language,
			PageSize:      p.PageSize,
			RatePerSecond: p.RatePerSecond,
			Lookback:      fc.Lookback,
			Timeout:       fc.Timeout,
		}, nil), nil
	case config.ProviderRSS:
		rc := a.cfg.RSS
		return rssfeeds.NewFeed(rssfeeds.Config{
			Feed:           pc.Feed,
			MaxItems:       rc.MaxItems,
			Lookback:       fc.Lookback,
			Timeout:        fc.Timeout,
			Extract:        rc.Extract,
			ExtractWorkers: rc.ExtractWorkers,
			ExtractTimeout: rc.ExtractTimeout,
		}, nil, a.log.With("partition", pc.ID)), nil
	default:
		return nil, types.NewConfiguration("partitions.provider", "unknown provider %q", pc.Provider)
	}
}

func (a *App) partitionSpecs() ([]partition.Spec, error) {
	specs := make([]partition.Spec, 0, len(a.cfg.Partitions))
	for _, pc := range a.cfg.Partitions {
		p, err := a.Provider(pc)
		if err != nil {
			return nil, err
		}
		specs = append(specs, partition.Spec{
			ID:       pc.ID,
			Provider: p,
			Mode:     partition.Mode(pc.Mode),
			Interval: pc.Interval,
		})
	}
	return specs, nil
}

// Sinks returns the side outputs that are configured: the Kafka publisher
// when brokers are set, the S3 archive when a bucket is set.
func (a *App) Sinks(ctx context.Context) ([]orchestrator.Sink, error) {
	var sinks []orchestrator.Sink
	if len(a.cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewPublisher(events.PublisherConfig{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.IndexedTopic,
		}, a.log)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.closers = append(a.closers, pub.Close)
		a.mu.Unlock()
		sinks = append(sinks, pub)
	}

	ac := a.cfg.Archive
	if ac.Bucket != "" {
		s3, err := archive.NewS3(ctx, archive.S3Config{
			Bucket:       ac.Bucket,
			Region:       ac.Region,
			Profile:      ac.Profile,
			Endpoint:     ac.Endpoint,
			UsePathStyle: ac.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		if err := s3.CheckBucket(ctx); err != nil {
			return nil, err
		}
		sinks = append(sinks, archive.NewArchiver(s3, ac.Prefix, a.log))
	}
	return sinks, nil
}

// Ingestion wires the full pipeline. Extra runners (an HTTP server) run
// alongside the partitions and stop with them.
func (a *App) Ingestion(ctx context.Context, extra ...orchestrator.Runner) (*Ingestion, error) {
	emb, err := a.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.VectorStore(ctx)
	if err != nil {
		return nil, err
	}
	checkpoints, err := a.CheckpointStore(ctx)
	if err != nil {
		return nil, err
	}
	dedupStore, err := a.DedupStore(ctx)
	if err != nil {
		return nil, err
	}
	sinks, err := a.Sinks(ctx)
	if err != nil {
		return nil, err
	}

	filter := deduplication.NewFilter(dedupStore, deduplication.FilterConfig{}, a.log)
	janitor, err := deduplication.NewJanitor(filter, a.cfg.Dedup.PruneSchedule, a.cfg.Dedup.Retention, a.log)
	if err != nil {
		return nil, types.NewConfiguration("dedup.prune_schedule", "%v", err)
	}

	ic := a.cfg.Indexer
	writer := indexer.NewWriter(store, indexer.Config{
		BatchSize:      ic.BatchSize,
		Linger:         ic.Linger,
		MaxAttempts:    ic.MaxAttempts,
		InitialBackoff: ic.InitialBackoff,
		MaxBackoff:     ic.MaxBackoff,
	}, a.log)
	pipeline := orchestrator.NewPipeline(filter, emb, writer, a.log, orchestrator.WithSinks(sinks...))

	specs, err := a.partitionSpecs()
	if err != nil {
		return nil, err
	}
	fc := a.cfg.Fetch
	manager, err := partition.NewManager(specs, checkpoints, pipeline, partition.Config{
		MaxAttempts:    fc.MaxAttempts,
		InitialBackoff: fc.InitialBackoff,
		MaxBackoff:     fc.MaxBackoff,
		FetchTimeout:   fc.Timeout,
	}, a.log)
	if err != nil {
		return nil, err
	}

	if len(a.cfg.Kafka.Brokers) > 0 {
		consumer, err := events.NewConsumer(events.ConsumerConfig{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.ReplayTopic,
			GroupID: a.cfg.Kafka.GroupID,
			Handler: events.NewReplayHandler(manager, a.log),
		}, a.log)
		if err != nil {
			return nil, fmt.Errorf("create replay consumer: %w", err)
		}
		extra = append(extra, consumer)
	}

	return &Ingestion{
		Orchestrator: orchestrator.New(manager, writer, janitor, a.log, extra...),
		Manager:      manager,
		Filter:       filter,
		Search:       a.searchService(emb, store),
	}, nil
}

// Router serves search and, when ing is non-nil, the operator routes.
func (a *App) Router(srch *search.Service, ing *Ingestion) *gin.Engine {
	deps := api.Dependencies{Retention: a.cfg.Dedup.Retention}
	if srch != nil {
		deps.Search = srch
	}
	if ing != nil {
		deps.Partitions = ing.Manager
		deps.Dedup = ing.Filter
	}
	return api.NewRouter(deps, a.log)
}

// Replay resets a partition's stored checkpoint without running it. An empty
// cursor means the provider's initial cursor.
func (a *App) Replay(ctx context.Context, partitionID, cursor string) (string, error) {
	pc, err := a.cfg.Partition(partitionID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", partition.ErrUnknownPartition, partitionID)
	}
	if cursor == "" {
		p, err := a.Provider(pc)
		if err != nil {
			return "", err
		}
		cursor = p.InitialCursor(time.Now())
	}
	store, err := a.CheckpointStore(ctx)
	if err != nil {
		return "", err
	}
	if err := partition.ResetCheckpoint(ctx, store, partitionID, cursor); err != nil {
		return "", err
	}
	return cursor, nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.redis = nil
	return errors.Join(errs...)
}
