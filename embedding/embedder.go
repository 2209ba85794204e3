// Package embedding turns cleaned text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"newsindex/logger"
	"newsindex/types"

	"golang.org/x/sync/errgroup"
)

// Provider is a remote or local text->vector model. It returns one vector
// per input, in input order.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// Embedder is what the pipeline and the query path depend on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

type Config struct {
	Dimension int
	// MaxInputTokens truncates every input to its first N whitespace tokens.
	MaxInputTokens int
	BatchSize      int
	Concurrency    int
}

// Service wraps a Provider with truncation, batching and dimension checks.
type Service struct {
	provider Provider
	cfg      Config
	log      *slog.Logger
}

func NewService(provider Provider, cfg Config, log *slog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Service{provider: provider, cfg: cfg, log: logger.OrDefault(log)}
}

func (s *Service) Dimension() int    { return s.cfg.Dimension }
func (s *Service) ModelName() string { return s.provider.ModelName() }

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in chunks of BatchSize, running up to Concurrency
// chunks at once. The result has the same length and order as texts.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = Truncate(t, s.cfg.MaxInputTokens)
		if inputs[i] == "" {
			return nil, types.NewEmbedding("embed", fmt.Errorf("input %d: %w", i, types.ErrEmptyInput))
		}
	}

	out := make([][]float32, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(inputs); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(inputs))
		g.Go(func() error {
			vecs, err := s.provider.EmbedTexts(gctx, inputs[start:end])
			if err != nil {
				return wrap(err)
			}
			if len(vecs) != end-start {
				return types.NewEmbedding("embed", fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), end-start))
			}
			for i, v := range vecs {
				if len(v) != s.cfg.Dimension {
					return types.NewEmbedding("embed", fmt.Errorf("vector dimension %d, want %d", len(v), s.cfg.Dimension))
				}
				out[start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify embeds a probe string and checks the model's dimension against the
// configured one. Run it once at startup.
func (s *Service) Verify(ctx context.Context) error {
	vecs, err := s.provider.EmbedTexts(ctx, []string{"dimension probe"})
	if err != nil {
		return fmt.Errorf("verify embedder: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != s.cfg.Dimension {
		got := 0
		if len(vecs) == 1 {
			got = len(vecs[0])
		}
		return types.NewConfiguration("embedding.dimension", "model %s produces %d dimensions, configured %d", s.ModelName(), got, s.cfg.Dimension)
	}
	s.log.Info("embedder ready", "model", s.ModelName(), "dimension", s.cfg.Dimension)
	return nil
}

// Truncate keeps the first maxTokens whitespace-separated tokens. Zero or
// negative keeps everything.
func Truncate(text string, maxTokens int) string {
	fields := strings.Fields(text)
	if maxTokens > 0 && len(fields) > maxTokens {
		fields = fields[:maxTokens]
	}
	return strings.Join(fields, " ")
}

func wrap(err error) error {
	var embErr *types.EmbeddingError
	if errors.As(err, &embErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return types.NewEmbedding("embed", err)
}
