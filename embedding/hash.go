package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashProvider is a local feature-hashing model: every token and adjacent
// token pair is hashed into one of Dimension buckets with a hash-derived
// sign, and the result is L2-normalized. It needs no network and is fully
// deterministic, which makes it the default for tests and offline runs.
type HashProvider struct {
	dimension int
}

func NewHashProvider(dimension int) *HashProvider {
	return &HashProvider{dimension: dimension}
}

func (h *HashProvider) ModelName() string { return "feature-hash-v1" }

func (h *HashProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashProvider) embed(text string) []float32 {
	vec := make([]float32, h.dimension)
	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (h *HashProvider) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
