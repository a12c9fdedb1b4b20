package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const embeddingDim = 64

// HashEmbedder is a deterministic, dependency-free fallback embedder: it
// hashes each token into one of embeddingDim buckets and L2-normalizes
// the result. It exists so the retrieval store has a usable default
// without requiring an external embedding API; production deployments
// are expected to supply a real Embedder (e.g. backed by the configured
// LLM provider's embedding endpoint).
type HashEmbedder struct{}

func NewHashEmbedder() HashEmbedder { return HashEmbedder{} }

func (HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, embeddingDim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		bucket := int(h.Sum32()) % embeddingDim
		if bucket < 0 {
			bucket += embeddingDim
		}
		vec[bucket]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}
