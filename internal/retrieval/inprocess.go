package retrieval

import (
	"context"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// InProcess is the default vector backend: an in-memory slice per
// collection, scored with gonum's cosine-similarity helper on search
// ("no external dependency" default).
type InProcess struct {
	mu sync.RWMutex
	collections map[string]map[string]entry
}

type entry struct {
	vector []float64
	payload nlquery.PastQuery
}

func NewInProcess() *InProcess {
	return &InProcess{collections: make(map[string]map[string]entry)}
}

func (p *InProcess) Upsert(ctx context.Context, collection, id string, vector []float64, payload nlquery.PastQuery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[collection]
	if !ok {
		c = make(map[string]entry)
		p.collections[collection] = c
	}
	c[id] = entry{vector: vector, payload: payload}
	return nil
}

func (p *InProcess) Search(ctx context.Context, collection string, vector []float64, k int) ([]ScoredRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.collections[collection]
	if !ok {
		return nil, nil
	}
	var scored []ScoredRecord
	for _, e := range c {
		scored = append(scored, ScoredRecord{Record: e.payload, Similarity: cosineSimilarity(vector, e.vector)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (p *InProcess) Delete(ctx context.Context, collection, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.collections[collection]; ok {
		delete(c, id)
	}
	return nil
}

func (p *InProcess) Count(ctx context.Context, collection string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.collections[collection]), nil
}

func (p *InProcess) Clear(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, collection)
	return nil
}

// cosineSimilarity uses gonum/floats for the dot product and L2 norms.
func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 || n == 0 {
		return 0
	}
	dot := floats.Dot(a[:n], b[:n])
	return dot / (normA * normB)
}
