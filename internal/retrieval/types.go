// Package retrieval implements C6: a vector index of past (question, SQL)
// pairs, searched by cosine similarity for few-shot examples. Cosine
// similarity is computed with gonum/floats.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// Embedder produces a fixed-dimension embedding for a piece of text. The
// embedding model is fixed for the lifetime of a collection;
// changing it requires Clear + re-ingest.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Backend is the vector-store contract: upsert, search, delete, count and
// clear. There is no operation that creates a collection explicitly.
type Backend interface {
	Upsert(ctx context.Context, collection, id string, vector []float64, payload nlquery.PastQuery) error
	Search(ctx context.Context, collection string, vector []float64, k int) ([]ScoredRecord, error)
	Delete(ctx context.Context, collection, id string) error
	Count(ctx context.Context, collection string) (int, error)
	Clear(ctx context.Context, collection string) error
}

// ScoredRecord is one backend search hit.
type ScoredRecord struct {
	Record nlquery.PastQuery
	Similarity float64
}

// RecordID derives the deterministic id a (user_query, sql_query,
// connection_id) tuple upserts under, so re-recording the
// same pair is an update, not a duplicate.
func RecordID(userQuery, sqlQuery, connectionID string) string {
	sum := sha256.Sum256([]byte(userQuery + "\x00" + sqlQuery + "\x00" + connectionID))
	return hex.EncodeToString(sum[:16])
}
