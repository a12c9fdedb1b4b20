package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

const defaultThreshold = 0.7

// Store is C6's public contract: record, search, bulk_import, clear.
type Store struct {
	mu sync.RWMutex
	backend Backend
	embedder Embedder
}

func NewStore(backend Backend, embedder Embedder) *Store {
	return &Store{backend: backend, embedder: embedder}
}

// SetBackend lets C9 swap the active vector backend at runtime (e.g.
// in-process -> elasticsearch) without restarting the process.
func (s *Store) SetBackend(b Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = b
}

func (s *Store) currentBackend() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

func collectionName(dialect nlquery.Dialect) string {
	return "past_queries_" + string(dialect)
}

// Record embeds user_query and upserts under a deterministic id derived
// from (user_query, sql_query, connection_id).
func (s *Store) Record(ctx context.Context, q nlquery.PastQuery) error {
	vec, err := s.embedder.Embed(ctx, q.UserQuery)
	if err != nil {
		return fmt.Errorf("retrieval: embedding failed: %w", err)
	}
	q.Embedding = vec
	if q.RecordedAt.IsZero() {
		q.RecordedAt = time.Now()
	}
	id := RecordID(q.UserQuery, q.SQLQuery, q.ConnectionID)
	return s.currentBackend().Upsert(ctx, collectionName(q.Dialect), id, vec, q)
}

// SearchOptions filters Search.
type SearchOptions struct {
	Dialect nlquery.Dialect
	SchemaName string
	K int
	Threshold float64 // 0 means use the default 0.7
	IncludeFailed bool // by default, restrict to success = true
}

// Search returns the top-k past (question, SQL) pairs whose cosine
// similarity to the embedded query is >= threshold, ordered by
// similarity descending.
func (s *Store) Search(ctx context.Context, userQuery string, opts SearchOptions) ([]nlquery.PastQuery, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	k := opts.K
	if k <= 0 {
		k = 5
	}

	vec, err := s.embedder.Embed(ctx, userQuery)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding failed: %w", err)
	}

	scored, err := s.currentBackend().Search(ctx, collectionName(opts.Dialect), vec, k*4) // over-fetch, then filter
	if err != nil {
		return nil, fmt.Errorf("retrieval: search failed: %w", err)
	}

	var out []nlquery.PastQuery
	for _, sr := range scored {
		if sr.Similarity < threshold {
			continue
		}
		if !opts.IncludeFailed && !sr.Record.Success {
			continue
		}
		if opts.SchemaName != "" && sr.Record.SchemaName != opts.SchemaName {
			continue
		}
		out = append(out, sr.Record)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// BulkImport ingests records one by one through Record, which embeds each
// user_query again; an Embedding already set on a record is not used.
func (s *Store) BulkImport(ctx context.Context, records []nlquery.PastQuery) error {
	for _, r := range records {
		if err := s.Record(ctx, r); err != nil {
			return fmt.Errorf("retrieval: bulk import failed on %q: %w", r.UserQuery, err)
		}
	}
	return nil
}

// Clear empties every dialect's collection. Changing the embedding model
// requires Clear + re-ingest.
func (s *Store) Clear(ctx context.Context) error {
	for _, d := range []nlquery.Dialect{nlquery.DialectPostgres, nlquery.DialectMySQL, nlquery.DialectOracle, nlquery.DialectSQLite} {
		if err := s.currentBackend().Clear(ctx, collectionName(d)); err != nil {
			return err
		}
	}
	return nil
}
