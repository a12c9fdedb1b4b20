package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// Elasticsearch is the optional external vector backend, using
// Elasticsearch's dense_vector field with script_score cosine similarity
// search. Each collection maps to one index.
type Elasticsearch struct {
	client *elasticsearch.Client
}

func NewElasticsearch(addresses []string) (*Elasticsearch, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("retrieval: elasticsearch client: %w", err)
	}
	return &Elasticsearch{client: client}, nil
}

type esDocument struct {
	Vector []float64 `json:"vector"`
	Payload nlquery.PastQuery `json:"payload"`
}

func (e *Elasticsearch) Upsert(ctx context.Context, collection, id string, vector []float64, payload nlquery.PastQuery) error {
	doc := esDocument{Vector: vector, Payload: payload}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index: collection,
		DocumentID: id,
		Body: bytes.NewReader(body),
		Refresh: "false",
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("retrieval: elasticsearch upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("retrieval: elasticsearch upsert returned error: %s", string(b))
	}
	return nil
}

func (e *Elasticsearch) Search(ctx context.Context, collection string, vector []float64, k int) ([]ScoredRecord, error) {
	query := map[string]any{
		"size": k,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"match_all": map[string]any{}},
				"script": map[string]any{
					"source": "cosineSimilarity(params.query_vector, 'vector') + 1.0",
					"params": map[string]any{"query_vector": vector},
				},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(collection),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("retrieval: elasticsearch search: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("retrieval: elasticsearch search returned error: %s", string(b))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score float64 `json:"_score"`
				Source esDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("retrieval: decoding elasticsearch response: %w", err)
	}

	out := make([]ScoredRecord, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, ScoredRecord{Record: h.Source.Payload, Similarity: h.Score - 1.0})
	}
	return out, nil
}

func (e *Elasticsearch) Delete(ctx context.Context, collection, id string) error {
	req := esapi.DeleteRequest{Index: collection, DocumentID: id}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("retrieval: elasticsearch delete: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (e *Elasticsearch) Count(ctx context.Context, collection string) (int, error) {
	resp, err := e.client.Count(e.client.Count.WithContext(ctx), e.client.Count.WithIndex(collection))
	if err != nil {
		return 0, fmt.Errorf("retrieval: elasticsearch count: %w", err)
	}
	defer resp.Body.Close()
	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return parsed.Count, nil
}

func (e *Elasticsearch) Clear(ctx context.Context, collection string) error {
	resp, err := e.client.Indices.Delete([]string{collection}, e.client.Indices.Delete.WithContext(ctx), e.client.Indices.Delete.WithIgnoreUnavailable(true))
	if err != nil {
		return fmt.Errorf("retrieval: elasticsearch clear: %w", err)
	}
	defer resp.Body.Close()
	return nil
}
