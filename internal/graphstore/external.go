package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// External talks to a SPARQL 1.1-compatible triplestore (e.g. Apache Jena
// Fuseki) over HTTP: one named graph per connection_id, behind the
// Backend interface instead of raw SPARQL strings. The user's natural
// language question is never sent to the triplestore: Store.Insights does
// the word matching in Go over the nodes this backend returns.
type External struct {
	baseURL string
	dataset string
	httpClient *http.Client
}

func NewExternal(baseURL, dataset string) *External {
	return &External{
		baseURL: strings.TrimRight(baseURL, "/"),
		dataset: dataset,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *External) graphURI(connectionID string) string {
	return fmt.Sprintf("urn:nlquery:graph:%s", connectionID)
}

func (e *External) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, degradedAfter)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/$/ping", nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph backend ping returned status %d", resp.StatusCode)
	}
	return nil
}

func (e *External) Sync(ctx context.Context, connectionID string, nodes []Node, edges []Edge) (SyncReport, error) {
	graphURI := e.graphURI(connectionID)
	if err := e.clearGraph(ctx, graphURI); err != nil {
		return SyncReport{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT DATA {\n GRAPH <%s> {\n", graphURI)
	for _, n := range nodes {
		fmt.Fprintf(&sb, " <%s> a <%s> ; rdfs:label %s.\n", n.ID, string(n.Kind), quoteLiteral(n.Label))
	}
	for _, ed := range edges {
		fmt.Fprintf(&sb, " <%s> <%s> <%s>.\n", ed.From, string(ed.Kind), ed.To)
	}
	sb.WriteString(" }\n}")

	if err := e.update(ctx, sb.String()); err != nil {
		return SyncReport{}, err
	}
	return SyncReport{NodeCount: len(nodes), EdgeCount: len(edges)}, nil
}

func (e *External) clearGraph(ctx context.Context, graphURI string) error {
	return e.update(ctx, fmt.Sprintf("CLEAR GRAPH <%s>", graphURI))
}

func (e *External) NeighborsOf(ctx context.Context, connectionID, tableNodeID string) ([]string, error) {
	graphURI := e.graphURI(connectionID)
	sparql := fmt.Sprintf(`
		SELECT ?neighbor WHERE {
			GRAPH <%s> {
				<%s> <%s> ?neighbor.
			}
		}`, graphURI, tableNodeID, EdgeRelatedTo)

	result, err := e.queryUserGraph(ctx, sparql)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, row := range result.Bindings {
		if v, ok := row["neighbor"]; ok {
			out = append(out, v.Value)
		}
	}
	return out, nil
}

// ShortestPath falls back to repeated NeighborsOf calls (BFS from the
// client side) rather than relying on a property-path extension that not
// every SPARQL endpoint supports identically.
func (e *External) ShortestPath(ctx context.Context, connectionID, from, to string, maxDepth int) ([]string, bool, error) {
	if from == to {
		return []string{from}, true, nil
	}
	type frame struct {
		id string
		path []string
	}
	visited := map[string]bool{from: true}
	queue := []frame{{id: from, path: []string{from}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path)-1 >= maxDepth {
			continue
		}
		neighbors, err := e.NeighborsOf(ctx, connectionID, cur.id)
		if err != nil {
			return nil, false, err
		}
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			nextPath := append(append([]string{}, cur.path...), n)
			if n == to {
				return nextPath, true, nil
			}
			visited[n] = true
			queue = append(queue, frame{id: n, path: nextPath})
		}
	}
	return nil, false, nil
}

func (e *External) PropertyNodes(ctx context.Context, connectionID string) ([]Node, error) {
	graphURI := e.graphURI(connectionID)
	sparql := fmt.Sprintf(`
		SELECT ?node ?label WHERE {
			GRAPH <%s> {
				?node a <%s>.
				OPTIONAL { ?node rdfs:label ?label }
			}
		}`, graphURI, NodeProperty)

	result, err := e.queryUserGraph(ctx, sparql)
	if err != nil {
		return nil, err
	}
	var out []Node
	for _, row := range result.Bindings {
		n := Node{Kind: NodeProperty}
		if v, ok := row["node"]; ok {
			n.ID = v.Value
		}
		if v, ok := row["label"]; ok {
			n.Label = v.Value
		}
		out = append(out, n)
	}
	return out, nil
}

type sparqlBinding struct {
	Type string `json:"type"`
	Value string `json:"value"`
}

type sparqlResult struct {
	Results struct {
		Bindings []map[string]sparqlBinding `json:"bindings"`
	} `json:"results"`
}

// queryResult is the minimal shape callers above consume.
type queryResult struct {
	Bindings []map[string]sparqlBinding
}

// queryUserGraph issues a SPARQL SELECT. The SPARQL text itself travels
// under the form field "query" (the protocol's required name); the
// caller's natural-language question, when one is in play (insights
// lookups elsewhere in this package), is never placed under that key.
func (e *External) queryUserGraph(ctx context.Context, sparql string) (queryResult, error) {
	endpoint := fmt.Sprintf("%s/%s/sparql", e.baseURL, e.dataset)
	form := url.Values{}
	form.Set("query", sparql)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return queryResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return queryResult{}, fmt.Errorf("sparql query failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return queryResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return queryResult{}, fmt.Errorf("sparql query returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed sparqlResult
	if err := json.Unmarshal(body, &parsed); err != nil {
		return queryResult{}, fmt.Errorf("parsing sparql results: %w", err)
	}
	return queryResult{Bindings: parsed.Results.Bindings}, nil
}

func (e *External) update(ctx context.Context, sparqlUpdate string) error {
	endpoint := fmt.Sprintf("%s/%s/update", e.baseURL, e.dataset)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(sparqlUpdate))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/sparql-update")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sparql update failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sparql update returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func quoteLiteral(s string) string {
	escaped := strings.ReplaceAll(s, `"`, `\"`)
	return `"` + escaped + `"`
}
