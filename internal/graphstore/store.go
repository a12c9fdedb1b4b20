package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/nlquery/nlquery-go/internal/applog"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// Store is C5's public contract: sync(snapshot, ontology) and
// insights(question, connection_id). It owns backend selection/fallback
// and the word-matching insights pass; Backend only stores/queries nodes
// and edges.
type Store struct {
	mu sync.RWMutex
	active Backend
	fallback Backend // always the in-process backend

	redisClient *redis.Client // optional: caches sync'd node/edge counts cross-process
	log *applog.Logger
	maxPathDepth int
}

type Option func(*Store)

func WithRedisCache(client *redis.Client) Option {
	return func(s *Store) { s.redisClient = client }
}

func WithMaxPathDepth(depth int) Option {
	return func(s *Store) { s.maxPathDepth = depth }
}

// NewStore builds a Store around an initial backend. Pass nil for
// external to run in-process only.
func NewStore(external Backend, opts...Option) *Store {
	s := &Store{
		fallback: NewInProcess(),
		maxPathDepth: 2,
		log: applog.New("graphstore"),
	}
	if external != nil {
		s.active = external
	} else {
		s.active = s.fallback
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBackend lets C9 swap the active backend at runtime without
// restarting the process.
func (s *Store) SetBackend(b Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = b
}

// backendForRead picks the active backend, falling back to in-process if
// the active one is unreachable, logging the degradation rather than
// failing the query.
func (s *Store) backendForRead(ctx context.Context) Backend {
	s.mu.RLock()
	active := s.active
	fb := s.fallback
	s.mu.RUnlock()

	if active == fb {
		return active
	}
	if err := active.Health(ctx); err != nil {
		s.log.Degraded("graph backend unreachable, falling back to in-process graph", err)
		return fb
	}
	return active
}

// Sync projects a SchemaSnapshot and Ontology into nodes/edges and
// idempotently replaces the graph for connection_id.
func (s *Store) Sync(ctx context.Context, connectionID string, snapshot *nlquery.SchemaSnapshot, ontology *nlquery.Ontology) (SyncReport, error) {
	nodes, edges := project(snapshot, ontology)

	backend := s.backendForRead(ctx)
	report, err := backend.Sync(ctx, connectionID, nodes, edges)
	if err != nil {
		return SyncReport{}, fmt.Errorf("graph sync failed: %w", err)
	}
	if s.redisClient != nil {
		s.cacheSyncReport(ctx, connectionID, report)
	}
	return report, nil
}

func (s *Store) cacheSyncReport(ctx context.Context, connectionID string, report SyncReport) {
	key := "nlquery:graphsync:" + connectionID
	val := strconv.Itoa(report.NodeCount) + ":" + strconv.Itoa(report.EdgeCount)
	if err := s.redisClient.Set(ctx, key, val, 0).Err(); err != nil {
		s.log.Degraded("failed to cache graph sync report in redis", err)
	}
}

// project builds the node/edge list from a snapshot + ontology. Tables
// and columns always project; concepts/properties project only when an
// ontology is present.
func project(snapshot *nlquery.SchemaSnapshot, ontology *nlquery.Ontology) ([]Node, []Edge) {
	var nodes []Node
	var edges []Edge

	tableNames := map[string]bool{}
	allTables := append(append([]nlquery.TableInfo{}, snapshot.Tables...), snapshot.Views...)
	for _, t := range allTables {
		tableNames[t.TableName] = true
		nodes = append(nodes, Node{ID: tableNodeID(t.TableName), Kind: NodeTable, Label: t.TableName})
		for _, c := range t.Columns {
			nodes = append(nodes, Node{ID: columnNodeID(t.TableName, c.Name), Kind: NodeColumn, Label: c.Name})
			edges = append(edges, Edge{From: tableNodeID(t.TableName), To: columnNodeID(t.TableName, c.Name), Kind: EdgeHasColumn})
		}
		for _, fk := range t.ForeignKeys {
			if tableNames[fk.RefTable] || containsTable(allTables, fk.RefTable) {
				edges = append(edges, Edge{From: tableNodeID(t.TableName), To: tableNodeID(fk.RefTable), Kind: EdgeRelatedTo})
				edges = append(edges, Edge{From: tableNodeID(fk.RefTable), To: tableNodeID(t.TableName), Kind: EdgeRelatedTo})
			}
		}
	}

	if ontology != nil {
		for _, concept := range ontology.Concepts {
			nodes = append(nodes, Node{ID: conceptNodeID(concept.Name), Kind: NodeConcept, Label: concept.Name})
			for _, t := range concept.Tables {
				if tableNames[t] {
					edges = append(edges, Edge{From: conceptNodeID(concept.Name), To: tableNodeID(t), Kind: EdgeRealizes})
				}
			}
		}
		for _, prop := range ontology.Properties {
			id := propertyNodeID(prop.Concept, prop.PropertyName)
			nodes = append(nodes, Node{
				ID: id, Kind: NodeProperty, Label: prop.PropertyName,
				Properties: map[string]string{"table": prop.Table, "column": prop.Column, "concept": prop.Concept},
			})
			if tableNames[prop.Table] {
				edges = append(edges, Edge{From: id, To: columnNodeID(prop.Table, prop.Column), Kind: EdgeMapsToColumn})
			}
		}
		for _, rel := range ontology.Relationships {
			edges = append(edges, Edge{From: conceptNodeID(rel.FromConcept), To: conceptNodeID(rel.ToConcept), Kind: EdgeRelatedTo})
		}
	}

	return nodes, edges
}

func containsTable(tables []nlquery.TableInfo, name string) bool {
	for _, t := range tables {
		if t.TableName == name {
			return true
		}
	}
	return false
}

// Insights implements C5's insights(question, connection_id): lowercase
// + tokenize the question, match property nodes by full-contains (either
// direction) and word-level substring with the same >3-char filter as
// C4, then derive suggested columns, join paths, related tables, and a
// ranked concept list.
func (s *Store) Insights(ctx context.Context, connectionID, question string, mentionedTables []string) (nlquery.GraphInsights, error) {
	backend := s.backendForRead(ctx)

	propNodes, err := backend.PropertyNodes(ctx, connectionID)
	if err != nil {
		return nlquery.GraphInsights{}, fmt.Errorf("fetching property nodes: %w", err)
	}

	lower := strings.ToLower(question)
	words := tokenize(lower)

	type hit struct {
		node Node
		confidence float64
	}
	var hits []hit
	for _, n := range propNodes {
		propLower := strings.ToLower(n.Label)
		matched := false
		conf := 0.0
		if strings.Contains(lower, propLower) || strings.Contains(propLower, lower) {
			matched = true
			conf = 0.9
		} else {
			for _, w := range words {
				if len(w) > 3 && strings.Contains(propLower, w) {
					matched = true
					conf = 0.6
					break
				}
			}
		}
		if matched {
			hits = append(hits, hit{node: n, confidence: conf})
		}
	}

	insights := nlquery.GraphInsights{
		SuggestedColumns: make(map[string][]string),
	}
	seenTables := map[string]bool{}
	conceptScores := map[string]float64{}

	for _, h := range hits {
		table := h.node.Properties["table"]
		col := h.node.Properties["column"]
		concept := h.node.Properties["concept"]
		if table != "" && col != "" {
			insights.SuggestedColumns[table] = appendUnique(insights.SuggestedColumns[table], col)
			seenTables[table] = true
		}
		if concept != "" {
			if h.confidence > conceptScores[concept] {
				conceptScores[concept] = h.confidence
			}
			insights.RankedConcepts = append(insights.RankedConcepts, nlquery.ColumnHint{
				Table: table, Column: col, Concept: concept, Property: h.node.Label, Confidence: h.confidence,
			})
		}
	}
	sort.Slice(insights.RankedConcepts, func(i, j int) bool {
		return insights.RankedConcepts[i].Confidence > insights.RankedConcepts[j].Confidence
	})

	for _, t := range mentionedTables {
		seenTables[t] = true
	}

	var relatedSet = map[string]bool{}
	for t := range seenTables {
		neighbors, err := backend.NeighborsOf(ctx, connectionID, tableNodeID(t))
		if err != nil {
			return nlquery.GraphInsights{}, fmt.Errorf("fetching neighbors of %s: %w", t, err)
		}
		for _, n := range neighbors {
			name := strings.TrimPrefix(n, "table:")
			if !seenTables[name] {
				relatedSet[name] = true
			}
		}
	}
	for t := range relatedSet {
		insights.RelatedTables = append(insights.RelatedTables, t)
	}
	sort.Strings(insights.RelatedTables)

	tableList := make([]string, 0, len(seenTables))
	for t := range seenTables {
		tableList = append(tableList, t)
	}
	sort.Strings(tableList)
	for i := 0; i < len(tableList); i++ {
		for j := i + 1; j < len(tableList); j++ {
			path, ok, err := backend.ShortestPath(ctx, connectionID, tableNodeID(tableList[i]), tableNodeID(tableList[j]), s.maxPathDepth)
			if err != nil {
				return nlquery.GraphInsights{}, fmt.Errorf("computing join path: %w", err)
			}
			if ok {
				insights.JoinPaths = append(insights.JoinPaths, nlquery.JoinPath{Tables: stripTablePrefix(path)})
			}
		}
	}

	return insights, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func stripTablePrefix(nodeIDs []string) []string {
	out := make([]string, len(nodeIDs))
	for i, id := range nodeIDs {
		out[i] = strings.TrimPrefix(id, "table:")
	}
	return out
}
