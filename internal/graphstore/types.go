// Package graphstore implements C5: a knowledge-graph projection of the
// schema and ontology, queried to suggest columns, join paths, and related
// tables for a question. One graph is held per connection_id, behind a
// plain node/edge backend contract rather than raw RDF triples.
package graphstore

import (
	"context"
	"time"
)

// NodeKind is the closed set of node labels this package projects.
type NodeKind string

const (
	NodeTable NodeKind = "table"
	NodeColumn NodeKind = "column"
	NodeConcept NodeKind = "concept"
	NodeProperty NodeKind = "property"
)

// Node is one vertex in the projected graph.
type Node struct {
	ID string
	Kind NodeKind
	Label string
	Properties map[string]string
}

// EdgeKind is the closed set of edge labels this package projects.
type EdgeKind string

const (
	EdgeRelatedTo EdgeKind = "RELATED_TO" // table <-> table via FK; concept -> concept via ontology relationship
	EdgeHasColumn EdgeKind = "HAS_COLUMN" // table -> column
	EdgeMapsToColumn EdgeKind = "MAPS_TO_COLUMN" // property -> column
	EdgeRealizes EdgeKind = "REALIZES" // concept -> table
)

// Edge is one directed edge in the projected graph.
type Edge struct {
	From, To string
	Kind EdgeKind
}

// SyncReport is what sync(snapshot, ontology) returns.
type SyncReport struct {
	NodeCount int
	EdgeCount int
}

// Backend is the contract both the in-process and external graph
// implementations satisfy; C9 can swap the active backend without
// restarting the process.
type Backend interface {
	// Sync idempotently replaces every node/edge under connectionID.
	Sync(ctx context.Context, connectionID string, nodes []Node, edges []Edge) (SyncReport, error)
	// NeighborsOf returns the 1-hop RELATED_TO neighbors of a table node.
	NeighborsOf(ctx context.Context, connectionID, tableNodeID string) ([]string, error)
	// ShortestPath returns a RELATED_TO path between two table nodes, or
	// ok=false if none exists within maxDepth hops.
	ShortestPath(ctx context.Context, connectionID, fromTableNodeID, toTableNodeID string, maxDepth int) (path []string, ok bool, err error)
	// PropertyNodes returns every property node under connectionID, for
	// the word-matching pass in Insights.
	PropertyNodes(ctx context.Context, connectionID string) ([]Node, error)
	// Health reports whether the backend is currently reachable.
	Health(ctx context.Context) error
}

func tableNodeID(table string) string { return "table:" + table }
func columnNodeID(table, col string) string { return "column:" + table + "." + col }
func conceptNodeID(concept string) string { return "concept:" + concept }
func propertyNodeID(concept, prop string) string { return "property:" + concept + "." + prop }

// degradedAfter is how long Health is allowed to take before the caller
// should fall back to the in-process backend.
const degradedAfter = 3 * time.Second
