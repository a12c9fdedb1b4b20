package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nlquery/nlquery-go/internal/config"
	"github.com/nlquery/nlquery-go/internal/dbadapter"
	"github.com/nlquery/nlquery-go/internal/graphstore"
	"github.com/nlquery/nlquery-go/internal/llmprovider"
	"github.com/nlquery/nlquery-go/internal/ontology"
	"github.com/nlquery/nlquery-go/internal/retrieval"
	"github.com/nlquery/nlquery-go/internal/schema"
	"github.com/nlquery/nlquery-go/internal/statemachine"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

func writeStaticOntology(t *testing.T, conceptName string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ontology.yaml")
	doc := "database: testdb\nconcepts:\n  - name: " + conceptName + "\n    description: x\n    tables: [orders]\n    synonyms: []\nproperties: []\nrelationships: []\nschema_fingerprint: \"\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing static ontology: %v", err)
	}
	return path
}

func newTestCoordinator(t *testing.T, initial config.Document) (*Coordinator, *ontology.Store, *graphstore.Store, *retrieval.Store, *statemachine.Machine) {
	t.Helper()

	ontStore := ontology.NewStore(llmprovider.NewMock("", nil), ontology.Config{
		Mode:        ontology.ModeStatic,
		StaticFile:  writeStaticOntology(t, "Alpha"),
		MaxConcepts: 20,
	})
	graphStore := graphstore.NewStore(nil)
	retrievalStore := retrieval.NewStore(retrieval.NewInProcess(), retrieval.NewHashEmbedder())

	adapter := dbadapter.New()
	schemaStore := schema.NewStore(adapter)
	provider := llmprovider.NewMock(`{"sql":"SELECT 1","explanation":"e"}`, nil)
	machine := statemachine.New(adapter, schemaStore, ontStore, graphStore, retrievalStore, provider,
		func() statemachine.EnabledSet {
			return statemachine.EnabledSet{
				Ontology:  initial.Ontology.Enabled,
				Graph:     initial.Graph.Enabled,
				Retrieval: initial.Retrieval.Enabled,
			}
		})

	c := New(initial, Deps{
		OntologyStore: ontStore,
		GraphStore:    graphStore,
		Retrieval:     retrievalStore,
		Machine:       machine,
	})
	return c, ontStore, graphStore, retrievalStore, machine
}

func baseDocument() config.Document {
	return config.Document{
		LLM: config.LLMSection{Provider: "mock", Model: "m1"},
		Ontology: config.OntologySection{
			Enabled:     true,
			Mode:        "static",
			MaxConcepts: 20,
		},
		Graph: config.GraphSection{
			Enabled:      true,
			Backend:      "in-process",
			MaxPathDepth: 2,
		},
		Retrieval: config.RetrievalSection{
			Enabled: true,
			Backend: "in-process",
		},
		MaxAttempts: 3,
	}
}

func TestApplyNoopWhenNothingChanges(t *testing.T) {
	doc := baseDocument()
	c, ontStore, _, _, _ := newTestCoordinator(t, doc)

	snap := &nlquery.SchemaSnapshot{Tables: []nlquery.TableInfo{{TableName: "orders"}}}
	first, err := ontStore.Get(context.Background(), "conn1", snap)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := c.Apply(doc); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	second, err := ontStore.Get(context.Background(), "conn1", snap)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("expected ontology cache to survive a no-op Apply")
	}
}

func TestApplyOntologyChangeSwapsConfigAndClearsCache(t *testing.T) {
	doc := baseDocument()
	doc.Ontology.StaticFile = writeStaticOntology(t, "Alpha")
	c, ontStore, _, _, _ := newTestCoordinator(t, doc)
	ontStore.SetProviderAndConfig(llmprovider.NewMock("", nil), ontology.Config{
		Mode:        ontology.ModeStatic,
		StaticFile:  doc.Ontology.StaticFile,
		MaxConcepts: 20,
	})

	snap := &nlquery.SchemaSnapshot{Tables: []nlquery.TableInfo{{TableName: "orders"}}}
	before, err := ontStore.Get(context.Background(), "conn1", snap)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if before.Concepts[0].Name != "Alpha" {
		t.Fatalf("expected Alpha concept, got %+v", before.Concepts)
	}

	partial := doc
	partial.Ontology.StaticFile = writeStaticOntology(t, "Beta")
	if err := c.Apply(partial); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	after, err := ontStore.Get(context.Background(), "conn1", snap)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(after.Concepts) != 1 || after.Concepts[0].Name != "Beta" {
		t.Fatalf("expected reload to switch to the Beta static file, got %+v", after.Concepts)
	}
}

func TestApplyGraphBackendChangeResetsInProcessGraph(t *testing.T) {
	doc := baseDocument()
	c, _, graphStore, _, _ := newTestCoordinator(t, doc)

	snap := &nlquery.SchemaSnapshot{Tables: []nlquery.TableInfo{
		{TableName: "orders", Columns: []nlquery.ColumnInfo{{Name: "amount"}}},
	}}
	ont := &nlquery.Ontology{
		Properties: []nlquery.Property{{Concept: "Revenue", PropertyName: "amount", Table: "orders", Column: "amount"}},
	}
	ctx := context.Background()
	if _, err := graphStore.Sync(ctx, "conn1", snap, ont); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	before, err := graphStore.Insights(ctx, "conn1", "amount", nil)
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	if len(before.SuggestedColumns["orders"]) == 0 {
		t.Fatalf("expected a suggested column before reload, got %+v", before)
	}

	partial := doc
	partial.Graph.MaxPathDepth = 3 // changes GraphSection so reinitGraph runs
	if err := c.Apply(partial); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	after, err := graphStore.Insights(ctx, "conn1", "amount", nil)
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	if len(after.SuggestedColumns) != 0 {
		t.Fatalf("expected the swapped-in graph backend to start empty, got %+v", after)
	}
}

func TestApplyRetrievalBackendChangeResetsInProcessStore(t *testing.T) {
	doc := baseDocument()
	c, _, _, retrievalStore, _ := newTestCoordinator(t, doc)

	ctx := context.Background()
	if err := retrievalStore.Record(ctx, nlquery.PastQuery{
		UserQuery:    "how many orders",
		SQLQuery:     "SELECT count(*) FROM orders",
		Dialect:      nlquery.DialectSQLite,
		Success:      true,
		ConnectionID: "conn1",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	found, err := retrievalStore.Search(ctx, "how many orders", retrieval.SearchOptions{Dialect: nlquery.DialectSQLite, K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) == 0 {
		t.Fatal("expected to find the recorded query before reload")
	}

	partial := doc
	partial.Retrieval.Backend = "memory" // differs from "in-process", triggers reinitRetrieval
	if err := c.Apply(partial); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	found, err = retrievalStore.Search(ctx, "how many orders", retrieval.SearchOptions{Dialect: nlquery.DialectSQLite, K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected the swapped-in retrieval backend to start empty, got %+v", found)
	}
}

func TestApplyKeepsPreviousLLMProviderWhenNewOneFailsToBuild(t *testing.T) {
	doc := baseDocument()
	c, _, _, _, machine := newTestCoordinator(t, doc)

	original := machine.Provider()

	partial := doc
	partial.LLM.Provider = "not-a-real-vendor"
	if err := c.Apply(partial); err != nil {
		t.Fatalf("Apply should be best-effort and never fail on a bad provider name: %v", err)
	}

	if machine.Provider() != original {
		t.Error("expected the previous LLM provider to remain active after a failed reinit")
	}
}

func TestApplyTogglingEnabledDoesNotRequireRestart(t *testing.T) {
	doc := baseDocument()
	doc.Retrieval.Enabled = false
	c, _, _, _, machine := newTestCoordinator(t, doc)

	before := machine.EnabledSnapshot()
	if before.Retrieval {
		t.Fatal("expected retrieval disabled in the initial snapshot")
	}

	partial := doc
	partial.Retrieval.Enabled = true
	if err := c.Apply(partial); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	after := machine.EnabledSnapshot()
	if !after.Retrieval {
		t.Error("expected Apply to rebuild the enabled snapshot with retrieval turned on")
	}
}
