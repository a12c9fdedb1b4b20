package graphstore

import (
	"context"
	"testing"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

func testSnapshotAndOntology() (*nlquery.SchemaSnapshot, *nlquery.Ontology) {
	snap := &nlquery.SchemaSnapshot{
		Tables: []nlquery.TableInfo{
			{
				TableName: "orders",
				Columns:   []nlquery.ColumnInfo{{Name: "id"}, {Name: "vendorname"}, {Name: "customer_id"}},
				ForeignKeys: []nlquery.ForeignKey{
					{Column: "customer_id", RefTable: "customers", RefColumn: "id"},
				},
			},
			{TableName: "customers", Columns: []nlquery.ColumnInfo{{Name: "id"}, {Name: "name"}}},
		},
	}
	ont := &nlquery.Ontology{
		ConnectionID: "conn1",
		Concepts:     []nlquery.Concept{{Name: "Vendor", Tables: []string{"orders"}}},
		Properties: []nlquery.Property{
			{Concept: "Vendor", PropertyName: "vendorname", Table: "orders", Column: "vendorname", Confidence: 0.8},
		},
	}
	return snap, ont
}

func TestSyncReportsCounts(t *testing.T) {
	store := NewStore(nil)
	snap, ont := testSnapshotAndOntology()

	report, err := store.Sync(context.Background(), "conn1", snap, ont)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.NodeCount == 0 || report.EdgeCount == 0 {
		t.Errorf("expected non-zero node/edge counts, got %+v", report)
	}
}

func TestInsightsMatchesCompoundToken(t *testing.T) {
	store := NewStore(nil)
	snap, ont := testSnapshotAndOntology()
	if _, err := store.Sync(context.Background(), "conn1", snap, ont); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	insights, err := store.Insights(context.Background(), "conn1", "who is the vendor for this order", nil)
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	cols := insights.SuggestedColumns["orders"]
	found := false
	for _, c := range cols {
		if c == "vendorname" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected vendorname suggested for 'vendor', got %+v", insights.SuggestedColumns)
	}
}

func TestInsightsRelatedTablesAreOneHop(t *testing.T) {
	store := NewStore(nil)
	snap, ont := testSnapshotAndOntology()
	if _, err := store.Sync(context.Background(), "conn1", snap, ont); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	insights, err := store.Insights(context.Background(), "conn1", "show me orders", []string{"orders"})
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	found := false
	for _, t := range insights.RelatedTables {
		if t == "customers" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected customers as a related table of orders, got %+v", insights.RelatedTables)
	}
}

func TestInProcessShortestPathRespectsMaxDepth(t *testing.T) {
	p := NewInProcess()
	nodes := []Node{{ID: "table:a"}, {ID: "table:b"}, {ID: "table:c"}}
	edges := []Edge{
		{From: "table:a", To: "table:b", Kind: EdgeRelatedTo},
		{From: "table:b", To: "table:c", Kind: EdgeRelatedTo},
	}
	if _, err := p.Sync(context.Background(), "conn1", nodes, edges); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	path, ok, err := p.ShortestPath(context.Background(), "conn1", "table:a", "table:c", 2)
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	if !ok || len(path) != 3 {
		t.Fatalf("expected a 3-node path, got %v (ok=%v)", path, ok)
	}

	_, ok, err = p.ShortestPath(context.Background(), "conn1", "table:a", "table:c", 1)
	if err != nil {
		t.Fatalf("ShortestPath: %v", err)
	}
	if ok {
		t.Error("expected no path within depth 1")
	}
}
