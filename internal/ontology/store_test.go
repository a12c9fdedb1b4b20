package ontology

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nlquery/nlquery-go/internal/llmprovider"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

func testSnapshot() *nlquery.SchemaSnapshot {
	return &nlquery.SchemaSnapshot{
		DatabaseName: "testdb",
		Tables: []nlquery.TableInfo{
			{TableName: "orders", Columns: []nlquery.ColumnInfo{{Name: "id"}, {Name: "vendorname"}, {Name: "orderdate"}}},
		},
	}
}

func TestFingerprintChangesOnColumnAdd(t *testing.T) {
	snap := testSnapshot()
	fp1 := Fingerprint(snap)

	snap.Tables[0].Columns = append(snap.Tables[0].Columns, nlquery.ColumnInfo{Name: "total"})
	fp2 := Fingerprint(snap)

	if fp1 == fp2 {
		t.Error("expected fingerprint to change after adding a column")
	}
}

func TestFingerprintStableUnderReorder(t *testing.T) {
	snap := testSnapshot()
	fp1 := Fingerprint(snap)

	reordered := testSnapshot()
	reordered.Tables[0].Columns[0], reordered.Tables[0].Columns[1] = reordered.Tables[0].Columns[1], reordered.Tables[0].Columns[0]
	fp2 := Fingerprint(reordered)

	if fp1 != fp2 {
		t.Error("expected fingerprint stable under column reordering")
	}
}

func TestStaticYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ont.yaml")
	o := &nlquery.Ontology{
		DatabaseName: "testdb",
		Concepts:     []nlquery.Concept{{Name: "Vendor", Tables: []string{"orders"}}},
		Properties: []nlquery.Property{
			{Concept: "Vendor", PropertyName: "vendorname", Table: "orders", Column: "vendorname", Confidence: 0.8},
		},
		GeneratedAt:       time.Now().Truncate(time.Second),
		SchemaFingerprint: "abc123",
	}
	if err := SaveYAML(path, o); err != nil {
		t.Fatalf("SaveYAML: %v", err)
	}
	loaded, err := LoadStatic(path, "conn1")
	if err != nil {
		t.Fatalf("LoadStatic: %v", err)
	}
	if loaded.ConnectionID != "conn1" {
		t.Errorf("expected connection_id conn1, got %q", loaded.ConnectionID)
	}
	if len(loaded.Concepts) != 1 || loaded.Concepts[0].Name != "Vendor" {
		t.Errorf("unexpected concepts: %+v", loaded.Concepts)
	}
	if loaded.SchemaFingerprint != "abc123" {
		t.Errorf("expected fingerprint preserved, got %q", loaded.SchemaFingerprint)
	}
}

func TestSaveOWLProducesWellFormedSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ont.owl")
	o := &nlquery.Ontology{
		Concepts: []nlquery.Concept{{Name: "Vendor", Tables: []string{"orders"}}},
		Properties: []nlquery.Property{
			{Concept: "Vendor", PropertyName: "vendorname", Table: "orders", Column: "vendorname", Confidence: 0.8},
		},
		Relationships: []nlquery.Relationship{
			{FromConcept: "Vendor", ToConcept: "Order", Type: nlquery.RelationshipHasMany},
		},
	}
	if err := SaveOWL(path, o); err != nil {
		t.Fatalf("SaveOWL: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading owl file: %v", err)
	}
	content := string(data)
	for _, want := range []string{"owl:Class", "owl:DatatypeProperty", "owl:ObjectProperty"} {
		if !containsSubstr(content, want) {
			t.Errorf("expected OWL output to contain %q", want)
		}
	}
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestResolveOnlyHintsColumnsInSnapshot(t *testing.T) {
	snap := testSnapshot()
	o := &nlquery.Ontology{
		Concepts: []nlquery.Concept{{Name: "Vendor", Tables: []string{"orders"}}},
		Properties: []nlquery.Property{
			{Concept: "Vendor", PropertyName: "vendorname", Table: "orders", Column: "vendorname", Confidence: 0.9},
			{Concept: "Ghost", PropertyName: "ghostcol", Table: "nonexistent_table", Column: "ghostcol", Confidence: 0.9},
		},
	}

	result := Resolve(o, snap, "who is the vendor")
	for _, h := range result.Hints {
		if _, ok := snap.TableByName(h.Table); !ok {
			t.Errorf("hint references table %q absent from snapshot", h.Table)
		}
	}
	found := false
	for _, h := range result.Hints {
		if h.Column == "vendorname" {
			found = true
		}
	}
	if !found {
		t.Error("expected vendorname hint via compound-token match on 'vendor'")
	}
}

func TestResolveConfidenceClampedAndScaled(t *testing.T) {
	snap := testSnapshot()
	o := &nlquery.Ontology{
		Concepts: []nlquery.Concept{{Name: "Vendor", Tables: []string{"orders"}, Synonyms: []string{"supplier"}}},
		Properties: []nlquery.Property{
			{Concept: "Vendor", PropertyName: "vendorname", Table: "orders", Column: "vendorname", Confidence: 1.0},
		},
	}

	result := Resolve(o, snap, "who is the supplier")
	if result.Confidence < 0.5 || result.Confidence > 0.99 {
		t.Errorf("confidence %f out of expected range", result.Confidence)
	}

	noMatch := Resolve(o, snap, "completely unrelated text")
	if noMatch.Confidence != 0.5 {
		t.Errorf("expected base confidence 0.5 with no matches, got %f", noMatch.Confidence)
	}
}

func TestGetUsesStaticMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ont.yaml")
	snap := testSnapshot()
	o := &nlquery.Ontology{
		DatabaseName:      "testdb",
		SchemaFingerprint: Fingerprint(snap),
		Concepts:          []nlquery.Concept{{Name: "Vendor", Tables: []string{"orders"}}},
	}
	if err := SaveYAML(path, o); err != nil {
		t.Fatalf("SaveYAML: %v", err)
	}

	store := NewStore(llmprovider.NewMock("", nil), Config{Mode: ModeStatic, StaticFile: path})
	got, err := store.Get(context.Background(), "conn1", snap)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConnectionID != "conn1" {
		t.Errorf("expected connection_id conn1, got %q", got.ConnectionID)
	}
}

func TestGetCachesUntilFingerprintChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ont.yaml")
	snap := testSnapshot()
	o := &nlquery.Ontology{DatabaseName: "testdb", SchemaFingerprint: Fingerprint(snap)}
	if err := SaveYAML(path, o); err != nil {
		t.Fatalf("SaveYAML: %v", err)
	}

	store := NewStore(llmprovider.NewMock("", nil), Config{Mode: ModeStatic, StaticFile: path})
	first, err := store.Get(context.Background(), "conn1", snap)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	second, err := store.Get(context.Background(), "conn1", snap)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("expected cached ontology to be returned by pointer identity")
	}

	snap.Tables[0].Columns = append(snap.Tables[0].Columns, nlquery.ColumnInfo{Name: "added_col", DataType: "TEXT"})
	third, err := store.Get(context.Background(), "conn1", snap)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if third == second {
		t.Error("expected a changed fingerprint to bypass the cached ontology")
	}
}
