package budgeter

import (
	"strings"
	"testing"

	"github.com/nlquery/nlquery-go/internal/dbadapter"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

func TestSelectStrategyBoundaries(t *testing.T) {
	cases := []struct {
		window int
		want   Strategy
	}{
		{3000, StrategyConcise},
		{3001, StrategySemi},
		{6000, StrategySemi},
		{6001, StrategyExpanded},
		{10000, StrategyExpanded},
		{10001, StrategyLarge},
	}
	for _, c := range cases {
		if got := SelectStrategy(c.window); got != c.want {
			t.Errorf("SelectStrategy(%d) = %q, want %q", c.window, got, c.want)
		}
	}
}

func TestEstimateTokensHeuristic(t *testing.T) {
	cases := []struct {
		s    string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("a", 40), 10},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.s); got != c.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", c.s, got, c.want)
		}
	}
}

func TestNewBudgetSharesSumApprox(t *testing.T) {
	b := NewBudget(8000)
	if b.Strategy != StrategyExpanded {
		t.Fatalf("expected expanded strategy, got %q", b.Strategy)
	}
	sum := b.System + b.Schema + b.Conversation + b.Error + b.Reserved
	if sum > b.Total || sum < int(float64(b.Total)*0.95) {
		t.Errorf("section sum %d far from total %d", sum, b.Total)
	}
}

func TestTruncateAppendsSuffixOnOverflow(t *testing.T) {
	b := Budget{Schema: 5} // 20 chars cap
	opts := AssembleOptions{
		Snapshot: &nlquery.SchemaSnapshot{
			Tables: []nlquery.TableInfo{
				{TableName: "customers_with_a_very_long_name", Columns: []nlquery.ColumnInfo{{Name: "id"}, {Name: "name"}, {Name: "email"}}},
			},
		},
	}
	assembled := Assemble(b, opts)
	if !strings.HasSuffix(assembled.Schema, truncationSuffix) {
		t.Errorf("expected truncation suffix, got %q", assembled.Schema)
	}
}

func TestSchemaSectionDetailScalesWithStrategy(t *testing.T) {
	snap := &nlquery.SchemaSnapshot{
		Tables: []nlquery.TableInfo{
			{
				TableName: "orders",
				Columns: []nlquery.ColumnInfo{
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "customer_id", DataType: "integer"},
				},
				ForeignKeys: []nlquery.ForeignKey{{Column: "customer_id", RefTable: "customers", RefColumn: "id"}},
			},
		},
	}

	concise := buildSchemaSection(StrategyConcise, AssembleOptions{Snapshot: snap})
	if strings.Contains(concise, "integer") {
		t.Error("concise section should not include data types")
	}

	semi := buildSchemaSection(StrategySemi, AssembleOptions{Snapshot: snap})
	if !strings.Contains(semi, "integer") || !strings.Contains(semi, "PK") {
		t.Errorf("semi section should include types and PK flag, got %q", semi)
	}

	expanded := buildSchemaSection(StrategyExpanded, AssembleOptions{Snapshot: snap})
	if !strings.Contains(expanded, "FK->customers") {
		t.Errorf("expanded section should include FK target, got %q", expanded)
	}
}

func TestForceFullTypesOverridesConcise(t *testing.T) {
	snap := &nlquery.SchemaSnapshot{
		Tables: []nlquery.TableInfo{
			{TableName: "orders", Columns: []nlquery.ColumnInfo{{Name: "total", DataType: "numeric"}}},
		},
	}
	out := buildSchemaSection(StrategyConcise, AssembleOptions{Snapshot: snap, ForceFullTypes: true})
	if !strings.Contains(out, "numeric") {
		t.Errorf("expected full column type under type-mismatch override, got %q", out)
	}
}

func TestFocusedTablesFilterSchemaSection(t *testing.T) {
	snap := &nlquery.SchemaSnapshot{
		Tables: []nlquery.TableInfo{
			{TableName: "orders", Columns: []nlquery.ColumnInfo{{Name: "id"}}},
			{TableName: "customers", Columns: []nlquery.ColumnInfo{{Name: "id"}}},
		},
	}
	out := buildSchemaSection(StrategyConcise, AssembleOptions{Snapshot: snap, FocusedTables: []string{"orders"}})
	if strings.Contains(out, "customers") {
		t.Errorf("expected customers excluded from focused schema section, got %q", out)
	}
	if !strings.Contains(out, "orders") {
		t.Errorf("expected orders present, got %q", out)
	}
}

func TestSystemSectionIncludesDialectRules(t *testing.T) {
	out := buildSystemSection(AssembleOptions{
		Idioms: dbadapter.Idioms{SystemPromptRules: "Target dialect: Oracle. Use FROM DUAL."},
	})
	if !strings.Contains(out, "FROM DUAL") {
		t.Errorf("expected dialect rules verbatim, got %q", out)
	}
}
