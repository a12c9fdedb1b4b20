package erroranalyzer

import (
	"testing"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

func testSnapshot() *nlquery.SchemaSnapshot {
	return &nlquery.SchemaSnapshot{
		Tables: []nlquery.TableInfo{
			{TableName: "customers"},
			{TableName: "orders"},
			{TableName: "order_items"},
		},
	}
}

func TestSuggestedTablesWithinEditDistance(t *testing.T) {
	snap := testSnapshot()
	a := Analyze(nlquery.ErrObjectNotFound, `relation "custmers" does not exist`, "SELECT * FROM custmers", nlquery.DialectPostgres, snap)

	found := false
	for _, s := range a.SuggestedTables {
		if s == "customers" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected customers among suggested tables, got %+v", a.SuggestedTables)
	}
	if len(a.SuggestedTables) > 3 {
		t.Errorf("expected at most 3 suggestions, got %d", len(a.SuggestedTables))
	}
}

func TestMentionedTablesExtractsKnownNames(t *testing.T) {
	snap := testSnapshot()
	a := Analyze(nlquery.ErrSyntax, "syntax error near orders", "SELECT * FROM orders WHERE x = 1", nlquery.DialectMySQL, snap)
	found := false
	for _, m := range a.MentionedTables {
		if m == "orders" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected orders among mentioned tables, got %+v", a.MentionedTables)
	}
}

func TestCastHintDiffersByDialect(t *testing.T) {
	snap := testSnapshot()
	msg := `column "total" is of type integer`

	pg := Analyze(nlquery.ErrTypeMismatch, msg, "", nlquery.DialectPostgres, snap)
	mysql := Analyze(nlquery.ErrTypeMismatch, msg, "", nlquery.DialectMySQL, snap)

	if pg.TypeInfo == nil || mysql.TypeInfo == nil {
		t.Fatal("expected type info extracted for both dialects")
	}
	if pg.TypeInfo.CastHint == mysql.TypeInfo.CastHint {
		t.Error("expected postgres and mysql cast hints to differ")
	}
}

func TestCastHintFromRealPostgresOperatorMismatch(t *testing.T) {
	snap := testSnapshot()
	msg := `operator does not exist: integer = character varying`
	a := Analyze(nlquery.ErrTypeMismatch, msg, "SELECT * FROM orders o JOIN customers c ON o.customer_id = c.staffno", nlquery.DialectPostgres, snap)
	if a.TypeInfo == nil {
		t.Fatal("expected type info extracted from a real operator-mismatch message")
	}
	if a.TypeInfo.TypeA != "integer" || a.TypeInfo.TypeB != "character varying" {
		t.Errorf("unexpected types extracted: %+v", a.TypeInfo)
	}
	if a.TypeInfo.CastHint == "" {
		t.Error("expected a non-empty cast hint")
	}
}

func TestCastHintFromRealMySQLIncorrectValue(t *testing.T) {
	snap := testSnapshot()
	msg := `Incorrect integer value: 'abc' for column 'qty' at row 1`
	a := Analyze(nlquery.ErrTypeMismatch, msg, "", nlquery.DialectMySQL, snap)
	if a.TypeInfo == nil {
		t.Fatal("expected type info extracted from a real MySQL 1366 message")
	}
	if a.TypeInfo.ColumnA != "qty" || a.TypeInfo.TypeA != "integer" {
		t.Errorf("unexpected type info: %+v", a.TypeInfo)
	}
	if a.TypeInfo.CastHint != "CAST(qty AS INTEGER)" {
		t.Errorf("unexpected cast hint: %q", a.TypeInfo.CastHint)
	}
}

func TestShouldRetryFalseForAuthAndPermission(t *testing.T) {
	snap := testSnapshot()
	for _, kind := range []nlquery.ErrorKind{nlquery.ErrAuth, nlquery.ErrPermission} {
		a := Analyze(kind, "denied", "", nlquery.DialectPostgres, snap)
		if a.ShouldRetry {
			t.Errorf("expected should_retry=false for %v", kind)
		}
	}
}

func TestShouldRetryTrueForSyntaxError(t *testing.T) {
	snap := testSnapshot()
	a := Analyze(nlquery.ErrSyntax, "syntax error", "", nlquery.DialectPostgres, snap)
	if !a.ShouldRetry {
		t.Error("expected should_retry=true for syntax errors")
	}
}

func TestShouldRetryFalseForOverlongOtherMessage(t *testing.T) {
	snap := testSnapshot()
	long := make([]byte, maxOtherMessageLen+1)
	for i := range long {
		long[i] = 'x'
	}
	a := Analyze(nlquery.ErrOther, string(long), "", nlquery.DialectPostgres, snap)
	if a.ShouldRetry {
		t.Error("expected should_retry=false for an overlong Other message")
	}
}
