package dbadapter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

func newTestSQLiteFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	a := New()
	handle := nlquery.ConnectionHandle{Dialect: nlquery.DialectSQLite, FilePath: path}
	if err := a.Connect(context.Background(), handle); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	db, err := a.pools.getOrOpen(context.Background(), handle, a.dialects[nlquery.DialectSQLite])
	if err != nil {
		t.Fatalf("getOrOpen: %v", err)
	}
	stmts := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL, total REAL, FOREIGN KEY(customer_id) REFERENCES customers(id))`,
		`INSERT INTO customers (id, name, email) VALUES (1, 'Ada', 'ada@example.com')`,
		`INSERT INTO orders (id, customer_id, total) VALUES (1, 1, 42.5)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	a.Disconnect(handle)
	return path
}

func TestIntrospectPreservesConnectionInfo(t *testing.T) {
	path := newTestSQLiteFile(t)
	a := New()
	handle := nlquery.ConnectionHandle{Dialect: nlquery.DialectSQLite, FilePath: path}

	snap, err := a.Introspect(context.Background(), handle, nil)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if snap.ConnectionInfo.Database != path {
		t.Errorf("connection_info.database = %q, want %q", snap.ConnectionInfo.Database, path)
	}
	if snap.Tables == nil {
		t.Error("tables must never be nil")
	}
	if snap.Views == nil {
		t.Error("views must never be nil")
	}
	if len(snap.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(snap.Tables))
	}
}

func TestIntrospectTableSubset(t *testing.T) {
	path := newTestSQLiteFile(t)
	a := New()
	handle := nlquery.ConnectionHandle{Dialect: nlquery.DialectSQLite, FilePath: path}

	snap, err := a.Introspect(context.Background(), handle, []string{"customers"})
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if len(snap.Tables) != 1 || snap.Tables[0].TableName != "customers" {
		t.Fatalf("expected only customers table, got %+v", snap.Tables)
	}
}

func TestIntrospectColumnsAndForeignKeys(t *testing.T) {
	path := newTestSQLiteFile(t)
	a := New()
	handle := nlquery.ConnectionHandle{Dialect: nlquery.DialectSQLite, FilePath: path}

	snap, err := a.Introspect(context.Background(), handle, nil)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	orders, ok := snap.TableByName("orders")
	if !ok {
		t.Fatal("orders table not found")
	}
	if len(orders.ForeignKeys) != 1 {
		t.Fatalf("expected 1 foreign key, got %d", len(orders.ForeignKeys))
	}
	fk := orders.ForeignKeys[0]
	if fk.Column != "customer_id" || fk.RefTable != "customers" || fk.RefColumn != "id" {
		t.Errorf("unexpected foreign key: %+v", fk)
	}

	customers, ok := snap.TableByName("customers")
	if !ok {
		t.Fatal("customers table not found")
	}
	if len(customers.PrimaryKey) != 1 || customers.PrimaryKey[0] != "id" {
		t.Errorf("expected primary key [id], got %+v", customers.PrimaryKey)
	}
}

func TestExecuteAppliesLimitWhenAbsent(t *testing.T) {
	path := newTestSQLiteFile(t)
	a := New()
	handle := nlquery.ConnectionHandle{Dialect: nlquery.DialectSQLite, FilePath: path}

	result, err := a.Execute(context.Background(), handle, "SELECT * FROM customers", 10, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if len(result.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(result.Columns))
	}
}

func TestExecuteClassifiesMissingTable(t *testing.T) {
	path := newTestSQLiteFile(t)
	a := New()
	handle := nlquery.ConnectionHandle{Dialect: nlquery.DialectSQLite, FilePath: path}

	_, err := a.Execute(context.Background(), handle, "SELECT * FROM nonexistent", 10, false)
	if err == nil {
		t.Fatal("expected an error for missing table")
	}
	qe, ok := err.(*nlquery.QueryError)
	if !ok {
		t.Fatalf("expected *nlquery.QueryError, got %T", err)
	}
	if qe.Kind != nlquery.ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", qe.Kind)
	}
}

func TestApplyLimitSkippedWhenUserSuppliedLimit(t *testing.T) {
	dia := newSQLiteDialect()
	sql := dia.ApplyLimit("SELECT * FROM t LIMIT 5", 100, true)
	if sql != "SELECT * FROM t LIMIT 5" {
		t.Errorf("expected unchanged SQL, got %q", sql)
	}
}

func TestDialectIdiomsDiffer(t *testing.T) {
	a := New()
	pg, err := a.Idioms(nlquery.DialectPostgres)
	if err != nil {
		t.Fatalf("Idioms(postgres): %v", err)
	}
	my, err := a.Idioms(nlquery.DialectMySQL)
	if err != nil {
		t.Fatalf("Idioms(mysql): %v", err)
	}
	if pg.IdentifierQuote == my.IdentifierQuote {
		t.Error("postgres and mysql should quote identifiers differently")
	}
	if pg.LimitSyntax != my.LimitSyntax {
		t.Error("postgres and mysql should share LIMIT n syntax")
	}
}

func TestUnsupportedDialectErrors(t *testing.T) {
	a := New()
	_, err := a.Idioms(nlquery.Dialect("unsupported"))
	if err == nil {
		t.Fatal("expected error for unsupported dialect")
	}
}

func TestOracleApplyLimitWrapsWhenWhereClausePresent(t *testing.T) {
	dia := newOracleDialect()
	got := dia.ApplyLimit("SELECT * FROM t WHERE x = 1", 10, false)
	want := "SELECT * FROM (SELECT * FROM t WHERE x = 1) WHERE ROWNUM <= 10"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestOracleApplyLimitAppendsWhenNoWhereClause(t *testing.T) {
	dia := newOracleDialect()
	got := dia.ApplyLimit("SELECT * FROM t", 10, false)
	want := "SELECT * FROM t WHERE ROWNUM <= 10"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
