package statemachine

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nlquery/nlquery-go/internal/dbadapter"
	"github.com/nlquery/nlquery-go/internal/graphstore"
	"github.com/nlquery/nlquery-go/internal/llmprovider"
	"github.com/nlquery/nlquery-go/internal/retrieval"
	"github.com/nlquery/nlquery-go/internal/schema"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

func allDisabled() EnabledSet { return EnabledSet{} }

func newTestMachine(t *testing.T, provider llmprovider.Provider, enabled func() EnabledSet) (*Machine, nlquery.ConnectionHandle) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	handle := nlquery.ConnectionHandle{Dialect: nlquery.DialectSQLite, FilePath: path}

	mustExec(t, path, `CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	mustExec(t, path, `INSERT INTO customers (id, name) VALUES (1, 'Ada')`)

	adapter := dbadapter.New()
	schemaStore := schema.NewStore(adapter)
	graphStore := graphstore.NewStore(graphstore.NewInProcess())
	retrievalStore := retrieval.NewStore(retrieval.NewInProcess(), retrieval.NewHashEmbedder())

	m := New(adapter, schemaStore, nil, graphStore, retrievalStore, provider, enabled)
	return m, handle
}

// mustExec drives a DDL/DML statement straight through database/sql,
// bypassing the adapter entirely.
func mustExec(t *testing.T, path, stmt string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	provider := llmprovider.NewMock(`{"sql":"SELECT * FROM customers","explanation":"lists all customers"}`, nil)
	m, handle := newTestMachine(t, provider, allDisabled)

	result, err := m.Run(context.Background(), handle, "list all customers", nlquery.RunOptions{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SQL != "SELECT * FROM customers" {
		t.Errorf("unexpected SQL: %q", result.SQL)
	}
	if result.Result == nil || len(result.Result.Rows) != 1 {
		t.Fatalf("expected 1 row back, got %+v", result.Result)
	}
	if len(result.Trace) != 1 {
		t.Errorf("expected 1 trace entry, got %d", len(result.Trace))
	}
}

func TestRunRetriesAfterObjectNotFoundThenSucceeds(t *testing.T) {
	// The bad table name only shows up in the prompt once C7's error
	// message is folded into the retry attempt, so a single keyword is
	// enough to distinguish "first guess" from "corrected guess".
	byKeyword := map[string]string{
		"nope": `{"sql":"SELECT * FROM customers","explanation":"corrected"}`,
	}
	provider := llmprovider.NewMock(`{"sql":"SELECT * FROM nope","explanation":"bad first guess"}`, byKeyword)
	m, handle := newTestMachine(t, provider, allDisabled)

	result, err := m.Run(context.Background(), handle, "list all customers", nlquery.RunOptions{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SQL != "SELECT * FROM customers" {
		t.Errorf("expected the corrected SQL to win, got %q", result.SQL)
	}
	if len(result.Trace) != 2 {
		t.Errorf("expected 2 trace entries (failed + succeeded), got %d", len(result.Trace))
	}
	if result.Trace[0].Error == "" {
		t.Error("expected the first attempt's trace entry to carry an error")
	}
}

func TestRunFailsAfterMaxAttemptsOnPersistentSyntaxError(t *testing.T) {
	provider := llmprovider.NewMock(`{"sql":"not a statement","explanation":"always wrong"}`, nil)
	m, handle := newTestMachine(t, provider, allDisabled)

	_, err := m.Run(context.Background(), handle, "give me nonsense", nlquery.RunOptions{MaxAttempts: 2})
	if err == nil {
		t.Fatal("expected a RunError after exhausting attempts")
	}
	runErr, ok := err.(*nlquery.RunError)
	if !ok {
		t.Fatalf("expected *nlquery.RunError, got %T", err)
	}
	if len(runErr.Attempts) != 3 { // initial attempt + 2 retries
		t.Errorf("expected 3 recorded attempts, got %d", len(runErr.Attempts))
	}
}

func TestRunReadOnlyRejectsWriteStatement(t *testing.T) {
	// Starts with an allowed keyword so it clears Generate's keyword gate
	// and is instead caught by Validate's read-only DML scan.
	provider := llmprovider.NewMock(`{"sql":"WITH gone AS (DELETE FROM customers RETURNING *) SELECT * FROM gone","explanation":"wipes the table"}`, nil)
	m, handle := newTestMachine(t, provider, allDisabled)

	_, err := m.Run(context.Background(), handle, "delete everyone", nlquery.RunOptions{MaxAttempts: 0, ReadOnly: true})
	if err == nil {
		t.Fatal("expected an error for a write statement under ReadOnly")
	}
}

func TestRetryPromptOmitsRetrievalExamples(t *testing.T) {
	retrievalStore := retrieval.NewStore(retrieval.NewInProcess(), retrieval.NewHashEmbedder())
	if err := retrievalStore.Record(context.Background(), nlquery.PastQuery{
		UserQuery: "list all customers", SQLQuery: "SELECT * FROM customers",
		Dialect: nlquery.DialectSQLite, Success: true, ConnectionID: "c1",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var seenMessages [][]llmprovider.Message
	provider := &recordingProvider{
		Mock: llmprovider.NewMock(`{"sql":"SELECT * FROM nope","explanation":"bad"}`, nil),
		seen: &seenMessages,
	}

	m, handle := newTestMachine(t, provider, func() EnabledSet { return EnabledSet{Retrieval: true} })
	m.Retrieval = retrievalStore

	_, _ = m.Run(context.Background(), handle, "list all customers", nlquery.RunOptions{MaxAttempts: 1})

	if len(seenMessages) < 2 {
		t.Fatalf("expected at least 2 generation attempts, got %d", len(seenMessages))
	}
	firstUser := seenMessages[0][len(seenMessages[0])-1].Content
	secondUser := seenMessages[1][len(seenMessages[1])-1].Content
	if !strings.Contains(firstUser, "Similar past questions") {
		t.Error("expected the first attempt to include retrieval examples")
	}
	if strings.Contains(secondUser, "Similar past questions") {
		t.Error("expected the retry attempt to omit retrieval examples")
	}
}

type recordingProvider struct {
	*llmprovider.Mock
	seen *[][]llmprovider.Message
}

func (r *recordingProvider) CompleteJSON(ctx context.Context, messages []llmprovider.Message, params llmprovider.Params, schemaHint string) (map[string]any, error) {
	*r.seen = append(*r.seen, messages)
	return r.Mock.CompleteJSON(ctx, messages, params, schemaHint)
}
