// Package dbadapter implements C1: dialect-specific connect, introspect,
// and execute behind one contract. Concurrent multi-schema introspection
// uses an errgroup to fan out table introspection.
package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// Idioms are the dialect-specific SQL idioms C3 needs to steer prompt
// instructions.
type Idioms struct {
	LimitSyntax string // e.g. "LIMIT %d", "WHERE ROWNUM <= %d"
	CurrentTimestamp string
	ConcatOperator string
	IdentifierQuote string
	PaginationStyle string
	SystemPromptRules string // verbatim text injected into the system prompt
}

// Dialect is the per-database-kind contract each adapter implements.
type Dialect interface {
	Name() nlquery.Dialect
	Idioms() Idioms
	Open(ctx context.Context, handle nlquery.ConnectionHandle) (*sql.DB, error)
	Introspect(ctx context.Context, db *sql.DB, handle nlquery.ConnectionHandle, tableSubset []string) (*nlquery.SchemaSnapshot, error)
	ApplyLimit(sqlText string, limit int, hasUserLimit bool) string
	Classify(err error) nlquery.ErrorKind
}

// Adapter is C1's public contract: connect, introspect,
// execute, disconnect.
type Adapter struct {
	mu sync.Mutex
	dialects map[nlquery.Dialect]Dialect
	pools *pool
}

// New builds an Adapter wired with every supported dialect.
func New() *Adapter {
	a := &Adapter{
		dialects: map[nlquery.Dialect]Dialect{
			nlquery.DialectPostgres: newPostgresDialect(),
			nlquery.DialectMySQL: newMySQLDialect(),
			nlquery.DialectOracle: newOracleDialect(),
			nlquery.DialectSQLite: newSQLiteDialect(),
		},
		pools: newPool(),
	}
	return a
}

func (a *Adapter) dialectFor(d nlquery.Dialect) (Dialect, error) {
	dia, ok := a.dialects[d]
	if !ok {
		return nil, nlquery.NewQueryError(nlquery.ErrOther, fmt.Sprintf("unsupported dialect %q", d), nil)
	}
	return dia, nil
}

// Connect validates credentials on first real query (a ping), not just on
// socket open,
func (a *Adapter) Connect(ctx context.Context, handle nlquery.ConnectionHandle) error {
	dia, err := a.dialectFor(handle.Dialect)
	if err != nil {
		return err
	}
	db, err := a.pools.getOrOpen(ctx, handle, dia)
	if err != nil {
		return nlquery.NewQueryError(nlquery.ErrConnection, "failed to open connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return classifyConnect(dia, err)
	}
	return nil
}

// Introspect runs C1's introspect() operation.
func (a *Adapter) Introspect(ctx context.Context, handle nlquery.ConnectionHandle, tableSubset []string) (*nlquery.SchemaSnapshot, error) {
	dia, err := a.dialectFor(handle.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := a.pools.getOrOpen(ctx, handle, dia)
	if err != nil {
		return nil, nlquery.NewQueryError(nlquery.ErrConnection, "failed to open connection", err)
	}
	snap, err := dia.Introspect(ctx, db, handle, tableSubset)
	if err != nil {
		return nil, nlquery.NewQueryError(dia.Classify(err), "introspection failed", err)
	}
	return snap, nil
}

// Idioms returns the dialect's declared SQL idioms, for C3.
func (a *Adapter) Idioms(d nlquery.Dialect) (Idioms, error) {
	dia, err := a.dialectFor(d)
	if err != nil {
		return Idioms{}, err
	}
	return dia.Idioms(), nil
}

// Execute runs generated SQL, enforcing a server-side LIMIT/ROWNUM only
// when the SQL has no user-specified limit.
func (a *Adapter) Execute(ctx context.Context, handle nlquery.ConnectionHandle, sqlText string, limit int, hasUserLimit bool) (*nlquery.ResultSet, error) {
	dia, err := a.dialectFor(handle.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := a.pools.getOrOpen(ctx, handle, dia)
	if err != nil {
		return nil, nlquery.NewQueryError(nlquery.ErrConnection, "failed to open connection", err)
	}

	final := dia.ApplyLimit(sqlText, limit, hasUserLimit)

	start := time.Now()
	rows, err := db.QueryContext(ctx, final)
	if err != nil {
		return nil, nlquery.NewQueryError(dia.Classify(err), "execute failed", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nlquery.NewQueryError(nlquery.ErrOther, "reading columns failed", err)
	}

	var result nlquery.ResultSet
	result.Columns = cols

	for rows.Next() {
		dests := make([]any, len(cols))
		raw := make([]sql.RawBytes, len(cols))
		for i := range dests {
			dests[i] = &raw[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, nlquery.NewQueryError(nlquery.ErrOther, "row scan failed", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if raw[i] == nil {
				row[c] = nil
			} else {
				row[c] = string(raw[i])
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nlquery.NewQueryError(dia.Classify(err), "row iteration failed", err)
	}
	result.Elapsed = time.Since(start)
	return &result, nil
}

// Disconnect releases the pool for this handle and clears any
// handle-scoped resources. Caches keyed by connection_id are cleared by
// the caller (the connection_id survives disconnect/reconnect of the
// underlying pool by design).
func (a *Adapter) Disconnect(handle nlquery.ConnectionHandle) {
	a.pools.close(handle)
}

func classifyConnect(dia Dialect, err error) error {
	return nlquery.NewQueryError(dia.Classify(err), "ping failed", err)
}
