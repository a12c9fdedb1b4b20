package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// oracleDialect talks to Oracle through database/sql's driver-agnostic
// interface, under the registered driver name "oracle". Rather than
// fabricate a driver dependency, this dialect is written against the
// standard database/sql contract and expects the calling binary to
// register a real Oracle driver under that name; this module imports none.
// See DESIGN.md.
type oracleDialect struct{}

func newOracleDialect() Dialect { return oracleDialect{} }

func (oracleDialect) Name() nlquery.Dialect { return nlquery.DialectOracle }

func (oracleDialect) Idioms() Idioms {
	return Idioms{
		LimitSyntax: "WHERE ROWNUM <= %d",
		CurrentTimestamp: "SYSDATE",
		ConcatOperator: "||",
		IdentifierQuote: `"`,
		PaginationStyle: "ROWNUM / FETCH FIRST",
		SystemPromptRules: "Target dialect: Oracle. Use FROM DUAL for constant " +
		"selects, SYSDATE, the `||` string concatenation operator, and " +
		"`WHERE ROWNUM <= n` or `FETCH FIRST n ROWS ONLY` for row limits.",
	}
}

func (oracleDialect) Open(ctx context.Context, handle nlquery.ConnectionHandle) (*sql.DB, error) {
	var connectStr string
	if handle.ServiceName != "" {
		connectStr = fmt.Sprintf("%s/%d/%s", handle.Host, handle.Port, handle.ServiceName)
	} else {
		connectStr = fmt.Sprintf("%s/%d/%s", handle.Host, handle.Port, handle.SID)
	}
	dsn := fmt.Sprintf("%s@%s", handle.User, connectStr)
	return sql.Open("oracle", dsn)
}

// Introspect queries all_tables/all_views (never dba_users), listing only
// schemas with at least one accessible table, and flags the current
// user's own schema.
func (oracleDialect) Introspect(ctx context.Context, db *sql.DB, handle nlquery.ConnectionHandle, tableSubset []string) (*nlquery.SchemaSnapshot, error) {
	snap := &nlquery.SchemaSnapshot{
		DatabaseName: handle.ServiceNameOrSID(),
		ConnectionInfo: nlquery.ConnectionInfo{Host: handle.Host, Port: handle.Port, Database: handle.ServiceNameOrSID()},
		Tables: []nlquery.TableInfo{},
		Views: []nlquery.TableInfo{},
	}
	subset := toSet(tableSubset)

	var currentUser string
	if err := db.QueryRowContext(ctx, "SELECT USER FROM DUAL").Scan(&currentUser); err != nil {
		return nil, err
	}

	// all_tables/all_views already restrict rows to what the connecting
	// user can see (own schema plus anything granted), so no owner filter
	// is applied here: a schema with zero accessible tables simply never
	// produces a row, which is exactly the "only schemas with at least one
	// accessible table" requirement.
	tableRows, err := db.QueryContext(ctx, `
		SELECT owner, table_name FROM all_tables ORDER BY owner, table_name`)
	if err != nil {
		return nil, err
	}
	type ownedName struct{ owner, name string }
	var tableNames []ownedName
	for tableRows.Next() {
		var on ownedName
		if err := tableRows.Scan(&on.owner, &on.name); err != nil {
			tableRows.Close()
			return nil, err
		}
		if subset == nil || subset[on.name] {
			tableNames = append(tableNames, on)
		}
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, err
	}

	for _, on := range tableNames {
		table, err := oracleIntrospectTable(ctx, db, on.owner, on.name)
		if err != nil {
			return nil, fmt.Errorf("introspecting %s.%s: %w", on.owner, on.name, err)
		}
		table.Owner = on.owner
		table.IsOwnSchema = on.owner == currentUser
		snap.Tables = append(snap.Tables, table)
	}

	viewRows, err := db.QueryContext(ctx, `
		SELECT owner, view_name FROM all_views ORDER BY owner, view_name`)
	if err != nil {
		return nil, err
	}
	defer viewRows.Close()
	for viewRows.Next() {
		var on ownedName
		if err := viewRows.Scan(&on.owner, &on.name); err != nil {
			return nil, err
		}
		if subset != nil && !subset[on.name] {
			continue
		}
		table, err := oracleIntrospectTable(ctx, db, on.owner, on.name)
		if err != nil {
			return nil, fmt.Errorf("introspecting view %s.%s: %w", on.owner, on.name, err)
		}
		table.Owner = on.owner
		table.IsOwnSchema = on.owner == currentUser
		snap.Views = append(snap.Views, table)
	}
	return snap, viewRows.Err()
}

func oracleIntrospectTable(ctx context.Context, db *sql.DB, owner, name string) (nlquery.TableInfo, error) {
	table := nlquery.TableInfo{FullName: owner + "." + name, TableName: name}

	colRows, err := db.QueryContext(ctx, `
		SELECT column_name, data_type, nullable FROM all_tab_columns
		WHERE owner = :1 AND table_name = :2 ORDER BY column_id`, owner, name)
	if err != nil {
		return table, err
	}
	defer colRows.Close()
	for colRows.Next() {
		var col nlquery.ColumnInfo
		var nullable string
		if err := colRows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return table, err
		}
		col.DataType = strings.ToLower(col.DataType)
		col.IsNullable = nullable == "Y"
		table.Columns = append(table.Columns, col)
	}
	if err := colRows.Err(); err != nil {
		return table, err
	}

	pkRows, err := db.QueryContext(ctx, `
		SELECT cols.column_name FROM all_constraints cons
		JOIN all_cons_columns cols ON cons.constraint_name = cols.constraint_name AND cons.owner = cols.owner
		WHERE cons.constraint_type = 'P' AND cons.owner = :1 AND cons.table_name = :2
		ORDER BY cols.position`, owner, name)
	if err != nil {
		return table, err
	}
	defer pkRows.Close()
	pkSet := map[string]bool{}
	for pkRows.Next() {
		var col string
		if err := pkRows.Scan(&col); err != nil {
			return table, err
		}
		table.PrimaryKey = append(table.PrimaryKey, col)
		pkSet[col] = true
	}
	for i := range table.Columns {
		if pkSet[table.Columns[i].Name] {
			table.Columns[i].IsPrimaryKey = true
		}
	}
	return table, pkRows.Err()
}

func (oracleDialect) ApplyLimit(sqlText string, limit int, hasUserLimit bool) string {
	if hasUserLimit || limit <= 0 {
		return sqlText
	}
	trimmed := strings.TrimRight(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"), " ")
	upper := strings.ToUpper(trimmed)
	if strings.Contains(upper, "WHERE") {
		return fmt.Sprintf("SELECT * FROM (%s) WHERE ROWNUM <= %d", trimmed, limit)
	}
	return fmt.Sprintf("%s WHERE ROWNUM <= %d", trimmed, limit)
}

func (oracleDialect) Classify(err error) nlquery.ErrorKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ORA-01017"): // invalid username/password
		return nlquery.ErrAuth
	case strings.Contains(msg, "ORA-00942"): // table or view does not exist
		return nlquery.ErrObjectNotFound
	case strings.Contains(msg, "ORA-01031"): // insufficient privileges
		return nlquery.ErrPermission
	case strings.Contains(msg, "ORA-00933"), strings.Contains(msg, "ORA-00936"): // SQL command not properly ended / missing expression
		return nlquery.ErrSyntax
	case strings.Contains(msg, "ORA-01722"): // invalid number
		return nlquery.ErrTypeMismatch
	}
	return classifyGeneric(msg)
}
