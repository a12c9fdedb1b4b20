package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

type sqliteDialect struct{}

func newSQLiteDialect() Dialect { return sqliteDialect{} }

func (sqliteDialect) Name() nlquery.Dialect { return nlquery.DialectSQLite }

func (sqliteDialect) Idioms() Idioms {
	return Idioms{
		LimitSyntax: "LIMIT %d",
		CurrentTimestamp: "CURRENT_TIMESTAMP",
		ConcatOperator: "||",
		IdentifierQuote: `"`,
		PaginationStyle: "LIMIT/OFFSET",
		SystemPromptRules: "Target dialect: SQLite. Use CURRENT_TIMESTAMP, the " +
		"`||` string concatenation operator, and `LIMIT n` for row limits.",
	}
}

// Open connects via modernc.org/sqlite with a WAL-mode, busy-timeout
// connection string. FilePath must be a deliberate, explicit choice by
// the caller; there is no implicit default database file.
func (sqliteDialect) Open(ctx context.Context, handle nlquery.ConnectionHandle) (*sql.DB, error) {
	if handle.FilePath == "" {
		return nil, fmt.Errorf("sqlite: file_path is required")
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", handle.FilePath)
	return sql.Open("sqlite", dsn)
}

func (sqliteDialect) Introspect(ctx context.Context, db *sql.DB, handle nlquery.ConnectionHandle, tableSubset []string) (*nlquery.SchemaSnapshot, error) {
	snap := &nlquery.SchemaSnapshot{
		DatabaseName: handle.FilePath,
		ConnectionInfo: nlquery.ConnectionInfo{
			Host: "",
			Port: 0,
			Database: handle.FilePath,
		},
		Tables: []nlquery.TableInfo{},
		Views: []nlquery.TableInfo{}, // always initialized, never nil
	}

	subset := toSet(tableSubset)

	rows, err := db.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type nameType struct{ name, typ string }
	var found []nameType
	for rows.Next() {
		var nt nameType
		if err := rows.Scan(&nt.name, &nt.typ); err != nil {
			return nil, err
		}
		if subset != nil && !subset[nt.name] {
			continue
		}
		found = append(found, nt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, nt := range found {
		table, err := sqliteIntrospectTable(ctx, db, nt.name)
		if err != nil {
			return nil, err
		}
		if nt.typ == "view" {
			snap.Views = append(snap.Views, table)
		} else {
			snap.Tables = append(snap.Tables, table)
		}
	}
	return snap, nil
}

func sqliteIntrospectTable(ctx context.Context, db *sql.DB, name string) (nlquery.TableInfo, error) {
	table := nlquery.TableInfo{FullName: name, TableName: name}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return table, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return table, err
		}
		col := nlquery.ColumnInfo{
			Name: colName,
			DataType: strings.ToLower(colType),
			IsNullable: notNull == 0,
			IsPrimaryKey: pk > 0,
		}
		if dflt.Valid {
			col.DefaultValue = dflt.String
		}
		table.Columns = append(table.Columns, col)
		if pk > 0 {
			table.PrimaryKey = append(table.PrimaryKey, colName)
		}
	}
	if err := rows.Err(); err != nil {
		return table, err
	}

	fkRows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdent(name)))
	if err != nil {
		return table, err
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var id, seq int
		var refTable, from, to, onUpdate, onDelete, match string
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return table, err
		}
		table.ForeignKeys = append(table.ForeignKeys, nlquery.ForeignKey{
			Column: from, RefTable: refTable, RefColumn: to,
		})
	}
	return table, fkRows.Err()
}

func (sqliteDialect) ApplyLimit(sqlText string, limit int, hasUserLimit bool) string {
	if hasUserLimit || limit <= 0 {
		return sqlText
	}
	return strings.TrimRight(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"), " ") +
	fmt.Sprintf(" LIMIT %d", limit)
}

func (sqliteDialect) Classify(err error) nlquery.ErrorKind {
	return classifyGeneric(err.Error())
}

func quoteIdent(s string) string { return `"` + s + `"` }

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
