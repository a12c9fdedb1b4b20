package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

type mysqlDialect struct{}

func newMySQLDialect() Dialect { return mysqlDialect{} }

func (mysqlDialect) Name() nlquery.Dialect { return nlquery.DialectMySQL }

func (mysqlDialect) Idioms() Idioms {
	return Idioms{
		LimitSyntax:      "LIMIT %d",
		CurrentTimestamp: "NOW()",
		ConcatOperator:   "CONCAT(...)",
		IdentifierQuote:  "`",
		PaginationStyle:  "LIMIT/OFFSET",
		SystemPromptRules: "Target dialect: MySQL. Use NOW(), CONCAT(a, b) instead of " +
			"`||`, backtick-quoted identifiers, and `LIMIT n` for row limits.",
	}
}

func (mysqlDialect) Open(ctx context.Context, handle nlquery.ConnectionHandle) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", handle.User, handle.Host, handle.Port, handle.Database)
	return sql.Open("mysql", dsn)
}

// Introspect enumerates tables from information_schema.tables, then
// fetches per-table detail concurrently.
func (mysqlDialect) Introspect(ctx context.Context, db *sql.DB, handle nlquery.ConnectionHandle, tableSubset []string) (*nlquery.SchemaSnapshot, error) {
	snap := &nlquery.SchemaSnapshot{
		DatabaseName:   handle.Database,
		ConnectionInfo: nlquery.ConnectionInfo{Host: handle.Host, Port: handle.Port, Database: handle.Database},
		Tables:         []nlquery.TableInfo{},
		Views:          []nlquery.TableInfo{},
	}
	subset := toSet(tableSubset)

	rows, err := db.QueryContext(ctx, `
		SELECT table_name, table_type FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name`, handle.Database)
	if err != nil {
		return nil, err
	}
	type nameType struct{ name, typ string }
	var found []nameType
	for rows.Next() {
		var nt nameType
		if err := rows.Scan(&nt.name, &nt.typ); err != nil {
			rows.Close()
			return nil, err
		}
		if subset != nil && !subset[nt.name] {
			continue
		}
		found = append(found, nt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]nlquery.TableInfo, len(found))
	g, gctx := errgroup.WithContext(ctx)
	for i, nt := range found {
		i, nt := i, nt
		g.Go(func() error {
			table, err := mysqlIntrospectTable(gctx, db, handle.Database, nt.name)
			if err != nil {
				return fmt.Errorf("introspecting %s: %w", nt.name, err)
			}
			tables[i] = table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, nt := range found {
		if strings.EqualFold(nt.typ, "VIEW") {
			snap.Views = append(snap.Views, tables[i])
		} else {
			snap.Tables = append(snap.Tables, tables[i])
		}
	}
	return snap, nil
}

func mysqlIntrospectTable(ctx context.Context, db *sql.DB, schema, name string) (nlquery.TableInfo, error) {
	table := nlquery.TableInfo{FullName: schema + "." + name, TableName: name}

	colRows, err := db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_key, COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return table, err
	}
	defer colRows.Close()
	for colRows.Next() {
		var col nlquery.ColumnInfo
		var nullable, key string
		if err := colRows.Scan(&col.Name, &col.DataType, &nullable, &key, &col.DefaultValue); err != nil {
			return table, err
		}
		col.IsNullable = strings.EqualFold(nullable, "YES")
		col.IsPrimaryKey = key == "PRI"
		table.Columns = append(table.Columns, col)
		if col.IsPrimaryKey {
			table.PrimaryKey = append(table.PrimaryKey, col.Name)
		}
	}
	if err := colRows.Err(); err != nil {
		return table, err
	}

	fkRows, err := db.QueryContext(ctx, `
		SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL`, schema, name)
	if err != nil {
		return table, err
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var fk nlquery.ForeignKey
		if err := fkRows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return table, err
		}
		table.ForeignKeys = append(table.ForeignKeys, fk)
	}
	return table, fkRows.Err()
}

func (mysqlDialect) ApplyLimit(sqlText string, limit int, hasUserLimit bool) string {
	if hasUserLimit || limit <= 0 {
		return sqlText
	}
	return strings.TrimRight(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"), " ") +
		fmt.Sprintf(" LIMIT %d", limit)
}

func (mysqlDialect) Classify(err error) nlquery.ErrorKind {
	var myErr *mysql.MySQLError
	if asMySQLError(err, &myErr) {
		switch myErr.Number {
		case 1045: // access denied for user
			return nlquery.ErrAuth
		case 1142, 1143: // command/column denied
			return nlquery.ErrPermission
		case 1146, 1054: // table/column doesn't exist
			return nlquery.ErrObjectNotFound
		case 1064: // syntax error
			return nlquery.ErrSyntax
		case 1366: // incorrect value for column type
			return nlquery.ErrTypeMismatch
		}
	}
	return classifyGeneric(err.Error())
}

func asMySQLError(err error, target **mysql.MySQLError) bool {
	for err != nil {
		if me, ok := err.(*mysql.MySQLError); ok {
			*target = me
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
