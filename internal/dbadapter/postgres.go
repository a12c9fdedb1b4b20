package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

type postgresDialect struct{}

func newPostgresDialect() Dialect { return postgresDialect{} }

func (postgresDialect) Name() nlquery.Dialect { return nlquery.DialectPostgres }

func (postgresDialect) Idioms() Idioms {
	return Idioms{
		LimitSyntax:      "LIMIT %d",
		CurrentTimestamp: "CURRENT_TIMESTAMP",
		ConcatOperator:   "||",
		IdentifierQuote:  `"`,
		PaginationStyle:  "LIMIT/OFFSET",
		SystemPromptRules: "Target dialect: PostgreSQL. Use CURRENT_TIMESTAMP, the " +
			"`||` string concatenation operator, double-quoted identifiers, and " +
			"`LIMIT n` for row limits.",
	}
}

func (postgresDialect) Open(ctx context.Context, handle nlquery.ConnectionHandle) (*sql.DB, error) {
	dsn := fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=prefer", handle.User, handle.Host, handle.Port, handle.Database)
	return sql.Open("pgx", dsn)
}

// Introspect lists every table/view the role can select from
// (information_schema), fetching columns/PKs/FKs for each table
// concurrently via errgroup.
func (postgresDialect) Introspect(ctx context.Context, db *sql.DB, handle nlquery.ConnectionHandle, tableSubset []string) (*nlquery.SchemaSnapshot, error) {
	snap := &nlquery.SchemaSnapshot{
		DatabaseName:   handle.Database,
		ConnectionInfo: nlquery.ConnectionInfo{Host: handle.Host, Port: handle.Port, Database: handle.Database},
		Tables:         []nlquery.TableInfo{},
		Views:          []nlquery.TableInfo{},
	}

	subset := toSet(tableSubset)

	rows, err := db.QueryContext(ctx, `
		SELECT table_name, table_type FROM information_schema.tables
		WHERE table_schema = 'public'
		ORDER BY table_name`)
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
			table, err := pgIntrospectTable(gctx, db, nt.name)
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
		if nt.typ == "VIEW" {
			snap.Views = append(snap.Views, tables[i])
		} else {
			snap.Tables = append(snap.Tables, tables[i])
		}
	}
	return snap, nil
}

func pgIntrospectTable(ctx context.Context, db *sql.DB, name string) (nlquery.TableInfo, error) {
	table := nlquery.TableInfo{FullName: "public." + name, TableName: name}

	colRows, err := db.QueryContext(ctx, `
		SELECT c.column_name, c.data_type, c.is_nullable, COALESCE(c.column_default, ''),
		       EXISTS (
		         SELECT 1 FROM information_schema.key_column_usage kcu
		         JOIN information_schema.table_constraints tc
		           ON tc.constraint_name = kcu.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
		         WHERE kcu.table_name = c.table_name AND kcu.column_name = c.column_name
		       ) AS is_pk
		FROM information_schema.columns c
		WHERE c.table_schema = 'public' AND c.table_name = $1
		ORDER BY c.ordinal_position`, name)
	if err != nil {
		return table, err
	}
	defer colRows.Close()
	for colRows.Next() {
		var col nlquery.ColumnInfo
		var nullable string
		if err := colRows.Scan(&col.Name, &col.DataType, &nullable, &col.DefaultValue, &col.IsPrimaryKey); err != nil {
			return table, err
		}
		col.IsNullable = strings.EqualFold(nullable, "YES")
		table.Columns = append(table.Columns, col)
		if col.IsPrimaryKey {
			table.PrimaryKey = append(table.PrimaryKey, col.Name)
		}
	}
	if err := colRows.Err(); err != nil {
		return table, err
	}

	fkRows, err := db.QueryContext(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name
		JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = $1`, name)
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

func (postgresDialect) ApplyLimit(sqlText string, limit int, hasUserLimit bool) string {
	if hasUserLimit || limit <= 0 {
		return sqlText
	}
	return strings.TrimRight(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"), " ") +
		fmt.Sprintf(" LIMIT %d", limit)
}

func (postgresDialect) Classify(err error) nlquery.ErrorKind {
	var pgErr *pgconn.PgError
	if asPgError(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "28"): // invalid_authorization_specification
			return nlquery.ErrAuth
		case strings.HasPrefix(pgErr.Code, "42501"): // insufficient_privilege
			return nlquery.ErrPermission
		case pgErr.Code == "42P01", pgErr.Code == "42703": // undefined_table/column
			return nlquery.ErrObjectNotFound
		case pgErr.Code == "42601": // syntax_error
			return nlquery.ErrSyntax
		case strings.HasPrefix(pgErr.Code, "42804"): // datatype_mismatch
			return nlquery.ErrTypeMismatch
		}
	}
	return classifyGeneric(err.Error())
}

// asPgError does an errors.As without importing errors here, to keep this
// file's import list focused; equivalent to errors.As(err, target).
func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pe, ok := err.(*pgconn.PgError); ok {
			*target = pe
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
