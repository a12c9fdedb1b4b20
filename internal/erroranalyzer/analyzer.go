// Package erroranalyzer implements C7: classifying a failed query's
// error, extracting mentioned/suggested tables, generating type-mismatch
// cast hints, and deciding whether the state machine should retry.
package erroranalyzer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

const maxOtherMessageLen = 500

// TypeInfo carries the two mismatched data types plus a dialect-specific
// cast hint.
type TypeInfo struct {
	ColumnA, TypeA string
	ColumnB, TypeB string
	CastHint string
}

// Analysis is C7's output.
type Analysis struct {
	Kind nlquery.ErrorKind
	MentionedTables []string
	SuggestedTables []string
	TypeInfo *TypeInfo
	Hints []string
	ShouldRetry bool
}

var identifierPattern = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)

// Analyze classifies a failed attempt and proposes recovery hints.
// dialect picks the cast-hint syntax; snap supplies the table names
// suggestion candidates are drawn from.
func Analyze(kind nlquery.ErrorKind, message, failedSQL string, dialect nlquery.Dialect, snap *nlquery.SchemaSnapshot) Analysis {
	a := Analysis{
		Kind: kind,
		MentionedTables: mentionedTables(message, failedSQL, snap),
	}

	switch kind {
	case nlquery.ErrObjectNotFound:
		a.SuggestedTables = suggestTables(message, failedSQL, snap)
		if len(a.SuggestedTables) > 0 {
			a.Hints = append(a.Hints, fmt.Sprintf("Did you mean one of: %s?", strings.Join(a.SuggestedTables, ", ")))
		}
	case nlquery.ErrTypeMismatch:
		if ti := extractTypeInfo(message, dialect); ti != nil {
			a.TypeInfo = ti
			a.Hints = append(a.Hints, fmt.Sprintf("Cast mismatch: try %s", ti.CastHint))
		}
	}

	a.ShouldRetry = shouldRetry(kind, message)
	return a
}

// mentionedTables extracts table-shaped identifiers from the error
// message and the failed SQL that also appear in the current snapshot.
func mentionedTables(message, failedSQL string, snap *nlquery.SchemaSnapshot) []string {
	known := make(map[string]bool)
	for _, name := range snap.AllTableNames() {
		known[strings.ToLower(name)] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, src := range []string{message, failedSQL} {
		for _, m := range identifierPattern.FindAllString(src, -1) {
			lower := strings.ToLower(m)
			if known[lower] && !seen[lower] {
				seen[lower] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// suggestTables returns up to 3 closest table names by Levenshtein
// distance to whichever unknown identifier appears in the message or SQL;
// names more than 3 edits away are not suggested.
func suggestTables(message, failedSQL string, snap *nlquery.SchemaSnapshot) []string {
	known := snap.AllTableNames()
	knownSet := make(map[string]bool, len(known))
	for _, n := range known {
		knownSet[strings.ToLower(n)] = true
	}

	candidates := map[string]bool{}
	for _, src := range []string{message, failedSQL} {
		for _, m := range identifierPattern.FindAllString(src, -1) {
			if len(m) < 2 || knownSet[strings.ToLower(m)] {
				continue
			}
			candidates[m] = true
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	type scored struct {
		name string
		dist int
	}
	best := map[string]int{}
	for cand := range candidates {
		for _, name := range known {
			d := levenshtein.ComputeDistance(strings.ToLower(cand), strings.ToLower(name))
			if existing, ok := best[name]; !ok || d < existing {
				best[name] = d
			}
		}
	}
	var all []scored
	for name, d := range best {
		all = append(all, scored{name, d})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].name < all[j].name
	})

	var out []string
	for _, s := range all {
		if s.dist > 3 {
			break
		}
		out = append(out, s.name)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// typeAssignFullPattern matches Postgres' 42804 datatype_mismatch text on an
// INSERT/UPDATE, e.g. `column "price" is of type integer but expression is
// of type character varying`.
var typeAssignFullPattern = regexp.MustCompile(`(?i)column\s+"?([A-Za-z_][A-Za-z0-9_.]*)"?\s+(?:is of type|has type)\s+([a-z ]+?)\s+but expression is of type\s+([a-z ]+)`)

// typeAssignShortPattern matches the same family without the "but
// expression" clause.
var typeAssignShortPattern = regexp.MustCompile(`(?i)column\s+"?([A-Za-z_][A-Za-z0-9_.]*)"?\s+(?:is of type|has type)\s+([a-z ]+)`)

// operatorMismatchPattern matches Postgres' 42883 undefined_function text for
// a comparison between incompatible types, e.g. `operator does not exist:
// integer = character varying` (the join/comparison shape, which never
// names a column).
var operatorMismatchPattern = regexp.MustCompile(`(?i)operator does not exist:\s*([a-z ]+?)\s*[=<>]+\s*([a-z ]+)`)

// mysqlIncorrectValuePattern matches go-sql-driver/mysql's 1366 text, e.g.
// `Incorrect integer value: 'abc' for column 'qty' at row 1`.
var mysqlIncorrectValuePattern = regexp.MustCompile(`(?i)Incorrect\s+([a-z]+)\s+value:\s*'[^']*'\s+for column\s+'([A-Za-z_][A-Za-z0-9_]*)'`)

func extractTypeInfo(message string, dialect nlquery.Dialect) *TypeInfo {
	if m := typeAssignFullPattern.FindStringSubmatch(message); m != nil {
		ti := &TypeInfo{
			ColumnA: m[1],
			TypeA: strings.TrimSpace(m[2]),
			TypeB: strings.TrimSpace(m[3]),
		}
		ti.CastHint = castSyntax(ti.ColumnA, ti.TypeA, dialect)
		return ti
	}
	if m := mysqlIncorrectValuePattern.FindStringSubmatch(message); m != nil {
		ti := &TypeInfo{
			ColumnA: m[2],
			TypeA: strings.TrimSpace(m[1]),
		}
		ti.CastHint = castSyntax(ti.ColumnA, ti.TypeA, dialect)
		return ti
	}
	if m := operatorMismatchPattern.FindStringSubmatch(message); m != nil {
		ti := &TypeInfo{
			ColumnA: "colA",
			TypeA: strings.TrimSpace(m[1]),
			ColumnB: "colB",
			TypeB: strings.TrimSpace(m[2]),
		}
		ti.CastHint = castSyntax(ti.ColumnA, ti.TypeB, dialect)
		return ti
	}
	if m := typeAssignShortPattern.FindStringSubmatch(message); m != nil {
		return &TypeInfo{
			ColumnA: m[1],
			TypeA: strings.TrimSpace(m[2]),
			CastHint: castSyntax(m[1], strings.TrimSpace(m[2]), dialect),
		}
	}
	return nil
}

// castSyntax renders `colA::INTEGER` for postgres,
// `CAST(colA AS INTEGER)` otherwise.
func castSyntax(column, targetType string, dialect nlquery.Dialect) string {
	normalized := strings.ToUpper(strings.Fields(targetType)[0])
	if dialect == nlquery.DialectPostgres {
		return fmt.Sprintf("%s::%s", column, normalized)
	}
	return fmt.Sprintf("CAST(%s AS %s)", column, normalized)
}

// shouldRetry implements rule: false for AuthError,
// PermissionError, and Other with an overlong message; true otherwise.
func shouldRetry(kind nlquery.ErrorKind, message string) bool {
	switch kind {
	case nlquery.ErrAuth, nlquery.ErrPermission:
		return false
	case nlquery.ErrOther:
		return len(message) <= maxOtherMessageLen
	default:
		return true
	}
}
