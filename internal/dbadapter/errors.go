package dbadapter

import (
	"strings"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// classifyGeneric maps a driver error message to the closed error taxonomy
// using substring heuristics. Dialects with a structured error
// type (pgx, go-sql-driver/mysql) should prefer classifying on that
// structure first and fall back to this only for unrecognized shapes.
func classifyGeneric(msg string) nlquery.ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "type mismatch"), strings.Contains(lower, "incompatible types"),
		strings.Contains(lower, "operator does not exist"):
		return nlquery.ErrTypeMismatch
	case strings.Contains(lower, "no such table"), strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "unknown table"), strings.Contains(lower, "unknown column"),
		strings.Contains(lower, "no such column"):
		return nlquery.ErrObjectNotFound
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"):
		return nlquery.ErrPermission
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "password"):
		return nlquery.ErrAuth
	case strings.Contains(lower, "syntax error"), strings.Contains(lower, "syntax"):
		return nlquery.ErrSyntax
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return nlquery.ErrTimeout
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"), strings.Contains(lower, "dial tcp"):
		return nlquery.ErrConnection
	case strings.Contains(lower, "too many rows"), strings.Contains(lower, "result set too large"):
		return nlquery.ErrOther
	default:
		return nlquery.ErrOther
	}
}
