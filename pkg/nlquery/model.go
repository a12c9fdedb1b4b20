// Package nlquery holds the shared data model that every
// component (C1-C9) reads and writes. Centralizing it here, instead of
// letting each package define its own view, is what keeps the
// connection_info invariant enforceable: there is exactly one ColumnInfo,
// one SchemaSnapshot, one Ontology struct in the whole module.
package nlquery

import (
	"fmt"
	"time"
)

// Dialect identifies one of the four supported database backends.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL Dialect = "mysql"
	DialectOracle Dialect = "oracle"
	DialectSQLite Dialect = "sqlite"
)

// ConnectionHandle identifies an open database session. It is immutable
// once created; derive connection_id is the only key used by downstream
// caches and stores.
type ConnectionHandle struct {
	Dialect Dialect
	Host string
	Port int
	Database string
	SID string // Oracle
	ServiceName string // Oracle
	FilePath string // SQLite
	User string
}

// ConnectionID derives the stable partition key used by every per-database
// cache and persisted artifact in the system.
func (h ConnectionHandle) ConnectionID() string {
	if h.Dialect == DialectSQLite {
		return fmt.Sprintf("%s_sqlite_0", h.FilePath)
	}
	return fmt.Sprintf("%s_%s_%d", h.Database, h.Host, h.Port)
}

// ServiceNameOrSID returns whichever of ServiceName/SID identifies the
// Oracle instance, preferring ServiceName (the modern form).
func (h ConnectionHandle) ServiceNameOrSID() string {
	if h.ServiceName != "" {
		return h.ServiceName
	}
	return h.SID
}

// PoolKey identifies the connection pool this handle should be checked out
// from: one pool per distinct (dialect, host, port, database, user) tuple.
func (h ConnectionHandle) PoolKey() string {
	if h.Dialect == DialectSQLite {
		return fmt.Sprintf("sqlite:%s", h.FilePath)
	}
	return fmt.Sprintf("%s:%s:%d:%s:%s", h.Dialect, h.Host, h.Port, h.Database, h.User)
}

// ConnectionInfo is the sub-object every SchemaSnapshot carries and every
// transform must preserve.
type ConnectionInfo struct {
	Host string `json:"host"`
	Port int `json:"port"`
	Database string `json:"database"`
}

// ColumnInfo describes one column of one table.
type ColumnInfo struct {
	Name string `json:"name"`
	DataType string `json:"data_type"`
	IsNullable bool `json:"is_nullable"`
	IsPrimaryKey bool `json:"is_primary_key"`
	DefaultValue string `json:"default_value,omitempty"`
}

// ForeignKey describes one FK constraint on a table.
type ForeignKey struct {
	Column string `json:"column"`
	RefTable string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// TableInfo describes one introspected table or view.
type TableInfo struct {
	FullName string `json:"full_name"`
	TableName string `json:"table_name"`
	Columns []ColumnInfo `json:"columns"`
	PrimaryKey []string `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount *int64 `json:"row_count,omitempty"`
	SampleRows []map[string]any `json:"sample_rows,omitempty"` // at most 3, for LLM context
	Owner string `json:"owner,omitempty"` // schema/owner this table belongs to, dialects with multi-schema introspection (Oracle)
	IsOwnSchema bool `json:"is_own_schema,omitempty"` // true when Owner is the connected user's own schema
}

// SchemaSnapshot is the canonical introspected shape (C2's output). tables
// and views are always lists, never maps and never nil — downstream JSON
// consumers must see an array.
type SchemaSnapshot struct {
	DatabaseName string `json:"database_name"`
	ConnectionInfo ConnectionInfo `json:"connection_info"`
	Tables []TableInfo `json:"tables"`
	Views []TableInfo `json:"views"`
	Timestamp time.Time `json:"timestamp"`
}

// HasColumn reports whether name appears among this table's columns.
func (t TableInfo) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// TableByName looks name up in Tables, then Views, for C8's focus logic,
// without turning Tables itself into a map. It is a linear scan over both
// lists; no index is kept.
func (s *SchemaSnapshot) TableByName(name string) (TableInfo, bool) {
	for _, t := range s.Tables {
		if t.TableName == name {
			return t, true
		}
	}
	for _, v := range s.Views {
		if v.TableName == name {
			return v, true
		}
	}
	return TableInfo{}, false
}

// AllTableNames returns every table and view name, in order, for schema
// fingerprinting and prompt assembly.
func (s *SchemaSnapshot) AllTableNames() []string {
	names := make([]string, 0, len(s.Tables)+len(s.Views))
	for _, t := range s.Tables {
		names = append(names, t.TableName)
	}
	for _, v := range s.Views {
		names = append(names, v.TableName)
	}
	return names
}

// Concept is a domain noun realized by one or more tables.
type Concept struct {
	Name string `json:"name"`
	Description string `json:"description"`
	Tables []string `json:"tables"`
	Synonyms []string `json:"synonyms"`
}

// Property is a concept attribute mapped to one concrete (table, column).
type Property struct {
	Concept string `json:"concept"`
	PropertyName string `json:"property_name"`
	Table string `json:"table"`
	Column string `json:"column"`
	SemanticMeaning string `json:"semantic_meaning"`
	Confidence float64 `json:"confidence"`
}

// RelationshipType is the closed set of relationship kinds.
type RelationshipType string

const (
	RelationshipReferences RelationshipType = "references"
	RelationshipBelongsTo RelationshipType = "belongs_to"
	RelationshipHasMany RelationshipType = "has_many"
	RelationshipAssociatedWith RelationshipType = "associated_with"
)

// Relationship links two concepts, optionally via a junction table.
type Relationship struct {
	FromConcept string `json:"from_concept"`
	ToConcept string `json:"to_concept"`
	Type RelationshipType `json:"type"`
	ViaTable string `json:"via_table,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Ontology is bound to one connection_id.
type Ontology struct {
	ConnectionID string `json:"connection_id"`
	DatabaseName string `json:"database"`
	Concepts []Concept `json:"concepts"`
	Properties []Property `json:"properties"`
	Relationships []Relationship `json:"relationships"`
	GeneratedAt time.Time `json:"generated_at"`
	SchemaFingerprint string `json:"schema_fingerprint"`
}

// ColumnHint is an ontology or graph suggestion that a column is relevant.
type ColumnHint struct {
	Table string `json:"table"`
	Column string `json:"column"`
	Concept string `json:"concept"`
	Property string `json:"property"`
	Confidence float64 `json:"confidence"`
}

// ResolutionResult is C4's Resolve(question) output.
type ResolutionResult struct {
	Hints []ColumnHint `json:"hints"`
	Reasoning string `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// JoinPath is a sequence of tables connected by RELATED_TO edges.
type JoinPath struct {
	Tables []string `json:"tables"`
}

// GraphInsights is C5's insights(question) output.
type GraphInsights struct {
	SuggestedColumns map[string][]string `json:"suggested_columns"` // table -> columns
	JoinPaths []JoinPath `json:"join_paths"`
	RelatedTables []string `json:"related_tables"`
	RankedConcepts []ColumnHint `json:"ranked_concepts"`
}

// PastQuery is one recorded historical (question, SQL) pair.
type PastQuery struct {
	ID string `json:"id"`
	UserQuery string `json:"user_query"`
	SQLQuery string `json:"sql_query"`
	Dialect Dialect `json:"dialect"`
	SchemaName string `json:"schema_name,omitempty"`
	Success bool `json:"success"`
	Embedding []float64 `json:"embedding"`
	Metadata map[string]any `json:"metadata,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	ConnectionID string `json:"connection_id"`
}

// Terminal is the closed set of terminal QueryState outcomes.
type Terminal string

const (
	TerminalNone Terminal = ""
	TerminalSuccess Terminal = "success"
	TerminalExhausted Terminal = "exhausted"
	TerminalFatal Terminal = "fatal"
)

// ResultSet is what C1's execute() returns on success.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows []map[string]any `json:"rows"`
	Elapsed time.Duration `json:"elapsed"`
}

// Attempt records one generate/execute cycle for diagnostics.
type Attempt struct {
	SQL string `json:"sql"`
	Error string `json:"error,omitempty"`
}

// QueryState is transient state for one user question, threaded through C8.
type QueryState struct {
	Question string
	Handle ConnectionHandle
	Snapshot *SchemaSnapshot
	Attempt int
	MaxAttempts int
	LastSQL string
	LastError error
	FocusedTables []string
	OntologyHits ResolutionResult
	GraphHits GraphInsights
	RetrievalHits []PastQuery
	Terminal Terminal
	History []Attempt
}
