// Package budgeter implements C3: picking a prompt strategy from a model's
// declared context window and assembling each prompt section within its
// per-strategy token share.
package budgeter

import (
	"fmt"
	"strings"

	"github.com/nlquery/nlquery-go/internal/dbadapter"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// Strategy is one of the four fixed section-allocation profiles.
type Strategy string

const (
	StrategyConcise Strategy = "concise"
	StrategySemi Strategy = "semi"
	StrategyExpanded Strategy = "expanded"
	StrategyLarge Strategy = "large"
)

// shares holds the percentage of the total token budget each section gets.
type shares struct {
	system, schema, conversation, errorSection, reserved float64
}

var strategyShares = map[Strategy]shares{
	StrategyConcise: {0.15, 0.40, 0.20, 0.15, 0.10},
	StrategySemi: {0.12, 0.45, 0.20, 0.13, 0.10},
	StrategyExpanded: {0.10, 0.50, 0.20, 0.10, 0.10},
	StrategyLarge: {0.08, 0.55, 0.20, 0.10, 0.07},
}

const truncationSuffix = "...(truncated)"

// SelectStrategy maps a model's declared context window to one of the four
// fixed strategies.
func SelectStrategy(contextWindowTokens int) Strategy {
	switch {
	case contextWindowTokens <= 3000:
		return StrategyConcise
	case contextWindowTokens <= 6000:
		return StrategySemi
	case contextWindowTokens <= 10000:
		return StrategyExpanded
	default:
		return StrategyLarge
	}
}

// EstimateTokens applies the fixed chars/4 heuristic: no
// model-specific tokenizer is ever consulted.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Budget is the per-section token caps derived from a total budget and a
// strategy.
type Budget struct {
	Strategy Strategy
	Total int
	System int
	Schema int
	Conversation int
	Error int
	Reserved int
}

// NewBudget computes the per-section caps for a model's declared context
// window.
func NewBudget(contextWindowTokens int) Budget {
	strat := SelectStrategy(contextWindowTokens)
	sh := strategyShares[strat]
	return Budget{
		Strategy: strat,
		Total: contextWindowTokens,
		System: int(float64(contextWindowTokens) * sh.system),
		Schema: int(float64(contextWindowTokens) * sh.schema),
		Conversation: int(float64(contextWindowTokens) * sh.conversation),
		Error: int(float64(contextWindowTokens) * sh.errorSection),
		Reserved: int(float64(contextWindowTokens) * sh.reserved),
	}
}

// truncateToTokens truncates s to at most capTokens worth of chars/4,
// appending the literal overflow suffix when truncation occurs.
func truncateToTokens(s string, capTokens int) string {
	if capTokens <= 0 {
		return ""
	}
	maxChars := capTokens * 4
	if len(s) <= maxChars {
		return s
	}
	suffixLen := len(truncationSuffix)
	if maxChars <= suffixLen {
		return s[:maxChars]
	}
	return s[:maxChars-suffixLen] + truncationSuffix
}

// Assembled is the full prompt, section by section, ready to hand to the
// LLM provider as system + user messages. Ontology/Graph/Question/History
// are kept apart (rather than one bundled "conversation" blob) so the
// caller can place each in the mandated prompt order.
type Assembled struct {
	System string
	Schema string
	Ontology string
	Graph string
	Question string
	History string
	Error string
}

// AssembleOptions carries everything a section builder needs.
type AssembleOptions struct {
	Snapshot *nlquery.SchemaSnapshot
	Idioms dbadapter.Idioms
	Question string
	History []nlquery.Attempt
	LastErrorHint string
	FocusedTables []string // when set, only these tables appear in the schema section
	ForceFullTypes bool // C7 signals a type-mismatch: show full column types regardless of strategy
	OntologyReasoning string
	GraphReasoning string
}

// Assemble builds the prompt sections, each truncated to its budget's
// per-section cap. Ontology, Graph, Question, and History all draw on the
// conversation share: together they replace what used to be one bundled
// "conversation" blob.
func Assemble(b Budget, opts AssembleOptions) Assembled {
	return Assembled{
		System: truncateToTokens(buildSystemSection(opts), b.System),
		Schema: truncateToTokens(buildSchemaSection(b.Strategy, opts), b.Schema),
		Ontology: truncateToTokens(buildOntologySection(opts), b.Conversation),
		Graph: truncateToTokens(buildGraphSection(opts), b.Conversation),
		Question: truncateToTokens(buildQuestionSection(opts), b.Conversation),
		History: truncateToTokens(buildHistorySection(opts), b.Conversation),
		Error: truncateToTokens(buildErrorSection(opts), b.Error),
	}
}

func buildSystemSection(opts AssembleOptions) string {
	var sb strings.Builder
	sb.WriteString("You translate natural language questions into SQL queries.\n")
	if opts.Idioms.SystemPromptRules != "" {
		sb.WriteString(opts.Idioms.SystemPromptRules)
		sb.WriteString("\n")
	}
	sb.WriteString("Respond with the JSON object described in the user message, nothing else.")
	return sb.String()
}

func buildSchemaSection(strat Strategy, opts AssembleOptions) string {
	if opts.Snapshot == nil {
		return ""
	}
	tables := opts.Snapshot.Tables
	if len(opts.FocusedTables) > 0 {
		focus := make(map[string]bool, len(opts.FocusedTables))
		for _, t := range opts.FocusedTables {
			focus[t] = true
		}
		var filtered []nlquery.TableInfo
		for _, t := range tables {
			if focus[t.TableName] {
				filtered = append(filtered, t)
			}
		}
		tables = filtered
	}

	var sb strings.Builder
	for _, t := range tables {
		writeTableSection(&sb, strat, t, opts.ForceFullTypes)
	}
	return sb.String()
}

func writeTableSection(sb *strings.Builder, strat Strategy, t nlquery.TableInfo, forceFullTypes bool) {
	effective := strat
	if forceFullTypes && effective == StrategyConcise {
		effective = StrategySemi
	}

	fmt.Fprintf(sb, "%s: ", t.TableName)
	for i, c := range t.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch effective {
		case StrategyConcise:
			sb.WriteString(c.Name)
		case StrategySemi:
			fmt.Fprintf(sb, "%s %s", c.Name, c.DataType)
			if c.IsPrimaryKey {
				sb.WriteString(" PK")
			}
			if isForeignKeyColumn(t, c.Name) {
				sb.WriteString(" FK")
			}
		case StrategyExpanded:
			fmt.Fprintf(sb, "%s %s", c.Name, c.DataType)
			if c.IsPrimaryKey {
				sb.WriteString(" PK")
			}
			if ref, ok := foreignKeyTarget(t, c.Name); ok {
				fmt.Fprintf(sb, " FK->%s", ref)
			}
		case StrategyLarge:
			fmt.Fprintf(sb, "%s %s", c.Name, c.DataType)
			if c.IsPrimaryKey {
				sb.WriteString(" PK")
			}
			if ref, ok := foreignKeyTarget(t, c.Name); ok {
				fmt.Fprintf(sb, " FK->%s", ref)
			}
		}
	}
	sb.WriteString("\n")

	if effective == StrategyLarge && len(t.SampleRows) > 0 {
		sb.WriteString(" sample rows: ")
		for i, row := range t.SampleRows {
			if i > 0 {
				sb.WriteString("; ")
			}
			fmt.Fprintf(sb, "%v", row)
		}
		sb.WriteString("\n")
	}
}

func isForeignKeyColumn(t nlquery.TableInfo, column string) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column {
			return true
		}
	}
	return false
}

func foreignKeyTarget(t nlquery.TableInfo, column string) (string, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column {
			return fk.RefTable, true
		}
	}
	return "", false
}

func buildOntologySection(opts AssembleOptions) string {
	if opts.OntologyReasoning == "" {
		return ""
	}
	return "Ontology context: " + opts.OntologyReasoning
}

func buildGraphSection(opts AssembleOptions) string {
	if opts.GraphReasoning == "" {
		return ""
	}
	return "Graph context: " + opts.GraphReasoning
}

func buildQuestionSection(opts AssembleOptions) string {
	return "Question: " + opts.Question
}

func buildHistorySection(opts AssembleOptions) string {
	var sb strings.Builder
	for _, a := range opts.History {
		sb.WriteString("Previous attempt: ")
		sb.WriteString(a.SQL)
		if a.Error != "" {
			sb.WriteString(" (failed: ")
			sb.WriteString(a.Error)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func buildErrorSection(opts AssembleOptions) string {
	return opts.LastErrorHint
}
