// Package statemachine implements C8: the Generate -> Validate -> Execute
// -> AnalyzeError -> Succeed/Fail loop that is the ingress to the whole
// system, behind the run() entrypoint.
package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nlquery/nlquery-go/internal/applog"
	"github.com/nlquery/nlquery-go/internal/budgeter"
	"github.com/nlquery/nlquery-go/internal/dbadapter"
	"github.com/nlquery/nlquery-go/internal/erroranalyzer"
	"github.com/nlquery/nlquery-go/internal/graphstore"
	"github.com/nlquery/nlquery-go/internal/llmprovider"
	"github.com/nlquery/nlquery-go/internal/ontology"
	"github.com/nlquery/nlquery-go/internal/retrieval"
	"github.com/nlquery/nlquery-go/internal/schema"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

type state string

const (
	stateGenerate state = "generate"
	stateValidate state = "validate"
	stateExecute state = "execute"
	stateAnalyzeError state = "analyze_error"
	stateSucceed state = "succeed"
	stateFail state = "fail"
)

const (
	defaultMaxAttempts = 3
	defaultErrorQuoteCap = 120
	llmCallTimeout = 60 * time.Second
	dbCallTimeout = 120 * time.Second
	defaultRowLimit = 200
)

var allowedStartKeywords = []string{"SELECT", "WITH", "SHOW", "EXPLAIN"}

// EnabledSet snapshots which optional subsystems are live at Generate
// entry.
type EnabledSet struct {
	Ontology bool
	Graph bool
	Retrieval bool
}

// Machine wires every component behind the single run() entrypoint.
type Machine struct {
	Schema *schema.Store
	Adapter *dbadapter.Adapter
	Ontology *ontology.Store
	Graph *graphstore.Store
	Retrieval *retrieval.Store

	log *applog.Logger

	mu sync.Mutex
	handleLocks map[string]*sync.Mutex // per-ConnectionHandle FIFO serialization

	// runtimeMu guards provider/enabled, which C9 swaps in place while
	// queries may be concurrently in flight.
	runtimeMu sync.RWMutex
	provider llmprovider.Provider
	enabled func() EnabledSet // called once per Run, at Generate entry

	// recordWG tracks in-flight fire-and-forget C6 retrieval-record calls
	// so Shutdown can drain them before the process exits.
	recordWG sync.WaitGroup
}

func New(adapter *dbadapter.Adapter, schemaStore *schema.Store, ont *ontology.Store, graph *graphstore.Store, retr *retrieval.Store, provider llmprovider.Provider, enabled func() EnabledSet) *Machine {
	return &Machine{
		Schema: schemaStore,
		Adapter: adapter,
		Ontology: ont,
		Graph: graph,
		Retrieval: retr,
		provider: provider,
		enabled: enabled,
		log: applog.New("statemachine"),
		handleLocks: make(map[string]*sync.Mutex),
	}
}

// Shutdown waits for any in-flight C6 retrieval-record goroutines to
// finish, or returns early with ctx's error if it's canceled first.
func (m *Machine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.recordWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetProvider lets C9 hot-swap the active LLM provider at runtime.
func (m *Machine) SetProvider(p llmprovider.Provider) {
	m.runtimeMu.Lock()
	defer m.runtimeMu.Unlock()
	m.provider = p
}

// Provider returns the currently active LLM provider.
func (m *Machine) Provider() llmprovider.Provider {
	m.runtimeMu.RLock()
	defer m.runtimeMu.RUnlock()
	return m.provider
}

// SetEnabled lets C9 replace the subsystem-enabled snapshot function when
// the document's enabled flags change.
func (m *Machine) SetEnabled(enabled func() EnabledSet) {
	m.runtimeMu.Lock()
	defer m.runtimeMu.Unlock()
	m.enabled = enabled
}

func (m *Machine) currentEnabled() func() EnabledSet {
	m.runtimeMu.RLock()
	defer m.runtimeMu.RUnlock()
	return m.enabled
}

// EnabledSnapshot reports which optional subsystems are live right now,
// for status/health surfaces. Run takes its own snapshot independently at
// Generate entry rather than calling this.
func (m *Machine) EnabledSnapshot() EnabledSet {
	return m.currentEnabled()()
}

func (m *Machine) lockFor(handle nlquery.ConnectionHandle) *sync.Mutex {
	key := handle.PoolKey()
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.handleLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.handleLocks[key] = l
	}
	return l
}

// run is the mutable state threaded through one Run call.
type run struct {
	runID string
	handle nlquery.ConnectionHandle
	question string
	opts nlquery.RunOptions
	snapshot *nlquery.SchemaSnapshot
	enabled EnabledSet

	attempt int
	maxAttempts int
	lastSQL string
	explanation string
	lastErr *nlquery.QueryError
	focusedTables []string
	forceFullTypes bool
	history []nlquery.Attempt
	firstPromptTokens int
	resultHolder *nlquery.ResultSet
}

// Run implements run(handle, question, options) entrypoint.
// A ConnectionHandle may be used by at most one active query at a time
//; concurrent callers on the same handle queue behind a
// per-handle mutex.
func (m *Machine) Run(ctx context.Context, handle nlquery.ConnectionHandle, question string, opts nlquery.RunOptions) (*nlquery.RunResult, error) {
	lock := m.lockFor(handle)
	lock.Lock()
	defer lock.Unlock()

	runID := uuid.NewString()

	if len(opts.TableSubset) > 0 {
		m.Schema.RestrictTables(handle, opts.TableSubset)
	}

	snap, err := m.Schema.Snapshot(ctx, handle)
	if err != nil {
		return nil, runErrorFrom(runID, nlquery.NewQueryError(nlquery.ErrConnection, "failed to load schema snapshot", err), nil, nil)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	r := &run{
		runID: runID,
		handle: handle,
		question: question,
		opts: opts,
		snapshot: snap,
		enabled: m.currentEnabled()(),
		maxAttempts: maxAttempts,
	}

	st := stateGenerate
	for {
		if err := ctx.Err(); err != nil {
			qe := nlquery.NewQueryError(nlquery.ErrCancelled, "query cancelled", err)
			return nil, runErrorFrom(runID, qe, r.history, partialFrom(r))
		}

		switch st {
		case stateGenerate:
			st = m.stepGenerate(ctx, r)
		case stateValidate:
			st = m.stepValidate(r)
		case stateExecute:
			st = m.stepExecute(ctx, r)
		case stateAnalyzeError:
			st = m.stepAnalyzeError(r)
		case stateSucceed:
			result, err := m.stepSucceed(ctx, r)
			return result, err
		case stateFail:
			return nil, runErrorFrom(runID, r.lastErr, r.history, partialFrom(r))
		}
	}
}

func partialFrom(r *run) *nlquery.PartialResult {
	if r.lastSQL == "" {
		return nil
	}
	return &nlquery.PartialResult{SQL: r.lastSQL, Explanation: r.explanation}
}

func runErrorFrom(runID string, qe *nlquery.QueryError, history []nlquery.Attempt, partial *nlquery.PartialResult) error {
	if qe == nil {
		qe = nlquery.NewQueryError(nlquery.ErrOther, "unknown failure", nil)
	}
	var attempts []nlquery.AttemptError
	for _, a := range history {
		attempts = append(attempts, nlquery.AttemptError{SQL: a.SQL, Error: a.Error})
	}
	return &nlquery.RunError{
		RunID: runID,
		Kind: qe.Kind,
		Message: qe.Error(),
		Attempts: attempts,
		Partial: partial,
	}
}

type generationResponse struct {
	SQL string `json:"sql"`
	Explanation string `json:"explanation"`
}

// stepGenerate assembles the prompt per ordering (system,
// ontology context, graph insights, retrieval examples, focused schema,
// error-retry block if attempt > 0, question, JSON-contract reminder),
// invokes the LLM, and parses the {"sql", "explanation"} contract.
func (m *Machine) stepGenerate(ctx context.Context, r *run) state {
	ctx, cancel := context.WithTimeout(ctx, llmCallTimeout)
	defer cancel()

	idioms, err := m.Adapter.Idioms(r.handle.Dialect)
	if err != nil {
		r.lastErr = nlquery.NewQueryError(nlquery.ErrOther, "unknown dialect idioms", err)
		return stateFail
	}

	var ontologyReasoning, graphReasoning string
	var retrievalExamples []nlquery.PastQuery

	if r.enabled.Ontology {
		func() {
			defer m.isolate("ontology resolve")
			ont, err := m.Ontology.Get(ctx, r.handle.ConnectionID(), r.snapshot)
			if err != nil {
				m.log.Degraded("ontology generation failed, continuing without it", err)
				return
			}
			res := ontology.Resolve(ont, r.snapshot, r.question)
			ontologyReasoning = res.Reasoning
		}()
	}
	if r.enabled.Graph {
		func() {
			defer m.isolate("graph insights")
			insights, err := m.Graph.Insights(ctx, r.handle.ConnectionID(), r.question, r.focusedTables)
			if err != nil {
				m.log.Degraded("graph insights failed, continuing without them", err)
				return
			}
			graphReasoning = formatGraphReasoning(insights)
		}()
	}
	if r.enabled.Retrieval && r.attempt == 0 { // retries omit retrieval examples
		func() {
			defer m.isolate("retrieval search")
			results, err := m.Retrieval.Search(ctx, r.question, retrieval.SearchOptions{Dialect: r.handle.Dialect, K: 3})
			if err != nil {
				m.log.Degraded("retrieval search failed, continuing without examples", err)
				return
			}
			retrievalExamples = results
		}()
	}

	provider := m.Provider()
	budget := budgeter.NewBudget(provider.MaxContextTokens())
	assembleOpts := budgeter.AssembleOptions{
		Snapshot: r.snapshot,
		Idioms: idioms,
		Question: r.question,
		History: historyForRetry(r),
		FocusedTables: r.focusedTables,
		ForceFullTypes: r.forceFullTypes,
		OntologyReasoning: ontologyReasoning,
		GraphReasoning: graphReasoning,
	}
	if r.attempt > 0 {
		assembleOpts.LastErrorHint = truncateErrorQuote(r.lastErr, defaultErrorQuoteCap)
	}
	assembled := budgeter.Assemble(budget, assembleOpts)

	messages := buildMessages(assembled, retrievalExamples, r.attempt)

	promptTokens := budgeter.EstimateTokens(assembled.System + assembled.Schema + assembled.Ontology + assembled.Graph + assembled.Question + assembled.History + assembled.Error)
	if r.attempt == 0 {
		r.firstPromptTokens = promptTokens
	}

	parsed, err := provider.CompleteJSON(ctx, messages, llmprovider.Params{MaxTokens: provider.MaxOutputTokens()},
		`{"sql": string, "explanation": string}`)
	if err != nil {
		r.lastErr = nlquery.NewQueryError(nlquery.ErrProvider, "LLM generation failed", err)
		return stateAnalyzeError
	}

	raw, _ := json.Marshal(parsed)
	var gen generationResponse
	if err := json.Unmarshal(raw, &gen); err != nil || gen.SQL == "" {
		r.lastErr = nlquery.NewQueryError(nlquery.ErrSyntax, "LLM response did not contain a usable sql field", err)
		return stateAnalyzeError
	}

	if !startsWithAllowedKeyword(gen.SQL) {
		r.lastErr = nlquery.NewQueryError(nlquery.ErrSyntax, fmt.Sprintf("generated statement does not start with an allowed keyword (%s)", strings.Join(allowedStartKeywords, ", ")), nil)
		return stateAnalyzeError
	}

	r.lastSQL = gen.SQL
	r.explanation = gen.Explanation
	return stateValidate
}

func (m *Machine) isolate(label string) {
	if rec := recover(); rec != nil {
		m.log.Degraded(fmt.Sprintf("%s panicked, degrading this attempt", label), fmt.Errorf("%v", rec))
	}
}

func historyForRetry(r *run) []nlquery.Attempt {
	if r.attempt == 0 {
		return nil
	}
	return r.history
}

func formatGraphReasoning(insights nlquery.GraphInsights) string {
	if len(insights.SuggestedColumns) == 0 && len(insights.RelatedTables) == 0 {
		return ""
	}
	var sb strings.Builder
	for table, cols := range insights.SuggestedColumns {
		fmt.Fprintf(&sb, "%s: %s; ", table, strings.Join(cols, ", "))
	}
	if len(insights.RelatedTables) > 0 {
		sb.WriteString("related tables: ")
		sb.WriteString(strings.Join(insights.RelatedTables, ", "))
	}
	return sb.String()
}

// buildMessages assembles the user message in the mandated section order:
// ontology context, graph insights, retrieval examples, focused schema,
// error-retry block, question, JSON-contract reminder. The system message
// carries only assembled.System.
func buildMessages(assembled budgeter.Assembled, examples []nlquery.PastQuery, attempt int) []llmprovider.Message {
	messages := []llmprovider.Message{
		{Role: llmprovider.RoleSystem, Content: assembled.System},
	}
	var user strings.Builder
	if assembled.Ontology != "" {
		user.WriteString(assembled.Ontology)
		user.WriteString("\n")
	}
	if assembled.Graph != "" {
		user.WriteString(assembled.Graph)
		user.WriteString("\n")
	}
	if len(examples) > 0 {
		user.WriteString("Similar past questions:\n")
		for _, ex := range examples {
			fmt.Fprintf(&user, "Q: %s\nSQL: %s\n", ex.UserQuery, ex.SQLQuery)
		}
	}
	user.WriteString(assembled.Schema)
	user.WriteString("\n")
	if assembled.History != "" {
		user.WriteString(assembled.History)
		user.WriteString("\n")
	}
	if attempt > 0 && assembled.Error != "" {
		user.WriteString("Previous error: ")
		user.WriteString(assembled.Error)
		user.WriteString("\n")
	}
	user.WriteString(assembled.Question)
	user.WriteString("\n\nRespond with JSON only: {\"sql\": string, \"explanation\": string}")
	messages = append(messages, llmprovider.Message{Role: llmprovider.RoleUser, Content: user.String()})
	return messages
}

func startsWithAllowedKeyword(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	for _, kw := range allowedStartKeywords {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

func truncateErrorQuote(err *nlquery.QueryError, cap int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= cap {
		return msg
	}
	return msg[:cap]
}

// stepValidate runs the cheap local checks: not empty,
// statement count == 1, and no DDL/DML keywords when the caller asked
// for a read-only run.
func (m *Machine) stepValidate(r *run) state {
	trimmed := strings.TrimSpace(r.lastSQL)
	if trimmed == "" {
		r.lastErr = nlquery.NewQueryError(nlquery.ErrSyntax, "generated SQL is empty", nil)
		return stateAnalyzeError
	}
	if strings.Count(strings.TrimSuffix(trimmed, ";"), ";") > 0 {
		r.lastErr = nlquery.NewQueryError(nlquery.ErrSyntax, "generated SQL must be a single statement", nil)
		return stateAnalyzeError
	}
	if r.opts.ReadOnly {
		words := map[string]bool{}
		for _, w := range strings.FieldsFunc(strings.ToUpper(trimmed), func(c rune) bool {
			return !(c == '_' || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'))
		}) {
			words[w] = true
		}
		for _, kw := range []string{"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE", "GRANT", "REVOKE"} {
			if words[kw] {
				r.lastErr = nlquery.NewQueryError(nlquery.ErrSyntax, fmt.Sprintf("read-only mode forbids %s statements", kw), nil)
				return stateAnalyzeError
			}
		}
	}
	return stateExecute
}

// stepExecute calls C1.
func (m *Machine) stepExecute(ctx context.Context, r *run) state {
	ctx, cancel := context.WithTimeout(ctx, dbCallTimeout)
	defer cancel()

	hasUserLimit := strings.Contains(strings.ToUpper(r.lastSQL), "LIMIT") || strings.Contains(strings.ToUpper(r.lastSQL), "ROWNUM")
	result, err := m.Adapter.Execute(ctx, r.handle, r.lastSQL, defaultRowLimit, hasUserLimit)
	if err != nil {
		if qe, ok := err.(*nlquery.QueryError); ok {
			r.lastErr = qe
		} else {
			r.lastErr = nlquery.NewQueryError(nlquery.ErrOther, "execution failed", err)
		}
		return stateAnalyzeError
	}
	r.history = append(r.history, nlquery.Attempt{SQL: r.lastSQL})
	r.resultHolder = result
	return stateSucceed
}

// stepAnalyzeError runs C7 and decides whether to retry.
// On retry, last_sql is cleared: a fresh generation is mandatory, the
// prior broken SQL must never be resent.
func (m *Machine) stepAnalyzeError(r *run) state {
	msg := ""
	if r.lastErr != nil {
		msg = r.lastErr.Error()
	}
	analysis := erroranalyzer.Analyze(errKind(r.lastErr), msg, r.lastSQL, r.handle.Dialect, r.snapshot)

	r.history = append(r.history, nlquery.Attempt{SQL: r.lastSQL, Error: msg})

	if analysis.Kind == nlquery.ErrTypeMismatch {
		r.forceFullTypes = true
		if len(analysis.MentionedTables) > 0 {
			r.focusedTables = analysis.MentionedTables
		}
	} else if len(analysis.MentionedTables) > 0 {
		r.focusedTables = analysis.MentionedTables
	}

	if !analysis.ShouldRetry || r.attempt >= r.maxAttempts {
		return stateFail
	}

	r.attempt++
	r.lastSQL = "" // a broken attempt's SQL must never be re-sent
	return stateGenerate
}

func errKind(qe *nlquery.QueryError) nlquery.ErrorKind {
	if qe == nil {
		return nlquery.ErrOther
	}
	return qe.Kind
}

// stepSucceed records to C6 fire-and-forget and returns the result. The
// record call is tracked on recordWG so Shutdown can drain it instead of
// letting it race process exit.
func (m *Machine) stepSucceed(ctx context.Context, r *run) (*nlquery.RunResult, error) {
	if r.enabled.Retrieval {
		m.recordWG.Add(1)
		go func() {
			defer m.recordWG.Done()
			defer m.isolate("retrieval record")
			recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = m.Retrieval.Record(recordCtx, nlquery.PastQuery{
				UserQuery: r.question,
				SQLQuery: r.lastSQL,
				Dialect: r.handle.Dialect,
				SchemaName: r.snapshot.DatabaseName,
				Success: true,
				ConnectionID: r.handle.ConnectionID(),
			})
		}()
	}
	return &nlquery.RunResult{
		RunID: r.runID,
		SQL: r.lastSQL,
		Explanation: r.explanation,
		Result: r.resultHolder,
		Trace: r.history,
	}, nil
}
