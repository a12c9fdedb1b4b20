// Package reload implements C9: applying a changed configuration Document
// to the live C3/C4/C5/C6 instances without restarting the process.
package reload

import (
	"fmt"
	"sync"
	"time"

	"github.com/imdario/mergo"
	"github.com/robfig/cron/v3"

	"github.com/nlquery/nlquery-go/internal/applog"
	"github.com/nlquery/nlquery-go/internal/config"
	"github.com/nlquery/nlquery-go/internal/graphstore"
	"github.com/nlquery/nlquery-go/internal/llmprovider"
	"github.com/nlquery/nlquery-go/internal/ontology"
	"github.com/nlquery/nlquery-go/internal/retrieval"
	"github.com/nlquery/nlquery-go/internal/statemachine"
)

const ontologyCacheMaxAge = 30 * time.Minute

// Coordinator owns the live document and rebuilds subsystems in place when
// it changes. Every field it touches is read by other goroutines (the
// state machine, HTTP handlers), so every swap goes through the relevant
// subsystem's own hot-swap point (SetBackend, SetProviderAndConfig,
// SetProvider, SetEnabled) rather than replacing the Machine itself.
type Coordinator struct {
	mu  sync.Mutex
	doc config.Document

	ontologyStore *ontology.Store
	graphStore    *graphstore.Store
	retrieval     *retrieval.Store
	machine       *statemachine.Machine

	log *applog.Logger

	cron *cron.Cron
}

// Deps wires the coordinator to the live subsystem instances it manages.
// ontologyStore/graphStore/retrieval/machine are replaced by pointer
// indirection: New takes the current instances, and Apply swaps their
// internals (or, where a subsystem has no in-place swap, builds a
// replacement and calls the matching Set* hook) rather than handing back
// new pointers, so every other component that captured the original
// pointer keeps working across a reload.
type Deps struct {
	OntologyStore *ontology.Store
	GraphStore    *graphstore.Store
	Retrieval     *retrieval.Store
	Machine       *statemachine.Machine
}

func New(initial config.Document, deps Deps) *Coordinator {
	return &Coordinator{
		doc:           initial,
		ontologyStore: deps.OntologyStore,
		graphStore:    deps.GraphStore,
		retrieval:     deps.Retrieval,
		machine:       deps.Machine,
		log:           applog.New("reload"),
	}
}

// Current returns a copy of the live document.
func (c *Coordinator) Current() config.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// Apply merges a partial document update over the live one (fields left
// at their zero value in partial keep the current value: mergo.WithOverride
// only copies non-zero fields, so a boolean cannot be switched to false
// this way) and reinitializes whichever subsystems the
// resulting document changed. Reload is best-effort: if a subsystem fails
// to reinitialize, the previous instance stays active and the failure is
// logged, never propagated as a fatal error.
func (c *Coordinator) Apply(partial config.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := c.doc
	if err := mergo.Merge(&merged, partial, mergo.WithOverride); err != nil {
		return fmt.Errorf("reload: merging config document: %w", err)
	}

	prev := c.doc
	c.doc = merged

	if llmChanged(prev.LLM, merged.LLM) {
		c.reinitLLM(merged.LLM)
	}
	if budgetChanged(prev.LLM, merged.LLM) {
		c.log.Degraded("token budget strategy will be recomputed from the new provider's context window on the next query", nil)
	}
	if ontologyChanged(prev.Ontology, merged.Ontology) {
		c.reinitOntology(merged.Ontology)
	}
	if graphChanged(prev.Graph, merged.Graph) {
		c.reinitGraph(merged.Graph)
	}
	if retrievalChanged(prev.Retrieval, merged.Retrieval) {
		c.reinitRetrieval(merged.Retrieval)
	}

	if c.machine != nil {
		doc := merged
		c.machine.SetEnabled(func() statemachine.EnabledSet {
			return statemachine.EnabledSet{
				Ontology:  doc.Ontology.Enabled,
				Graph:     doc.Graph.Enabled,
				Retrieval: doc.Retrieval.Enabled,
			}
		})
	}

	return nil
}

func llmChanged(a, b config.LLMSection) bool {
	return a.Provider != b.Provider || a.Model != b.Model || a.APIKey != b.APIKey
}

func budgetChanged(a, b config.LLMSection) bool {
	return a.MaxTokens != b.MaxTokens || a.Strategy != b.Strategy
}

func ontologyChanged(a, b config.OntologySection) bool {
	return a.Mode != b.Mode || a.StaticFile != b.StaticFile || a.MaxConcepts != b.MaxConcepts
}

func graphChanged(a, b config.GraphSection) bool {
	return a.Backend != b.Backend || a.ExternalURL != b.ExternalURL || a.MaxPathDepth != b.MaxPathDepth
}

func retrievalChanged(a, b config.RetrievalSection) bool {
	return a.Backend != b.Backend
}

func (c *Coordinator) reinitLLM(sec config.LLMSection) {
	provider, err := llmprovider.New(llmprovider.Config{
		Provider:    sec.Provider,
		APIKey:      sec.APIKey,
		Model:       sec.Model,
		MaxTokens:   sec.MaxTokens,
		TimeoutSecs: int(sec.CallTimeout / time.Second),
	})
	if err != nil {
		c.log.Degraded("reload: failed to build new LLM provider, keeping the previous one active", err)
		return
	}
	if c.machine != nil {
		c.machine.SetProvider(provider)
	}
}

// reinitOntology hot-swaps C4's provider and generation config in place.
// A mode or static_file change invalidates the whole cache (the contract
// of what Get returns changed); SetProviderAndConfig always drops it,
// which is also correct for a max_concepts-only change since regeneration
// is cheap relative to serving a stale concept list.
func (c *Coordinator) reinitOntology(sec config.OntologySection) {
	if c.ontologyStore == nil {
		return
	}
	mode := ontology.ModeDynamic
	if sec.Mode == "static" {
		mode = ontology.ModeStatic
	}
	cfg := ontology.Config{
		Mode:        mode,
		StaticFile:  sec.StaticFile,
		MaxConcepts: sec.MaxConcepts,
		PersistYAML: sec.PersistToFile,
		PersistDir:  sec.PersistDir,
	}
	var provider llmprovider.Provider
	if c.machine != nil {
		provider = c.machine.Provider()
	}
	c.ontologyStore.SetProviderAndConfig(provider, cfg)
}

func (c *Coordinator) reinitGraph(sec config.GraphSection) {
	if c.graphStore == nil {
		return
	}
	if sec.Backend == "external" && sec.ExternalURL != "" {
		dataset := sec.Dataset
		if dataset == "" {
			dataset = "nlquery"
		}
		c.graphStore.SetBackend(graphstore.NewExternal(sec.ExternalURL, dataset))
	} else {
		c.graphStore.SetBackend(graphstore.NewInProcess())
	}
}

func (c *Coordinator) reinitRetrieval(sec config.RetrievalSection) {
	if c.retrieval == nil {
		return
	}
	if sec.Backend == "elasticsearch" && sec.ElasticURL != "" {
		es, err := retrieval.NewElasticsearch([]string{sec.ElasticURL})
		if err != nil {
			c.log.Degraded("reload: failed to build elasticsearch retrieval backend, keeping the previous one active", err)
			return
		}
		c.retrieval.SetBackend(es)
		return
	}
	c.retrieval.SetBackend(retrieval.NewInProcess())
}

// StartSweep launches the background TTL sweep that prunes expired
// schema-snapshot and ontology cache entries on a fixed schedule. Stop
// the returned *cron.Cron to shut it down.
func (c *Coordinator) StartSweep(schedule string, schemaPrune func()) (*cron.Cron, error) {
	if schedule == "" {
		schedule = "@every 1m"
	}
	ch := cron.New()
	_, err := ch.AddFunc(schedule, func() {
		if schemaPrune != nil {
			schemaPrune()
		}
		if c.ontologyStore != nil {
			c.ontologyStore.Prune(ontologyCacheMaxAge)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("reload: scheduling sweep: %w", err)
	}
	ch.Start()
	c.cron = ch
	return ch, nil
}
