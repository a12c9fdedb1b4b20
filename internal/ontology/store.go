package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nlquery/nlquery-go/internal/llmprovider"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// Config controls generation behavior.
type Config struct {
	Mode Mode
	StaticFile string
	MaxConcepts int
	PersistYAML bool
	PersistDir string
}

// Store is C4's public contract: cached generate-or-load plus Resolve.
// A single-flight group serializes generation per connection_id so a
// second concurrent caller awaits the first's result instead of
// duplicating LLM calls.
type Store struct {
	cfgMu sync.RWMutex
	provider llmprovider.Provider
	cfg Config

	mu sync.RWMutex
	cache map[string]*nlquery.Ontology // connection_id -> ontology

	group singleflight.Group
}

func NewStore(provider llmprovider.Provider, cfg Config) *Store {
	if cfg.MaxConcepts <= 0 {
		cfg.MaxConcepts = 20
	}
	return &Store{
		provider: provider,
		cfg: cfg,
		cache: make(map[string]*nlquery.Ontology),
	}
}

// SetProviderAndConfig hot-swaps the LLM provider and generation config
// on a live reload. Cached ontologies are dropped: a mode or
// static-file change means the next Get's result would otherwise be
// stale, and a provider change means any in-flight generation belongs to
// the old provider's behavior.
func (s *Store) SetProviderAndConfig(provider llmprovider.Provider, cfg Config) {
	if cfg.MaxConcepts <= 0 {
		cfg.MaxConcepts = 20
	}
	s.cfgMu.Lock()
	s.provider = provider
	s.cfg = cfg
	s.cfgMu.Unlock()

	s.mu.Lock()
	s.cache = make(map[string]*nlquery.Ontology)
	s.mu.Unlock()
}

func (s *Store) currentConfig() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *Store) currentProvider() llmprovider.Provider {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.provider
}

// Prune evicts cached ontologies generated longer than maxAge ago, forcing
// the next Get to regenerate (or reload, in static mode). Called
// periodically by C9's background sweep.
func (s *Store) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.cache {
		if o.GeneratedAt.Before(cutoff) {
			delete(s.cache, id)
		}
	}
}

// Get returns the ontology for connectionID, generating (or loading) it
// if absent or if the schema fingerprint changed.
func (s *Store) Get(ctx context.Context, connectionID string, snap *nlquery.SchemaSnapshot) (*nlquery.Ontology, error) {
	fp := Fingerprint(snap)

	s.mu.RLock()
	cached, ok := s.cache[connectionID]
	s.mu.RUnlock()
	if ok && cached.SchemaFingerprint == fp {
		return cached, nil
	}

	result, err, _ := s.group.Do(connectionID, func() (any, error) {
		s.mu.RLock()
		cached, ok := s.cache[connectionID]
		s.mu.RUnlock()
		if ok && cached.SchemaFingerprint == fp {
			return cached, nil
		}

		cfg := s.currentConfig()
		var o *nlquery.Ontology
		var genErr error
		if cfg.Mode == ModeStatic {
			o, genErr = LoadStatic(cfg.StaticFile, connectionID)
			if genErr == nil {
				o.SchemaFingerprint = fp
			}
		} else {
			o, genErr = s.generateDynamic(ctx, connectionID, snap, fp)
		}
		if genErr != nil {
			return nil, genErr
		}

		s.mu.Lock()
		s.cache[connectionID] = o
		s.mu.Unlock()

		if cfg.PersistYAML && cfg.PersistDir != "" {
			path := filepath.Join(cfg.PersistDir, connectionID+".yaml")
			if err := SaveYAML(path, o); err != nil {
				return o, fmt.Errorf("ontology generated but failed to persist: %w", err)
			}
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*nlquery.Ontology), nil
}

// generateDynamic runs the three LLM phases described in.
func (s *Store) generateDynamic(ctx context.Context, connectionID string, snap *nlquery.SchemaSnapshot, fingerprint string) (*nlquery.Ontology, error) {
	concepts, err := s.extractConcepts(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("ontology: concept extraction: %w", err)
	}

	var properties []nlquery.Property
	for _, c := range concepts {
		props, err := s.mapProperties(ctx, c, snap)
		if err != nil {
			return nil, fmt.Errorf("ontology: property mapping for %s: %w", c.Name, err)
		}
		properties = append(properties, props...)
	}

	relationships, err := s.extractRelationships(ctx, concepts, snap)
	if err != nil {
		return nil, fmt.Errorf("ontology: relationship extraction: %w", err)
	}

	return &nlquery.Ontology{
		ConnectionID: connectionID,
		DatabaseName: snap.DatabaseName,
		Concepts: concepts,
		Properties: properties,
		Relationships: relationships,
		GeneratedAt: time.Now(),
		SchemaFingerprint: fingerprint,
	}, nil
}

// extractConcepts is phase 1: enumerate every table, ask for a JSON array
// of concepts, discard any whose tables reference an unknown name, cap at
// MaxConcepts.
func (s *Store) extractConcepts(ctx context.Context, snap *nlquery.SchemaSnapshot) ([]nlquery.Concept, error) {
	validTables := make(map[string]bool)
	var tableList string
	for i, name := range snap.AllTableNames() {
		validTables[name] = true
		if i > 0 {
			tableList += ", "
		}
		tableList += name
	}

	prompt := fmt.Sprintf(
		"Given these tables: %s\n"+
		"Identify domain concepts. Only use these table names. Respond with JSON: "+
		`{"concepts": [{"name": string, "description": string, "tables": [string], "synonyms": [string]}]}`,
		tableList)

	parsed, err := s.currentProvider().CompleteJSON(ctx,
		[]llmprovider.Message{
			{Role: llmprovider.RoleSystem, Content: "You identify domain concepts realized by database tables."},
			{Role: llmprovider.RoleUser, Content: prompt},
		},
		llmprovider.Params{}, `{"concepts": [...]}`)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(parsed["concepts"])
	var concepts []nlquery.Concept
	if err := json.Unmarshal(raw, &concepts); err != nil {
		return nil, fmt.Errorf("parsing concepts: %w", err)
	}

	var kept []nlquery.Concept
	for _, c := range concepts {
		valid := true
		for _, t := range c.Tables {
			if !validTables[t] {
				valid = false
				break
			}
		}
		if valid && len(kept) < s.currentConfig().MaxConcepts {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// mapProperties is phase 2: for one concept's tables/columns, ask for a
// JSON array mapping each (table, column) to a property name, semantic
// meaning, and confidence; discard unknown (table, column) pairs.
func (s *Store) mapProperties(ctx context.Context, concept nlquery.Concept, snap *nlquery.SchemaSnapshot) ([]nlquery.Property, error) {
	type colRef struct{ table, column, dataType string }
	var refs []colRef
	for _, tname := range concept.Tables {
		table, ok := snap.TableByName(tname)
		if !ok {
			continue
		}
		for _, c := range table.Columns {
			refs = append(refs, colRef{tname, c.Name, c.DataType})
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	var cols string
	for i, r := range refs {
		if i > 0 {
			cols += ", "
		}
		cols += fmt.Sprintf("%s.%s (%s)", r.table, r.column, r.dataType)
	}

	prompt := fmt.Sprintf(
		"Concept %q has these columns: %s\n"+
		`Respond with JSON: {"properties": [{"table": string, "column": string, "property_name": string, "semantic_meaning": string, "confidence": number}]}`,
		concept.Name, cols)

	parsed, err := s.currentProvider().CompleteJSON(ctx,
		[]llmprovider.Message{
			{Role: llmprovider.RoleSystem, Content: "You map database columns to semantic property names."},
			{Role: llmprovider.RoleUser, Content: prompt},
		},
		llmprovider.Params{}, `{"properties": [...]}`)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(parsed["properties"])
	var props []nlquery.Property
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("parsing properties: %w", err)
	}

	known := make(map[string]bool, len(refs))
	for _, r := range refs {
		known[r.table+"."+r.column] = true
	}
	var kept []nlquery.Property
	for _, p := range props {
		if known[p.Table+"."+p.Column] {
			p.Concept = concept.Name
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// extractRelationships is phase 3: derive one candidate relationship per
// foreign key, plus LLM-inferred non-FK relationships from naming
// conventions; every relationship must reference two existing concepts.
func (s *Store) extractRelationships(ctx context.Context, concepts []nlquery.Concept, snap *nlquery.SchemaSnapshot) ([]nlquery.Relationship, error) {
	conceptByTable := make(map[string]string)
	validConcept := make(map[string]bool)
	for _, c := range concepts {
		validConcept[c.Name] = true
		for _, t := range c.Tables {
			conceptByTable[t] = c.Name
		}
	}

	var candidates []string
	var fkRelationships []nlquery.Relationship
	for _, t := range snap.Tables {
		fromConcept, ok := conceptByTable[t.TableName]
		if !ok {
			continue
		}
		for _, fk := range t.ForeignKeys {
			toConcept, ok := conceptByTable[fk.RefTable]
			if !ok || toConcept == fromConcept {
				continue
			}
			candidates = append(candidates, fmt.Sprintf("%s references %s via %s.%s -> %s.%s",
				fromConcept, toConcept, t.TableName, fk.Column, fk.RefTable, fk.RefColumn))
			fkRelationships = append(fkRelationships, nlquery.Relationship{
				FromConcept: fromConcept, ToConcept: toConcept,
				Type: nlquery.RelationshipReferences, ViaTable: t.TableName, Confidence: 0.9,
			})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var candidateList string
	for i, c := range candidates {
		if i > 0 {
			candidateList += "; "
		}
		candidateList += c
	}

	prompt := fmt.Sprintf(
		"Candidate relationships: %s\n"+
		"Classify each as one of: references, belongs_to, has_many, associated_with. "+
		"Also infer any additional non-foreign-key relationships implied by naming conventions. "+
		`Respond with JSON: {"relationships": [{"from_concept": string, "to_concept": string, "type": string, "via_table": string, "confidence": number}]}`,
		candidateList)

	parsed, err := s.currentProvider().CompleteJSON(ctx,
		[]llmprovider.Message{
			{Role: llmprovider.RoleSystem, Content: "You classify relationships between domain concepts."},
			{Role: llmprovider.RoleUser, Content: prompt},
		},
		llmprovider.Params{}, `{"relationships": [...]}`)
	if err != nil {
		return fkRelationships, nil // LLM classification is best-effort; FK-derived relationships still stand
	}

	raw, _ := json.Marshal(parsed["relationships"])
	var rels []nlquery.Relationship
	if err := json.Unmarshal(raw, &rels); err != nil {
		return fkRelationships, nil
	}

	var kept []nlquery.Relationship
	for _, r := range rels {
		if validConcept[r.FromConcept] && validConcept[r.ToConcept] {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return fkRelationships, nil
	}
	return kept, nil
}

// Resolve implements C4's Resolve(question): compound-token
// matching of question words against property names, with synonyms on
// Concepts extending the full-property-name-match strategy.
func Resolve(o *nlquery.Ontology, snap *nlquery.SchemaSnapshot, question string) nlquery.ResolutionResult {
	lower := strings.ToLower(question)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})

	conceptBySynonym := make(map[string]string)
	for _, c := range o.Concepts {
		conceptBySynonym[strings.ToLower(c.Name)] = c.Name
		for _, syn := range c.Synonyms {
			conceptBySynonym[strings.ToLower(syn)] = c.Name
		}
	}

	var hints []nlquery.ColumnHint
	conceptMatched := false
	propertyMatched := false
	var propertyConfidences []float64

	for _, p := range o.Properties {
		table, ok := snap.TableByName(p.Table)
		if !ok || !table.HasColumn(p.Column) {
			continue // invariant: never hint at a column absent from the current snapshot
		}
		propLower := strings.ToLower(p.PropertyName)
		matched := false

		if strings.Contains(lower, propLower) || strings.Contains(propLower, lower) {
			matched = true
		}
		for syn, conceptName := range conceptBySynonym {
			if conceptName == p.Concept && strings.Contains(lower, syn) {
				matched = true
				conceptMatched = true
			}
		}
		if !matched {
			for _, w := range words {
				if len(w) > 3 && strings.Contains(propLower, w) {
					matched = true
					break
				}
			}
		}
		if matched {
			propertyMatched = true
			propertyConfidences = append(propertyConfidences, p.Confidence)
			hints = append(hints, nlquery.ColumnHint{
				Table: p.Table, Column: p.Column, Concept: p.Concept, Property: p.PropertyName, Confidence: p.Confidence,
			})
		}
	}

	confidence := 0.5
	if conceptMatched {
		confidence += 0.2
	}
	if propertyMatched {
		confidence += 0.15
		confidence += 0.15 * mean(propertyConfidences)
	}
	if confidence > 0.99 {
		confidence = 0.99
	}
	if confidence < 0 {
		confidence = 0
	}

	return nlquery.ResolutionResult{
		Hints: hints,
		Reasoning: buildReasoning(hints),
		Confidence: confidence,
	}
}

func buildReasoning(hints []nlquery.ColumnHint) string {
	if len(hints) == 0 {
		return ""
	}
	s := "Likely relevant columns: "
	for i, h := range hints {
		if i > 0 {
			s += ", "
		}
		s += h.Table + "." + h.Column
	}
	return s
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

