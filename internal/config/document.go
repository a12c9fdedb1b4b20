package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is the single mutable configuration document, with the four
// subsections the Reload Coordinator (C9) applies at runtime. Dual
// json/yaml tags let the same struct round-trip through either encoding.
type Document struct {
	LLM LLMSection `json:"llm" yaml:"llm"`
	Ontology OntologySection `json:"ontology" yaml:"ontology"`
	Graph GraphSection `json:"graph" yaml:"graph"`
	Retrieval RetrievalSection `json:"retrieval" yaml:"retrieval"`
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// LLMSection configures the provider and token budget.
type LLMSection struct {
	Provider string `json:"provider" yaml:"provider"`
	Model string `json:"model" yaml:"model"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"` // override, empty = auto-select
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// OntologySection configures C4.
type OntologySection struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Mode string `json:"mode" yaml:"mode"` // "static" | "dynamic"
	StaticFile string `json:"static_file,omitempty" yaml:"static_file,omitempty"`
	MaxConcepts int `json:"max_concepts" yaml:"max_concepts"`
	PersistToFile bool `json:"persist_to_file" yaml:"persist_to_file"`
	PersistDir string `json:"persist_dir" yaml:"persist_dir"`
}

// GraphSection configures C5.
type GraphSection struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Backend string `json:"backend" yaml:"backend"` // "in-process" | "external"
	ExternalURL string `json:"external_url,omitempty" yaml:"external_url,omitempty"`
	Dataset string `json:"dataset,omitempty" yaml:"dataset,omitempty"` // Fuseki dataset name, when Backend == "external"
	MaxPathDepth int `json:"max_path_depth" yaml:"max_path_depth"`
}

// RetrievalSection configures C6.
type RetrievalSection struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Backend string `json:"backend" yaml:"backend"` // "in-process" | "elasticsearch"
	ElasticURL string `json:"elastic_url,omitempty" yaml:"elastic_url,omitempty"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	TopK int `json:"top_k" yaml:"top_k"`
}

// LoadDocument reads a Document from a YAML file on disk.
func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveDocument writes a Document to a YAML file on disk.
func SaveDocument(path string, doc *Document) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
