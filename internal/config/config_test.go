package config

import (
	"os"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("LLM_PROVIDER", "openai")
	os.Setenv("ONTOLOGY_MAX_CONCEPTS", "10")
	defer func() {
		os.Unsetenv("ENVIRONMENT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("LLM_PROVIDER")
		os.Unsetenv("ONTOLOGY_MAX_CONCEPTS")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Environment != "test" {
		t.Errorf("expected environment 'test', got %q", cfg.Environment)
	}
	if cfg.Document.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.Document.LLM.Provider)
	}
	if cfg.Document.Ontology.MaxConcepts != 10 {
		t.Errorf("expected max concepts 10, got %d", cfg.Document.Ontology.MaxConcepts)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("expected default environment 'development', got %q", cfg.Environment)
	}
	if cfg.Document.LLM.Provider != "mock" {
		t.Errorf("expected default provider 'mock', got %q", cfg.Document.LLM.Provider)
	}
	if cfg.Document.Ontology.MaxConcepts != 20 {
		t.Errorf("expected default max concepts 20, got %d", cfg.Document.Ontology.MaxConcepts)
	}
	if cfg.Document.MaxAttempts != 3 {
		t.Errorf("expected default max attempts 3, got %d", cfg.Document.MaxAttempts)
	}
}

func TestDocumentYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/doc.yaml"

	doc := &Document{
		LLM:       LLMSection{Provider: "anthropic", Model: "claude-sonnet-4-20250514", MaxTokens: 4096},
		Ontology:  OntologySection{Enabled: true, Mode: "dynamic", MaxConcepts: 20},
		Graph:     GraphSection{Enabled: true, Backend: "in-process", MaxPathDepth: 2},
		Retrieval: RetrievalSection{Enabled: true, Backend: "in-process", Threshold: 0.7, TopK: 5},
		MaxAttempts: 3,
	}

	if err := SaveDocument(path, doc); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}

	loaded, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}

	if loaded.LLM.Provider != doc.LLM.Provider {
		t.Errorf("expected provider %q, got %q", doc.LLM.Provider, loaded.LLM.Provider)
	}
	if loaded.Retrieval.Threshold != doc.Retrieval.Threshold {
		t.Errorf("expected threshold %v, got %v", doc.Retrieval.Threshold, loaded.Retrieval.Threshold)
	}
}
