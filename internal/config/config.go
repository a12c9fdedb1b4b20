// Package config is the ambient configuration layer: environment-variable
// loading with sensible defaults, plus the mutable Document that the
// Reload Coordinator (C9) applies at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds process-wide settings loaded once at startup.
type Config struct {
	Environment string
	LogLevel string
	HTTPAddr string
	SQLiteCache string // path to the on-disk ontology/snapshot cache db
	ConfigFile string // optional path to a Document YAML file

	Document Document
}

// LoadConfig loads configuration from environment variables, falling back
// to defaults for anything unset.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		SQLiteCache: getEnv("NLQUERY_CACHE_DB", "nlquery_cache.db"),
		ConfigFile: getEnv("NLQUERY_CONFIG_FILE", ""),
	}

	cfg.Document = Document{
		LLM: LLMSection{
			Provider: getEnv("LLM_PROVIDER", "mock"),
			Model: getEnv("LLM_MODEL", ""),
			APIKey: getEnv("LLM_API_KEY", ""),
			MaxTokens: getEnvAsInt("LLM_MAX_TOKENS", 4096),
			CallTimeout: getEnvAsDuration("LLM_CALL_TIMEOUT", 60*time.Second),
		},
		Ontology: OntologySection{
			Enabled: getEnvAsBool("ONTOLOGY_ENABLED", true),
			Mode: getEnv("ONTOLOGY_MODE", "dynamic"),
			StaticFile: getEnv("ONTOLOGY_STATIC_FILE", ""),
			MaxConcepts: getEnvAsInt("ONTOLOGY_MAX_CONCEPTS", 20),
			PersistToFile: getEnvAsBool("ONTOLOGY_PERSIST", false),
			PersistDir: getEnv("ONTOLOGY_PERSIST_DIR", "."),
		},
		Graph: GraphSection{
			Enabled: getEnvAsBool("GRAPH_ENABLED", true),
			Backend: getEnv("GRAPH_BACKEND", "in-process"),
			ExternalURL: getEnv("GRAPH_EXTERNAL_URL", ""),
			MaxPathDepth: getEnvAsInt("GRAPH_MAX_PATH_DEPTH", 2),
		},
		Retrieval: RetrievalSection{
			Enabled: getEnvAsBool("RETRIEVAL_ENABLED", true),
			Backend: getEnv("RETRIEVAL_BACKEND", "in-process"),
			Threshold: getEnvAsFloat("RETRIEVAL_THRESHOLD", 0.7),
			TopK: getEnvAsInt("RETRIEVAL_TOP_K", 5),
		},
		MaxAttempts: getEnvAsInt("QUERY_MAX_ATTEMPTS", 3),
	}

	if cfg.ConfigFile != "" {
		doc, err := LoadDocument(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", cfg.ConfigFile, err)
		}
		cfg.Document = *doc
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvAsBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
