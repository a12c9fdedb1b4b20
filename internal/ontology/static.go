package ontology

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// staticDocument is the on-disk YAML shape (persisted state
// layout): database, generated_at, concepts[], properties[],
// relationships[], schema_fingerprint.
type staticDocument struct {
	Database string `yaml:"database" json:"database"`
	GeneratedAt time.Time `yaml:"generated_at" json:"generated_at"`
	Concepts []nlquery.Concept `yaml:"concepts" json:"concepts"`
	Properties []nlquery.Property `yaml:"properties" json:"properties"`
	Relationships []nlquery.Relationship `yaml:"relationships" json:"relationships"`
	SchemaFingerprint string `yaml:"schema_fingerprint" json:"schema_fingerprint"`
}

// LoadStatic reads a YAML ontology file, keyed by connection_id at the
// caller's discretion (the file itself describes one connection's
// ontology; the caller supplies connectionID since the file does not
// carry it).
func LoadStatic(path, connectionID string) (*nlquery.Ontology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ontology: reading static file %s: %w", path, err)
	}
	var doc staticDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ontology: parsing static file %s: %w", path, err)
	}
	return &nlquery.Ontology{
		ConnectionID: connectionID,
		DatabaseName: doc.Database,
		Concepts: doc.Concepts,
		Properties: doc.Properties,
		Relationships: doc.Relationships,
		GeneratedAt: doc.GeneratedAt,
		SchemaFingerprint: doc.SchemaFingerprint,
	}, nil
}

// SaveYAML persists an Ontology to the YAML layout describes.
func SaveYAML(path string, o *nlquery.Ontology) error {
	doc := staticDocument{
		Database: o.DatabaseName,
		GeneratedAt: o.GeneratedAt,
		Concepts: o.Concepts,
		Properties: o.Properties,
		Relationships: o.Relationships,
		SchemaFingerprint: o.SchemaFingerprint,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ontology: marshaling to yaml: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
