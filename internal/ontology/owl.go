package ontology

import (
	"fmt"
	"os"
	"strings"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// SaveOWL serializes an Ontology as RDF/XML: one owl:Class per
// Concept, one owl:DatatypeProperty per Property (carrying a (table,
// column) annotation), one owl:ObjectProperty per Relationship.
func SaveOWL(path string, o *nlquery.Ontology) error {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?>` + "\n")
	sb.WriteString(`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"` + "\n")
	sb.WriteString(` xmlns:owl="http://www.w3.org/2002/07/owl#"` + "\n")
	sb.WriteString(` xmlns:rdfs="http://www.w3.org/2000/01/rdf-schema#"` + "\n")
	sb.WriteString(` xmlns:nlq="urn:nlquery:ontology#">` + "\n\n")

	for _, c := range o.Concepts {
		fmt.Fprintf(&sb, " <owl:Class rdf:about=\"urn:nlquery:ontology#%s\">\n", xmlEscape(c.Name))
		if c.Description != "" {
			fmt.Fprintf(&sb, " <rdfs:comment>%s</rdfs:comment>\n", xmlEscape(c.Description))
		}
		for _, table := range c.Tables {
			fmt.Fprintf(&sb, " <nlq:realizedByTable>%s</nlq:realizedByTable>\n", xmlEscape(table))
		}
		sb.WriteString(" </owl:Class>\n\n")
	}

	for _, p := range o.Properties {
		fmt.Fprintf(&sb, " <owl:DatatypeProperty rdf:about=\"urn:nlquery:ontology#%s.%s\">\n", xmlEscape(p.Concept), xmlEscape(p.PropertyName))
		fmt.Fprintf(&sb, " <rdfs:domain rdf:resource=\"urn:nlquery:ontology#%s\"/>\n", xmlEscape(p.Concept))
		fmt.Fprintf(&sb, " <nlq:boundTable>%s</nlq:boundTable>\n", xmlEscape(p.Table))
		fmt.Fprintf(&sb, " <nlq:boundColumn>%s</nlq:boundColumn>\n", xmlEscape(p.Column))
		if p.SemanticMeaning != "" {
			fmt.Fprintf(&sb, " <rdfs:comment>%s</rdfs:comment>\n", xmlEscape(p.SemanticMeaning))
		}
		fmt.Fprintf(&sb, " <nlq:confidence>%.2f</nlq:confidence>\n", p.Confidence)
		sb.WriteString(" </owl:DatatypeProperty>\n\n")
	}

	for _, r := range o.Relationships {
		fmt.Fprintf(&sb, " <owl:ObjectProperty rdf:about=\"urn:nlquery:ontology#%s_%s_%s\">\n",
			xmlEscape(r.FromConcept), string(r.Type), xmlEscape(r.ToConcept))
		fmt.Fprintf(&sb, " <rdfs:domain rdf:resource=\"urn:nlquery:ontology#%s\"/>\n", xmlEscape(r.FromConcept))
		fmt.Fprintf(&sb, " <rdfs:range rdf:resource=\"urn:nlquery:ontology#%s\"/>\n", xmlEscape(r.ToConcept))
		if r.ViaTable != "" {
			fmt.Fprintf(&sb, " <nlq:viaTable>%s</nlq:viaTable>\n", xmlEscape(r.ViaTable))
		}
		sb.WriteString(" </owl:ObjectProperty>\n\n")
	}

	sb.WriteString("</rdf:RDF>\n")
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return replacer.Replace(s)
}
