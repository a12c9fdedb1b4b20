// Package ontology implements C4: static YAML ontologies and dynamic
// three-phase LLM-generated ontologies, cached per connection_id and
// invalidated on schema fingerprint change, plus Resolve(question) for
// compound-token column hinting.
package ontology

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// Mode selects static-file or dynamic LLM generation.
type Mode string

const (
	ModeStatic Mode = "static"
	ModeDynamic Mode = "dynamic"
)

// Fingerprint derives a stable digest of a schema's shape: any added or
// dropped table or column changes it, forcing regeneration.
func Fingerprint(snap *nlquery.SchemaSnapshot) string {
	var parts []string
	for _, t := range append(append([]nlquery.TableInfo{}, snap.Tables...), snap.Views...) {
		var cols []string
		for _, c := range t.Columns {
			cols = append(cols, c.Name+":"+c.DataType)
		}
		sort.Strings(cols)
		parts = append(parts, t.TableName+"("+strings.Join(cols, ",")+")")
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
