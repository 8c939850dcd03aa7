// Package fallback loads the curated per-100g ingredient table that backs the
// fallback and name-match sources.
package fallback

import (
	"bytes"
	_ "embed"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
)

//go:embed fallback_table.yaml
var embedded []byte

// Entry is one curated ingredient profile.
type Entry struct {
	FDCID       int                `yaml:"fdc_id" json:"fdc_id"`
	Description string             `yaml:"description" json:"description"`
	DataType    string             `yaml:"data_type" json:"data_type"`
	Nutrients   map[string]float64 `yaml:"nutrients" json:"nutrients"`
}

// Table maps canonical ingredient keys to entries. It is read-only after Load.
type Table struct {
	entries map[string]Entry
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the embedded table, parsed once per process.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Load(bytes.NewReader(embedded))
	})
	return defaultTable, defaultErr
}

// MustDefault is Default for callers that treat a broken embedded table as a
// programming error.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Load parses a table document. Unknown nutrient keys and negative or
// non-finite values are rejected.
func Load(r io.Reader) (*Table, error) {
	var doc struct {
		Entries map[string]Entry `yaml:"entries"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "fallback: parse table")
	}
	if len(doc.Entries) == 0 {
		return nil, eris.New("fallback: table has no entries")
	}

	for key, e := range doc.Entries {
		if e.FDCID <= 0 {
			return nil, eris.Errorf("fallback: entry %s: fdc_id must be positive", key)
		}
		for nk, v := range e.Nutrients {
			if !nutrient.IsKnown(nk) {
				return nil, eris.Errorf("fallback: entry %s: unknown nutrient %q", key, nk)
			}
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, eris.Errorf("fallback: entry %s: invalid value %v for %s", key, v, nk)
			}
		}
		if nutrient.CountCore(e.Nutrients) < len(nutrient.CoreKeys) {
			return nil, eris.Errorf("fallback: entry %s: missing core macros", key)
		}
	}
	return &Table{entries: doc.Entries}, nil
}

// Get returns the entry for key. The returned nutrient map is a copy.
func (t *Table) Get(key string) (Entry, bool) {
	e, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	nutrients := make(map[string]float64, len(e.Nutrients))
	for k, v := range e.Nutrients {
		nutrients[k] = v
	}
	e.Nutrients = nutrients
	return e, true
}

// Has reports whether key is in the table.
func (t *Table) Has(key string) bool {
	_, ok := t.entries[key]
	return ok
}

// Keys returns the ingredient keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }
