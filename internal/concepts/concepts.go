// Package concepts loads the clinical concept library — named,
// reusable definitions like "diabetes" or "readmission" that bundle
// an ICD-10/9 code list, a canonical SQL condition, and the lab tests
// or tables it touches — so the SQL generator can ground a question
// like "how many diabetic patients" in a precise, reviewed condition
// instead of asking the model to invent one per request.
package concepts

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "github.com/goccy/go-yaml"
)

// Concept is one named clinical definition.
type Concept struct {
	Name        string
	Description string
	Condition   string
	ICD10Codes  []string
	ICD9Codes   []string
	Tests       []string
	BundleLogic string
	Tables      []string
	Notes       string
}

type conceptYAML struct {
	Description string   `yaml:"description,omitempty"`
	Condition   string   `yaml:"condition,omitempty"`
	ICD10Codes  []string `yaml:"icd10_codes,omitempty"`
	ICD9Codes   []string `yaml:"icd9_codes,omitempty"`
	Tests       []string `yaml:"tests,omitempty"`
	BundleLogic string   `yaml:"bundle_logic,omitempty"`
	Tables      []string `yaml:"tables,omitempty"`
	Notes       string   `yaml:"notes,omitempty"`
}

// Library is a loaded, queryable set of concepts.
type Library struct {
	concepts map[string]Concept
}

// Get looks up a concept by exact name.
func (l *Library) Get(name string) (Concept, bool) {
	c, ok := l.concepts[name]
	return c, ok
}

// Search finds every concept whose name or description contains query,
// case-insensitively, sorted by name for deterministic output.
func (l *Library) Search(query string) []Concept {
	q := strings.ToLower(query)
	var out []Concept
	for _, c := range l.concepts {
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Description), q) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every concept sorted by name.
//
// The original library preserves YAML insertion order (a Python dict
// keeps the order keys were parsed in); a plain Go map has no such
// order, so this sorts by name instead. The prompt text this feeds
// does not depend on a specific ordering, only on every concept being
// present, so the difference is cosmetic.
func (l *Library) All() []Concept {
	names := make([]string, 0, len(l.concepts))
	for name := range l.concepts {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Concept, len(names))
	for i, name := range names {
		out[i] = l.concepts[name]
	}
	return out
}

// Empty reports whether the library has no concepts loaded.
func (l *Library) Empty() bool { return len(l.concepts) == 0 }

// Load reads a concept library from a YAML file. A missing file
// yields an empty library rather than an error — a freshly set up
// deployment may not have authored any concepts yet.
func Load(path string) (*Library, error) {
	lib := &Library{concepts: map[string]Concept{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return lib, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]conceptYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	for name, def := range raw {
		lib.concepts[name] = Concept{
			Name:        name,
			Description: def.Description,
			Condition:   def.Condition,
			ICD10Codes:  def.ICD10Codes,
			ICD9Codes:   def.ICD9Codes,
			Tests:       def.Tests,
			BundleLogic: def.BundleLogic,
			Tables:      def.Tables,
			Notes:       def.Notes,
		}
	}
	return lib, nil
}

// Save writes the library back out as YAML, field order matching Load's
// reverse mapping. Empty optional fields are omitted.
func Save(lib *Library, path string) error {
	raw := make(map[string]conceptYAML, len(lib.concepts))
	for name, c := range lib.concepts {
		raw[name] = conceptYAML{
			Description: c.Description,
			Condition:   c.Condition,
			ICD10Codes:  c.ICD10Codes,
			ICD9Codes:   c.ICD9Codes,
			Tests:       c.Tests,
			BundleLogic: c.BundleLogic,
			Tables:      c.Tables,
			Notes:       c.Notes,
		}
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
