package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// snapshot is the JSON-serializable form of a SchemaCatalog, mirroring
// schema_parser.py's to_dict/from_dict shape so the rebuild-without-
// reparsing path (load the cached JSON instead of re-reading CSV) has
// an identical wire format to the original.
type snapshot struct {
	Tables        map[string]tableSnapshot `json:"tables"`
	JoinEdges     []JoinEdge               `json:"join_edges"`
	UniversalKeys []string                 `json:"universal_keys"`
	Families      map[string][]string      `json:"families"`
	PHIColumns    []string                 `json:"phi_columns"`
}

type tableSnapshot struct {
	Name        string            `json:"name"`
	Comment     string            `json:"comment"`
	ColumnCount int               `json:"column_count"`
	Family      string            `json:"family"`
	Columns     map[string]Column `json:"columns"`
}

// ToJSON serializes the catalog to its snapshot form.
func (c *SchemaCatalog) ToJSON() ([]byte, error) {
	s := snapshot{
		Tables:    map[string]tableSnapshot{},
		JoinEdges: c.joinEdges,
		Families:  c.families,
	}
	for name, t := range c.tables {
		s.Tables[name] = tableSnapshot{
			Name: t.Name, Comment: t.Comment, ColumnCount: t.ColumnCount,
			Family: t.Family, Columns: t.Columns,
		}
	}
	for k := range UniversalKeys {
		s.UniversalKeys = append(s.UniversalKeys, k)
	}
	sort.Strings(s.UniversalKeys)
	for k := range PHIColumns {
		s.PHIColumns = append(s.PHIColumns, k)
	}
	sort.Strings(s.PHIColumns)
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON rebuilds a catalog from a prior ToJSON snapshot. PHI status
// and universal keys are always the fixed in-code sets (§4.1 "frozen
// at load time"); the snapshot's copies of them are informational only
// and are not trusted as authoritative on reload.
func FromJSON(data []byte) (*SchemaCatalog, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode catalog snapshot: %w", err)
	}
	tables := make(map[string]Table, len(s.Tables))
	for name, ts := range s.Tables {
		tables[name] = Table{
			Name: ts.Name, Comment: ts.Comment, ColumnCount: ts.ColumnCount,
			Family: ts.Family, Columns: ts.Columns,
		}
	}
	families := s.Families
	if families == nil {
		families = BuildFamilies(tables)
	}
	return New(tables, s.JoinEdges, families), nil
}

// SaveJSON writes the catalog snapshot to path, creating parent
// directories as needed.
func (c *SchemaCatalog) SaveJSON(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadJSON reads a catalog snapshot previously written by SaveJSON.
func LoadJSON(path string) (*SchemaCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromJSON(data)
}
