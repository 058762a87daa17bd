package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// familyPrefixes are checked longest-first so e.g. "IPTADM" is matched
// before the generic "IPT".
var familyPrefixes = []string{
	"EYESCREEN", "IPTBOOK", "DCTORDER", "IPTADM", "OPDDCT",
	"OPDLED", "OPPOST", "OPPROC", "LVSTEXM", "LABEXM",
	"MEDITEM", "PTTYPE", "BDVST", "DLVST", "PRSC",
	"OVST", "IPT", "MED", "LAB", "PT", "RM", "BD", "CN",
	"WARD", "MAST", "ANC", "RDO", "MOL", "MOTP", "LCT",
	"ARPT", "INCPT",
}

func init() {
	sort.Slice(familyPrefixes, func(i, j int) bool {
		return len(familyPrefixes[i]) > len(familyPrefixes[j])
	})
}

// inferFamily derives a table's family from its name prefix, falling
// back to the first 2-4 alphabetic characters, and finally the table
// name itself.
func inferFamily(tableName string) string {
	upperName := strings.ToUpper(tableName)
	for _, prefix := range familyPrefixes {
		if strings.HasPrefix(upperName, prefix) {
			return prefix
		}
	}
	for _, length := range []int{4, 3, 2} {
		if len(tableName) >= length {
			prefix := strings.ToUpper(tableName[:length])
			if isAlpha(prefix) {
				return prefix
			}
		}
	}
	return upperName
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return len(s) > 0
}

// BuildFamilies groups table names under their family tag, sorted.
func BuildFamilies(tables map[string]Table) map[string][]string {
	families := map[string][]string{}
	for _, t := range tables {
		family := t.Family
		if family == "" {
			family = inferFamily(t.Name)
		}
		families[family] = append(families[family], t.Name)
	}
	for k := range families {
		sort.Strings(families[k])
	}
	return families
}

var fkTargetWithConfidenceRE = regexp.MustCompile(`^(\w+)\.(\w+)\((\w+):([^)]+)\)$`)
var fkTargetSimpleRE = regexp.MustCompile(`^(\w+)\.(\w+)`)

// parseFKTargets parses "PT.hn(high:universal); IPT.an(medium:within_family)".
func parseFKTargets(raw string) []FKTarget {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var targets []FKTarget
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if m := fkTargetWithConfidenceRE.FindStringSubmatch(part); m != nil {
			targets = append(targets, FKTarget{
				Table:      strings.ToUpper(m[1]),
				Column:     strings.ToLower(m[2]),
				Confidence: Confidence(m[3]),
				RelType:    m[4],
			})
			continue
		}
		if m := fkTargetSimpleRE.FindStringSubmatch(part); m != nil {
			targets = append(targets, FKTarget{
				Table:      strings.ToUpper(m[1]),
				Column:     strings.ToLower(m[2]),
				Confidence: ConfidenceMedium,
				RelType:    "unknown",
			})
		}
	}
	return targets
}

// parseJoinPeers parses "PT.hn; IPT.an; OVST.vn".
func parseJoinPeers(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ";") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readCSVRecords(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCSVFrom(f)
}

func readCSVFrom(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimPrefix(h, string(rune(0xFEFF)))
	}
	var rows []map[string]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseTablesCSV parses the tables file: table_name, comment, column_count.
func ParseTablesCSV(path string) (map[string]Table, error) {
	rows, err := readCSVRecords(path)
	if err != nil {
		return nil, fmt.Errorf("parse tables csv: %w", err)
	}
	tables := map[string]Table{}
	for _, row := range rows {
		name := strings.ToUpper(strings.TrimSpace(row["table_name"]))
		if name == "" {
			continue
		}
		count, _ := strconv.Atoi(strings.TrimSpace(row["column_count"]))
		tables[name] = Table{
			Name:        name,
			Comment:     strings.TrimSpace(row["comment"]),
			ColumnCount: count,
			Columns:     map[string]Column{},
			Family:      inferFamily(name),
		}
	}
	return tables, nil
}

// ParseColumnsCSV parses the enriched columns file and merges into
// tables, creating any table missing from the tables file.
func ParseColumnsCSV(path string, tables map[string]Table) error {
	rows, err := readCSVRecords(path)
	if err != nil {
		return fmt.Errorf("parse columns csv: %w", err)
	}
	for _, row := range rows {
		tableName := strings.ToUpper(strings.TrimSpace(row["table_name"]))
		columnName := strings.ToLower(strings.TrimSpace(row["column_name"]))
		if tableName == "" || columnName == "" {
			continue
		}
		t, ok := tables[tableName]
		if !ok {
			t = Table{Name: tableName, Columns: map[string]Column{}, Family: inferFamily(tableName)}
		}
		col := Column{
			Name:         columnName,
			DataType:     strings.TrimSpace(row["database_type"]),
			BaseType:     strings.TrimSpace(row["base_type"]),
			Comment:      strings.TrimSpace(row["comment"]),
			IsPK:         strings.TrimSpace(row["is_pk"]) == "1",
			PKConfidence: strings.TrimSpace(row["pk_confidence"]),
			PKReason:     strings.TrimSpace(row["pk_reason"]),
			IsFK:         strings.TrimSpace(row["is_fk"]) == "1",
			FKTargets:    parseFKTargets(row["fk_targets"]),
			JoinPeers:    parseJoinPeers(row["join_peers"]),
			JoinWarning:  strings.TrimSpace(row["join_warning"]),
			IsPHI:        IsPHIName(columnName),
		}
		t.Columns[columnName] = col
		tables[tableName] = t
	}
	return nil
}

// ParseJoinEdgesCSV parses the join-edges file.
func ParseJoinEdgesCSV(path string) ([]JoinEdge, error) {
	rows, err := readCSVRecords(path)
	if err != nil {
		return nil, fmt.Errorf("parse join edges csv: %w", err)
	}
	var edges []JoinEdge
	for _, row := range rows {
		from := strings.ToUpper(strings.TrimSpace(row["from_table"]))
		to := strings.ToUpper(strings.TrimSpace(row["to_table"]))
		if from == "" || to == "" {
			continue
		}
		confidence := strings.TrimSpace(row["confidence"])
		if confidence == "" {
			confidence = string(ConfidenceMedium)
		}
		edges = append(edges, JoinEdge{
			FromTable:   from,
			FromColumn:  strings.ToLower(strings.TrimSpace(row["from_column"])),
			ToTable:     to,
			ToColumn:    strings.ToLower(strings.TrimSpace(row["to_column"])),
			Confidence:  Confidence(confidence),
			RelType:     strings.TrimSpace(row["rel_type"]),
			Source:      strings.TrimSpace(row["source"]),
			WarningFrom: strings.TrimSpace(row["warnings_from"]),
			WarningTo:   strings.TrimSpace(row["warnings_to"]),
		})
	}
	return edges, nil
}

// LoadCSV builds a SchemaCatalog from the three tabular sources
// described in spec.md §6: tables, enriched columns, join edges.
func LoadCSV(tablesPath, columnsPath, joinEdgesPath string) (*SchemaCatalog, error) {
	tables, err := ParseTablesCSV(tablesPath)
	if err != nil {
		return nil, err
	}
	if err := ParseColumnsCSV(columnsPath, tables); err != nil {
		return nil, err
	}
	edges, err := ParseJoinEdgesCSV(joinEdgesPath)
	if err != nil {
		return nil, err
	}
	return New(tables, edges, BuildFamilies(tables)), nil
}
