package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kcmh-his/sql-copilot/internal/catalog"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCSVBuildsTablesColumnsAndEdges(t *testing.T) {
	dir := t.TempDir()
	tablesPath := writeFile(t, dir, "tables.csv", "table_name,comment,column_count\nOVST,outpatient visits,5\nPT,patient master,3\n")
	columnsPath := writeFile(t, dir, "columns.csv",
		"table_name,column_name,database_type,base_type,comment,is_pk,pk_confidence,pk_reason,is_fk,fk_targets,join_peers,join_warning\n"+
			"OVST,vn,varchar,string,visit number,1,high,pk,0,,,\n"+
			"OVST,hn,varchar,string,patient hn,0,,,1,\"PT.hn(high:universal)\",\"PT.hn\",\n"+
			"PT,hn,varchar,string,patient hn,1,high,pk,0,,,\n")
	edgesPath := writeFile(t, dir, "edges.csv",
		"from_table,from_column,to_table,to_column,confidence,rel_type,source,warnings_from,warnings_to\n"+
			"OVST,hn,PT,hn,high,universal,manual,,\n")

	c, err := catalog.LoadCSV(tablesPath, columnsPath, edgesPath)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	if !c.TableExists("ovst") {
		t.Fatal("expected OVST to exist (case-insensitive)")
	}
	if !c.ColumnExists("OVST", "HN") {
		t.Fatal("expected OVST.hn to exist (case-insensitive)")
	}
	if !c.IsPHIColumn("hn") {
		t.Fatal("hn must be PHI")
	}
	col, ok := c.GetColumn("OVST", "hn")
	if !ok || !col.IsPHI {
		t.Fatalf("expected OVST.hn to be marked PHI, got %+v", col)
	}
	if len(col.FKTargets) != 1 || col.FKTargets[0].Table != "PT" || col.FKTargets[0].Column != "hn" {
		t.Fatalf("unexpected fk targets: %+v", col.FKTargets)
	}
	if len(c.JoinEdges()) != 1 {
		t.Fatalf("expected 1 join edge, got %d", len(c.JoinEdges()))
	}
}

func TestValidateSQLReferencesSkipsUnknownTableColumns(t *testing.T) {
	tables := map[string]catalog.Table{
		"OVST": {Name: "OVST", Columns: map[string]catalog.Column{"vn": {Name: "vn"}}},
	}
	c := catalog.New(tables, nil, nil)

	invalidTables, invalidColumns := c.ValidateSQLReferences(
		[]string{"OVST", "GHOST"},
		map[string][]string{"OVST": {"vn", "missing"}, "GHOST": {"whatever"}},
	)

	if diff := cmp.Diff([]string{"GHOST"}, invalidTables); diff != "" {
		t.Errorf("invalidTables mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"OVST.missing"}, invalidColumns); diff != "" {
		t.Errorf("invalidColumns mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	tables := map[string]catalog.Table{
		"OVST": {
			Name: "OVST", Comment: "visits", ColumnCount: 1, Family: "OVST",
			Columns: map[string]catalog.Column{
				"hn": {Name: "hn", IsPHI: true, FKTargets: []catalog.FKTarget{{Table: "PT", Column: "hn", Confidence: catalog.ConfidenceHigh, RelType: "universal"}}},
			},
		},
	}
	edges := []catalog.JoinEdge{{FromTable: "OVST", FromColumn: "hn", ToTable: "PT", ToColumn: "hn", Confidence: catalog.ConfidenceHigh, RelType: "universal"}}
	orig := catalog.New(tables, edges, nil)

	data, err := orig.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	restored, err := catalog.FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if diff := cmp.Diff(orig.Tables(), restored.Tables()); diff != "" {
		t.Errorf("tables mismatch after round-trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(orig.JoinEdges(), restored.JoinEdges()); diff != "" {
		t.Errorf("join edges mismatch after round-trip (-want +got):\n%s", diff)
	}
}

func TestInferFamilyLongestPrefixWins(t *testing.T) {
	tables, err := catalog.ParseTablesCSV(writeFile(t, t.TempDir(), "t.csv", "table_name,comment,column_count\nIPTADMROOM,room,2\nIPTBOOK,booking,1\n"))
	if err != nil {
		t.Fatalf("ParseTablesCSV: %v", err)
	}
	if tables["IPTADMROOM"].Family != "IPTADM" {
		t.Errorf("expected family IPTADM (longest matching prefix), got %q", tables["IPTADMROOM"].Family)
	}
	if tables["IPTBOOK"].Family != "IPTBOOK" {
		t.Errorf("expected family IPTBOOK, got %q", tables["IPTBOOK"].Family)
	}
}
