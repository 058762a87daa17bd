package joins_test

import (
	"testing"

	"github.com/kcmh-his/sql-copilot/internal/catalog"
	"github.com/kcmh-his/sql-copilot/internal/joins"
)

func abTables() map[string]catalog.Table {
	return map[string]catalog.Table{
		"A": {Name: "A", Columns: map[string]catalog.Column{"k1": {Name: "k1"}, "k2": {Name: "k2"}}},
		"B": {Name: "B", Columns: map[string]catalog.Column{"k1": {Name: "k1"}, "k2": {Name: "k2"}}},
	}
}

// Scenario 8 from spec.md §8: two edges between A and B, the
// universal/high/no-warning edge must outrank the heuristic_home one
// with a warning, 150 vs 5.
func TestScoreEdgeScenario8(t *testing.T) {
	good := catalog.JoinEdge{FromTable: "A", FromColumn: "k1", ToTable: "B", ToColumn: "k1", Confidence: catalog.ConfidenceHigh, RelType: "universal"}
	bad := catalog.JoinEdge{FromTable: "A", FromColumn: "k2", ToTable: "B", ToColumn: "k2", Confidence: catalog.ConfidenceHeuristic, RelType: "heuristic_home", WarningFrom: "suspicious"}

	if got := joins.ScoreEdge(good); got != 150 {
		t.Errorf("good edge score = %d, want 150", got)
	}
	if got := joins.ScoreEdge(bad); got != 5 {
		t.Errorf("bad edge score = %d, want 5", got)
	}

	c := catalog.New(abTables(), []catalog.JoinEdge{good, bad}, nil)
	path, ok := joins.GetBestJoin(c, "A", "B")
	if !ok {
		t.Fatal("expected a path")
	}
	if path.Steps[0].FromColumn != "k1" {
		t.Errorf("expected best path to use k1, got %q", path.Steps[0].FromColumn)
	}
}

func TestScoreEdgeIsPureFunctionOfInputs(t *testing.T) {
	e1 := catalog.JoinEdge{Confidence: catalog.ConfidenceMedium, RelType: "within_family"}
	e2 := catalog.JoinEdge{Confidence: catalog.ConfidenceMedium, RelType: "within_family", FromTable: "X", ToTable: "Y"}
	if joins.ScoreEdge(e1) != joins.ScoreEdge(e2) {
		t.Error("score must depend only on confidence/rel_type/warning presence, not table identity")
	}
}

func TestFindJoinPathsSelfJoinReturnsNone(t *testing.T) {
	c := catalog.New(abTables(), nil, nil)
	if paths := joins.FindJoinPaths(c, "A", "A", joins.DefaultMaxHops); paths != nil {
		t.Errorf("self-join should return no paths, got %v", paths)
	}
}

func TestFindJoinPathsRespectsMaxHopsAndDistinctVertices(t *testing.T) {
	tables := map[string]catalog.Table{
		"A": {Name: "A", Columns: map[string]catalog.Column{"k": {Name: "k"}}},
		"B": {Name: "B", Columns: map[string]catalog.Column{"k": {Name: "k"}}},
		"C": {Name: "C", Columns: map[string]catalog.Column{"k": {Name: "k"}}},
		"D": {Name: "D", Columns: map[string]catalog.Column{"k": {Name: "k"}}},
	}
	edges := []catalog.JoinEdge{
		{FromTable: "A", FromColumn: "k", ToTable: "B", ToColumn: "k", Confidence: catalog.ConfidenceHigh, RelType: "universal"},
		{FromTable: "B", FromColumn: "k", ToTable: "C", ToColumn: "k", Confidence: catalog.ConfidenceHigh, RelType: "universal"},
		{FromTable: "C", FromColumn: "k", ToTable: "D", ToColumn: "k", Confidence: catalog.ConfidenceHigh, RelType: "universal"},
	}
	c := catalog.New(tables, edges, nil)

	paths := joins.FindJoinPaths(c, "A", "D", 2)
	if len(paths) != 0 {
		t.Fatalf("A->D needs 3 hops, maxHops=2 should find none, got %v", paths)
	}

	paths = joins.FindJoinPaths(c, "A", "D", 3)
	if len(paths) != 1 {
		t.Fatalf("expected exactly 1 path A->D within 3 hops, got %d", len(paths))
	}
	seen := map[string]bool{}
	for _, step := range paths[0].Steps {
		if seen[step.FromTable] {
			t.Errorf("vertex %s repeated in path", step.FromTable)
		}
		seen[step.FromTable] = true
	}
}

func TestValidateJoinHeuristicSameName(t *testing.T) {
	c := catalog.New(abTables(), nil, nil)
	v := joins.ValidateJoin(c, "A", "k1", "B", "k1")
	if !v.Valid || v.Confidence != catalog.ConfidenceHeuristic || v.Score != 25 {
		t.Errorf("expected heuristic valid=true score=25, got %+v", v)
	}
}

func TestValidateJoinUnknownColumnFailsFast(t *testing.T) {
	c := catalog.New(abTables(), nil, nil)
	v := joins.ValidateJoin(c, "A", "ghost", "B", "k1")
	if v.Valid {
		t.Error("expected invalid for unknown column")
	}
}

func TestValidateJoinKnownEdgeEitherDirection(t *testing.T) {
	edge := catalog.JoinEdge{FromTable: "A", FromColumn: "k1", ToTable: "B", ToColumn: "k1", Confidence: catalog.ConfidenceHigh, RelType: "universal"}
	c := catalog.New(abTables(), []catalog.JoinEdge{edge}, nil)

	v := joins.ValidateJoin(c, "B", "k1", "A", "k1")
	if !v.Valid || v.Confidence != catalog.ConfidenceHigh {
		t.Errorf("expected the reverse direction to match the declared edge, got %+v", v)
	}
}
