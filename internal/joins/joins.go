// Package joins turns a catalog's flat join-edge list into a graph,
// scores edges, finds paths, and recommends multi-table join plans.
// Every function here is a pure read over a *catalog.SchemaCatalog —
// nothing in this package mutates the catalog.
package joins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kcmh-his/sql-copilot/internal/catalog"
)

// confidenceScores is the base score for each confidence tier. Order
// exists only to rank candidates; it never accepts or rejects a join.
var confidenceScores = map[catalog.Confidence]int{
	catalog.ConfidenceHigh:      100,
	catalog.ConfidenceMedium:    50,
	catalog.ConfidenceHeuristic: 25,
}

// relTypeBonuses adjusts the base score by relationship kind.
var relTypeBonuses = map[string]int{
	"universal":      50,
	"table match":     30,
	"within_family":   10,
	"heuristic_home": -20,
}

// ScoreEdge computes score = confidence_base + rel_type_bonus +
// warning_penalty. A pure function of (confidence, rel_type,
// presence-of-warning) alone.
func ScoreEdge(e catalog.JoinEdge) int {
	score := confidenceScores[e.Confidence] + relTypeBonuses[e.RelType]
	if e.WarningFrom != "" || e.WarningTo != "" {
		score -= 30
	}
	return score
}

// Step is a single hop in a join path.
type Step struct {
	FromTable, FromColumn string
	ToTable, ToColumn     string
	Confidence            catalog.Confidence
	RelType               string
	Score                 int
	Warning               string
}

// Path is a complete join path between two tables.
type Path struct {
	FromTable, ToTable string
	Steps              []Step
	TotalScore         int
	Warnings           []string
}

func (p Path) HopCount() int { return len(p.Steps) }
func (p Path) IsDirect() bool { return p.HopCount() == 1 }

func stepFromEdge(e catalog.JoinEdge) Step {
	return Step{
		FromTable: e.FromTable, FromColumn: e.FromColumn,
		ToTable: e.ToTable, ToColumn: e.ToColumn,
		Confidence: e.Confidence, RelType: e.RelType,
		Score:   ScoreEdge(e),
		Warning: firstNonEmpty(e.WarningFrom, e.WarningTo),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// buildGraph expands every declared edge into its bidirectional form
// (forward and a synthesized reverse), keyed by source table.
func buildGraph(c *catalog.SchemaCatalog) map[string][]catalog.JoinEdge {
	graph := map[string][]catalog.JoinEdge{}
	for _, e := range c.JoinEdges() {
		graph[e.FromTable] = append(graph[e.FromTable], e)
		reverse := catalog.JoinEdge{
			FromTable: e.ToTable, FromColumn: e.ToColumn,
			ToTable: e.FromTable, ToColumn: e.FromColumn,
			Confidence: e.Confidence, RelType: e.RelType, Source: e.Source,
			WarningFrom: e.WarningTo, WarningTo: e.WarningFrom,
		}
		graph[e.ToTable] = append(graph[e.ToTable], reverse)
	}
	return graph
}

type bfsState struct {
	table   string
	path    []catalog.JoinEdge
	visited map[string]bool
}

// FindJoinPaths does a breadth-first search from fromTable to toTable,
// bounded by maxHops, with a visited set preventing cycles. Returned
// paths are sorted by (hop count ascending, total score descending).
// Self-joins return no paths.
func FindJoinPaths(c *catalog.SchemaCatalog, fromTable, toTable string, maxHops int) []Path {
	from := strings.ToUpper(fromTable)
	to := strings.ToUpper(toTable)
	if from == to {
		return nil
	}
	if !c.TableExists(from) || !c.TableExists(to) {
		return nil
	}

	graph := buildGraph(c)
	var paths []Path

	queue := []bfsState{{table: from, path: nil, visited: map[string]bool{from: true}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.path) > maxHops {
			continue
		}

		for _, edge := range graph[cur.table] {
			next := edge.ToTable
			if cur.visited[next] {
				continue
			}
			newPath := append(append([]catalog.JoinEdge{}, cur.path...), edge)

			if next == to {
				steps := make([]Step, 0, len(newPath))
				total := 0
				var warnings []string
				for _, e := range newPath {
					s := stepFromEdge(e)
					steps = append(steps, s)
					total += s.Score
					if s.Warning != "" {
						warnings = append(warnings, fmt.Sprintf("%s.%s: %s", e.FromTable, e.FromColumn, s.Warning))
					}
				}
				paths = append(paths, Path{FromTable: from, ToTable: to, Steps: steps, TotalScore: total, Warnings: warnings})
				continue
			}

			if len(newPath) < maxHops {
				newVisited := make(map[string]bool, len(cur.visited)+1)
				for k, v := range cur.visited {
					newVisited[k] = v
				}
				newVisited[next] = true
				queue = append(queue, bfsState{table: next, path: newPath, visited: newVisited})
			}
		}
	}

	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].HopCount() != paths[j].HopCount() {
			return paths[i].HopCount() < paths[j].HopCount()
		}
		return paths[i].TotalScore > paths[j].TotalScore
	})
	return paths
}

// DefaultMaxHops is spec.md's default bound on BFS path search.
const DefaultMaxHops = 3

// GetBestJoin returns the best (highest-scoring, shortest) path, or
// false if none exists.
func GetBestJoin(c *catalog.SchemaCatalog, from, to string) (Path, bool) {
	paths := FindJoinPaths(c, from, to, DefaultMaxHops)
	if len(paths) == 0 {
		return Path{}, false
	}
	return paths[0], true
}

// GetDirectJoins returns single-hop joins between two tables, sorted
// by score descending.
func GetDirectJoins(c *catalog.SchemaCatalog, from, to string) []Step {
	fromU := strings.ToUpper(from)
	toU := strings.ToUpper(to)
	var steps []Step
	for _, e := range c.JoinEdges() {
		if (e.FromTable == fromU && e.ToTable == toU) || (e.FromTable == toU && e.ToTable == fromU) {
			steps = append(steps, stepFromEdge(e))
		}
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Score > steps[j].Score })
	return steps
}

// Validation is the outcome of validating a proposed join.
type Validation struct {
	Valid      bool
	Confidence catalog.Confidence
	Score      int
	Warnings   []string
	Suggestion string
}

// ValidateJoin checks a proposed (tableA.colA, tableB.colB) join per
// spec.md §4.2: fail fast on unknown referents, match the exact edge
// (either direction), fall back to a same-lowercase-name heuristic, or
// declare it invalid.
func ValidateJoin(c *catalog.SchemaCatalog, tableA, colA, tableB, colB string) Validation {
	tA, cA := strings.ToUpper(tableA), strings.ToLower(colA)
	tB, cB := strings.ToUpper(tableB), strings.ToLower(colB)

	if !c.TableExists(tA) {
		return Validation{Valid: false, Confidence: catalog.ConfidenceHeuristic, Warnings: []string{fmt.Sprintf("Table %s not found", tA)}}
	}
	if !c.TableExists(tB) {
		return Validation{Valid: false, Confidence: catalog.ConfidenceHeuristic, Warnings: []string{fmt.Sprintf("Table %s not found", tB)}}
	}
	if !c.ColumnExists(tA, cA) {
		return Validation{Valid: false, Confidence: catalog.ConfidenceHeuristic, Warnings: []string{fmt.Sprintf("Column %s.%s not found", tA, cA)}}
	}
	if !c.ColumnExists(tB, cB) {
		return Validation{Valid: false, Confidence: catalog.ConfidenceHeuristic, Warnings: []string{fmt.Sprintf("Column %s.%s not found", tB, cB)}}
	}

	for _, e := range c.JoinEdges() {
		forward := e.FromTable == tA && e.FromColumn == cA && e.ToTable == tB && e.ToColumn == cB
		backward := e.FromTable == tB && e.FromColumn == cB && e.ToTable == tA && e.ToColumn == cA
		if !forward && !backward {
			continue
		}

		score := ScoreEdge(e)
		var warnings []string
		suggestion := ""
		if warning := firstNonEmpty(e.WarningFrom, e.WarningTo); warning != "" {
			warnings = append(warnings, warning)
			for _, alt := range GetDirectJoins(c, tA, tB) {
				if alt.Score > score && alt.Warning == "" {
					suggestion = fmt.Sprintf("Consider using %s.%s = %s.%s instead (confidence: %s)",
						alt.FromTable, alt.FromColumn, alt.ToTable, alt.ToColumn, alt.Confidence)
					break
				}
			}
		}
		return Validation{Valid: true, Confidence: e.Confidence, Score: score, Warnings: warnings, Suggestion: suggestion}
	}

	if cA == cB {
		return Validation{Valid: true, Confidence: catalog.ConfidenceHeuristic, Score: 25, Warnings: []string{"not in schema — verify manually"}}
	}

	return Validation{
		Valid:      false,
		Confidence: catalog.ConfidenceHeuristic,
		Warnings:   []string{"No known relationship between these columns"},
		Suggestion: fmt.Sprintf("Check if %s and %s can be joined via another path", tA, tB),
	}
}

// Recommendation is a recommended join strategy for a set of tables.
type Recommendation struct {
	Tables     []string
	Joins      []Step
	TotalScore int
	Warnings   []string
}

// RecommendJoins greedily picks, at each step, the highest-scoring
// direct edge from any already-joined table to any not-yet-joined
// table; falls back to a two-hop path when no direct edge exists; and
// gives up with a warning naming the unjoined tables otherwise.
func RecommendJoins(c *catalog.SchemaCatalog, tables []string, baseTable string) Recommendation {
	if len(tables) == 0 {
		return Recommendation{}
	}

	upperTables := make([]string, len(tables))
	for i, t := range tables {
		upperTables[i] = strings.ToUpper(t)
	}
	base := strings.ToUpper(baseTable)
	if base == "" {
		base = upperTables[0]
	}
	if !contains(upperTables, base) {
		upperTables = append([]string{base}, upperTables...)
	}

	joined := map[string]bool{base: true}
	remaining := map[string]bool{}
	for _, t := range upperTables {
		if !joined[t] {
			remaining[t] = true
		}
	}

	var joins []Step
	var warnings []string
	total := 0

	for len(remaining) > 0 {
		var best *Step
		var bestTarget string

		joinedList := sortedKeys(joined)
		remainingList := sortedKeys(remaining)
		for _, jt := range joinedList {
			for _, target := range remainingList {
				path, ok := GetBestJoin(c, jt, target)
				if !ok || !path.IsDirect() {
					continue
				}
				step := path.Steps[0]
				if best == nil || step.Score > best.Score {
					s := step
					best = &s
					bestTarget = target
				}
			}
		}

		if best != nil {
			joins = append(joins, *best)
			total += best.Score
			joined[bestTarget] = true
			delete(remaining, bestTarget)
			if best.Warning != "" {
				warnings = append(warnings, fmt.Sprintf("%s.%s: %s", best.FromTable, best.FromColumn, best.Warning))
			}
			continue
		}

		progressed := false
		for _, target := range sortedKeys(remaining) {
			anyJoined := sortedKeys(joined)[0]
			paths := FindJoinPaths(c, anyJoined, target, 2)
			if len(paths) == 0 {
				continue
			}
			for _, step := range paths[0].Steps {
				if !joined[step.ToTable] {
					joins = append(joins, step)
					total += step.Score
					joined[step.ToTable] = true
					if step.Warning != "" {
						warnings = append(warnings, fmt.Sprintf("%s.%s: %s", step.FromTable, step.FromColumn, step.Warning))
					}
				}
			}
			delete(remaining, target)
			progressed = true
			break
		}
		if !progressed {
			warnings = append(warnings, fmt.Sprintf("Could not find join path to: %s", strings.Join(sortedKeys(remaining), ", ")))
			break
		}
	}

	return Recommendation{Tables: upperTables, Joins: joins, TotalScore: total, Warnings: warnings}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
