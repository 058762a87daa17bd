package sqlguard

import (
	"reflect"
	"strings"

	pgq "github.com/pganalyze/pg_query_go/v6"
)

// Sentinel table keys, mirroring the original validator's placeholders
// for columns whose table could not be determined statically.
const (
	unknownTableKey = "_UNKNOWN_"
	starTableKey    = "_STAR_"
)

var aggregateFuncNames = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true, "array_agg": true,
}

// descendants walks every reachable *pgq.Node under root (itself
// included), via reflection over the generated protobuf structs. This
// plays the role of sqlglot's Expression.find_all: rather than hand
// enumerating the few hundred grammar productions pg_query_go exposes,
// it walks whatever exported pointer/slice/struct fields it finds.
func descendants(root any) []*pgq.Node {
	var out []*pgq.Node
	var rec func(reflect.Value)
	rec = func(v reflect.Value) {
		if !v.IsValid() {
			return
		}
		switch v.Kind() {
		case reflect.Ptr:
			if v.IsNil() || !v.CanInterface() {
				return
			}
			if n, ok := v.Interface().(*pgq.Node); ok {
				out = append(out, n)
				if n.GetNode() != nil {
					rec(reflect.ValueOf(n.GetNode()))
				}
				return
			}
			rec(v.Elem())
		case reflect.Interface:
			if v.IsNil() {
				return
			}
			rec(v.Elem())
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				f := v.Field(i)
				if !f.CanInterface() {
					continue
				}
				rec(f)
			}
		case reflect.Slice:
			for i := 0; i < v.Len(); i++ {
				rec(v.Index(i))
			}
		}
	}
	rec(reflect.ValueOf(root))
	return out
}

// extractTables returns every table name (upper-cased) referenced
// anywhere in the statement, including nested subqueries and CTEs.
func extractTables(root any) map[string]struct{} {
	tables := map[string]struct{}{}
	for _, n := range descendants(root) {
		rv, ok := n.GetNode().(*pgq.Node_RangeVar)
		if !ok {
			continue
		}
		if name := rv.RangeVar.GetRelname(); name != "" {
			tables[strings.ToUpper(name)] = struct{}{}
		}
	}
	return tables
}

// extractTableAliases maps every alias (and each table name to itself)
// to its upper-cased real table name.
func extractTableAliases(root any) map[string]string {
	aliases := map[string]string{}
	for _, n := range descendants(root) {
		rv, ok := n.GetNode().(*pgq.Node_RangeVar)
		if !ok {
			continue
		}
		name := rv.RangeVar.GetRelname()
		if name == "" {
			continue
		}
		upperName := strings.ToUpper(name)
		aliases[upperName] = upperName
		if a := rv.RangeVar.GetAlias(); a != nil && a.GetAliasname() != "" {
			aliases[strings.ToUpper(a.GetAliasname())] = upperName
		}
	}
	return aliases
}

// resolveColumnTables resolves alias keys in columns to real table
// names, leaving the unknown/star sentinels untouched.
func resolveColumnTables(columns map[string][]string, aliases map[string]string) map[string][]string {
	resolved := map[string][]string{}
	for table, cols := range columns {
		if table == unknownTableKey || table == starTableKey {
			resolved[table] = append(resolved[table], cols...)
			continue
		}
		real, ok := aliases[strings.ToUpper(table)]
		if !ok {
			real = strings.ToUpper(table)
		}
		resolved[real] = appendUnique(resolved[real], cols...)
	}
	return resolved
}

func appendUnique(dst []string, items ...string) []string {
	seen := map[string]bool{}
	for _, d := range dst {
		seen[d] = true
	}
	for _, it := range items {
		if !seen[it] {
			dst = append(dst, it)
			seen[it] = true
		}
	}
	return dst
}

func isAggregateFuncCall(fc *pgq.FuncCall) bool {
	if fc.GetAggStar() {
		return true
	}
	names := fc.GetFuncname()
	if len(names) == 0 {
		return false
	}
	last := names[len(names)-1]
	s, ok := last.GetNode().(*pgq.Node_String_)
	if !ok {
		return false
	}
	return aggregateFuncNames[strings.ToLower(s.String_.GetSval())]
}

// collectSelectLeaves returns every SelectStmt that actually carries a
// target list: the statement itself if it is not a set operation, or
// the leaves of its Larg/Rarg union tree otherwise. This is how
// pg_query_go represents UNION/INTERSECT/EXCEPT — as one SelectStmt
// with Op set and the operand selects nested under Larg/Rarg, rather
// than as a distinct "union" node wrapping two selects.
func collectSelectLeaves(stmt *pgq.SelectStmt) []*pgq.SelectStmt {
	if stmt == nil {
		return nil
	}
	if stmt.GetOp() == pgq.SetOperation_SETOP_NONE {
		return []*pgq.SelectStmt{stmt}
	}
	var out []*pgq.SelectStmt
	out = append(out, collectSelectLeaves(stmt.GetLarg())...)
	out = append(out, collectSelectLeaves(stmt.GetRarg())...)
	return out
}

// extractOutputColumns collects the columns that would be visible in
// the query's result set: the top-level target list of each leaf
// SELECT, skipping the interior of any aggregate call entirely (an
// aggregate's argument never reaches the output as an individual
// value, so it is invisible to the PHI check — this mirrors the
// original validator's behavior exactly, including its blind spot for
// PHI columns passed only to an aggregate).
func extractOutputColumns(stmt *pgq.SelectStmt) map[string][]string {
	columns := map[string][]string{}
	for _, leaf := range collectSelectLeaves(stmt) {
		for _, target := range leaf.GetTargetList() {
			rt, ok := target.GetNode().(*pgq.Node_ResTarget)
			if !ok {
				continue
			}
			collectOutputColumns(rt.ResTarget.GetVal(), columns)
		}
	}
	return columns
}

func collectOutputColumns(n *pgq.Node, columns map[string][]string) {
	if n == nil || n.GetNode() == nil {
		return
	}
	switch t := n.GetNode().(type) {
	case *pgq.Node_FuncCall:
		if isAggregateFuncCall(t.FuncCall) {
			return
		}
		for _, arg := range t.FuncCall.GetArgs() {
			collectOutputColumns(arg, columns)
		}
	case *pgq.Node_ColumnRef:
		table, col, isStar := columnRefParts(t.ColumnRef)
		if isStar {
			key := starTableKey
			if table != "" {
				key = table
			}
			columns[key] = appendUnique(columns[key], "*")
			return
		}
		key := unknownTableKey
		if table != "" {
			key = table
		}
		columns[key] = appendUnique(columns[key], col)
	default:
		for _, child := range directChildren(n) {
			collectOutputColumns(child, columns)
		}
	}
}

// directChildren returns the immediate *pgq.Node fields one level
// below n's inner payload (not a deep walk — collectOutputColumns
// supplies the recursion itself so it can special-case aggregates).
func directChildren(n *pgq.Node) []*pgq.Node {
	var out []*pgq.Node
	var rec func(reflect.Value, bool)
	rec = func(v reflect.Value, top bool) {
		if !v.IsValid() {
			return
		}
		switch v.Kind() {
		case reflect.Ptr:
			if v.IsNil() || !v.CanInterface() {
				return
			}
			if child, ok := v.Interface().(*pgq.Node); ok {
				out = append(out, child)
				return
			}
			rec(v.Elem(), false)
		case reflect.Interface:
			if v.IsNil() {
				return
			}
			rec(v.Elem(), top)
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				f := v.Field(i)
				if f.CanInterface() {
					rec(f, false)
				}
			}
		case reflect.Slice:
			for i := 0; i < v.Len(); i++ {
				rec(v.Index(i), false)
			}
		}
	}
	rec(reflect.ValueOf(n.GetNode()), true)
	return out
}

// columnRefParts extracts (table, column, isStar) from a ColumnRef's
// dotted field path. An unqualified reference returns table="".
func columnRefParts(cr *pgq.ColumnRef) (table, column string, isStar bool) {
	fields := cr.GetFields()
	if len(fields) == 0 {
		return "", "", false
	}
	last := fields[len(fields)-1]
	if _, ok := last.GetNode().(*pgq.Node_AStar); ok {
		isStar = true
	} else if s, ok := last.GetNode().(*pgq.Node_String_); ok {
		column = strings.ToLower(s.String_.GetSval())
	}
	if len(fields) > 1 {
		if s, ok := fields[len(fields)-2].GetNode().(*pgq.Node_String_); ok {
			table = strings.ToUpper(s.String_.GetSval())
		}
	}
	return table, column, isStar
}

// extractAllColumns returns every column reference anywhere in the
// statement — SELECT list, WHERE, JOIN ON, GROUP BY, ORDER BY, CTEs,
// subqueries — used for strict catalog validation.
func extractAllColumns(root any) map[string][]string {
	columns := map[string][]string{}
	for _, n := range descendants(root) {
		cr, ok := n.GetNode().(*pgq.Node_ColumnRef)
		if !ok {
			continue
		}
		table, col, isStar := columnRefParts(cr.ColumnRef)
		if isStar || col == "" {
			continue
		}
		key := unknownTableKey
		if table != "" {
			key = table
		}
		columns[key] = appendUnique(columns[key], col)
	}
	return columns
}

// resolveUnknownColumns assigns unqualified columns to their source
// table whenever a SELECT's scope (FROM + JOINs) names exactly one
// table, the same single-table inference the original validator does.
func resolveUnknownColumns(columns map[string][]string, root any) map[string][]string {
	unknown := columns[unknownTableKey]
	if len(unknown) == 0 {
		return columns
	}
	// matchSet is frozen for the whole pass: every single-table scope
	// independently gets to claim any name that was originally
	// unqualified, even if another scope already claimed the same
	// name — two different subqueries can each have their own
	// unqualified "vn", and both deserve to resolve.
	matchSet := map[string]bool{}
	for _, c := range unknown {
		matchSet[c] = true
	}
	// stillUnknown tracks what to leave behind in _UNKNOWN_.
	stillUnknown := map[string]bool{}
	for _, c := range unknown {
		stillUnknown[c] = true
	}

	resolved := map[string][]string{}
	for k, v := range columns {
		resolved[k] = append([]string{}, v...)
	}

	for _, n := range descendants(root) {
		sel, ok := n.GetNode().(*pgq.Node_SelectStmt)
		if !ok {
			continue
		}
		scopeTables := scopeTableNames(sel.SelectStmt)
		if len(scopeTables) != 1 {
			continue
		}
		single := scopeTables[0]

		for _, colNode := range descendants(sel.SelectStmt) {
			assignUnqualified(colNode, single, matchSet, stillUnknown, resolved)
		}
	}

	if cols, ok := resolved[unknownTableKey]; ok {
		remaining := cols[:0]
		for _, c := range cols {
			if stillUnknown[c] {
				remaining = append(remaining, c)
			}
		}
		if len(remaining) == 0 {
			delete(resolved, unknownTableKey)
		} else {
			resolved[unknownTableKey] = remaining
		}
	}
	return resolved
}

func assignUnqualified(n *pgq.Node, single string, matchSet, stillUnknown map[string]bool, resolved map[string][]string) {
	cr, ok := n.GetNode().(*pgq.Node_ColumnRef)
	if !ok {
		return
	}
	table, col, isStar := columnRefParts(cr.ColumnRef)
	if isStar || table != "" || col == "" || !matchSet[col] {
		return
	}
	resolved[single] = appendUnique(resolved[single], col)
	delete(stillUnknown, col)
}

// scopeTableNames returns the alias-or-name of every table directly in
// a SELECT's FROM clause and JOIN chain (not nested subqueries).
func scopeTableNames(stmt *pgq.SelectStmt) []string {
	var names []string
	var walkFrom func(n *pgq.Node)
	walkFrom = func(n *pgq.Node) {
		if n == nil {
			return
		}
		switch t := n.GetNode().(type) {
		case *pgq.Node_RangeVar:
			name := t.RangeVar.GetRelname()
			if a := t.RangeVar.GetAlias(); a != nil && a.GetAliasname() != "" {
				name = a.GetAliasname()
			}
			if name != "" {
				names = append(names, strings.ToUpper(name))
			}
		case *pgq.Node_JoinExpr:
			walkFrom(t.JoinExpr.GetLarg())
			walkFrom(t.JoinExpr.GetRarg())
		}
	}
	for _, f := range stmt.GetFromClause() {
		walkFrom(f)
	}
	return names
}

// hasAggregation reports whether any reachable SELECT uses an
// aggregate function, GROUP BY, or DISTINCT.
func hasAggregation(root any) bool {
	for _, n := range descendants(root) {
		switch t := n.GetNode().(type) {
		case *pgq.Node_FuncCall:
			if isAggregateFuncCall(t.FuncCall) {
				return true
			}
		case *pgq.Node_SelectStmt:
			if len(t.SelectStmt.GetGroupClause()) > 0 {
				return true
			}
			if len(t.SelectStmt.GetDistinctClause()) > 0 {
				return true
			}
		}
	}
	return false
}

// limitValue returns the statement's LIMIT value, checking the outer
// statement first and falling back into a set-operation's operands.
func limitValue(stmt *pgq.SelectStmt) (int, bool) {
	if stmt == nil {
		return 0, false
	}
	if lc := stmt.GetLimitCount(); lc != nil {
		if v, ok := aConstInt(lc); ok {
			return v, true
		}
	}
	if stmt.GetOp() != pgq.SetOperation_SETOP_NONE {
		if v, ok := limitValue(stmt.GetLarg()); ok {
			return v, true
		}
		if v, ok := limitValue(stmt.GetRarg()); ok {
			return v, true
		}
	}
	return 0, false
}

func aConstInt(n *pgq.Node) (int, bool) {
	ac := n.GetAConst()
	if ac == nil || ac.GetIsnull() {
		return 0, false
	}
	if iv, ok := ac.GetVal().(*pgq.A_Const_Ival); ok {
		return int(iv.Ival.GetIval()), true
	}
	return 0, false
}
