package sqlguard

import (
	"fmt"
	"strings"

	pgq "github.com/pganalyze/pg_query_go/v6"

	"github.com/kcmh-his/sql-copilot/internal/catalog"
	"github.com/kcmh-his/sql-copilot/internal/joins"
)

// extractedJoin is an equality condition between two qualified columns
// on different tables, found either in an explicit JOIN ... ON or as
// an implicit WHERE-clause join.
type extractedJoin struct {
	LeftTable, LeftColumn   string
	RightTable, RightColumn string
}

// extractJoins finds every join-shaped equality in the statement:
// JOIN ... ON conditions, and equalities ANDed together in a WHERE
// clause (the classic implicit-join style).
func extractJoins(root any, aliases map[string]string) []extractedJoin {
	var out []extractedJoin
	for _, n := range descendants(root) {
		switch t := n.GetNode().(type) {
		case *pgq.Node_JoinExpr:
			if on := t.JoinExpr.GetQuals(); on != nil {
				collectEqJoins(on, aliases, &out)
			}
		case *pgq.Node_SelectStmt:
			if where := t.SelectStmt.GetWhereClause(); where != nil {
				collectEqJoins(where, aliases, &out)
			}
		}
	}
	return out
}

func collectEqJoins(n *pgq.Node, aliases map[string]string, out *[]extractedJoin) {
	if n == nil || n.GetNode() == nil {
		return
	}
	switch t := n.GetNode().(type) {
	case *pgq.Node_AExpr:
		if !isEqualityOp(t.AExpr) {
			return
		}
		leftCol, leftOK := asColumnRef(t.AExpr.GetLexpr())
		rightCol, rightOK := asColumnRef(t.AExpr.GetRexpr())
		if !leftOK || !rightOK {
			return
		}
		leftTable, leftName, leftStar := columnRefParts(leftCol)
		rightTable, rightName, rightStar := columnRefParts(rightCol)
		if leftStar || rightStar || leftTable == "" || rightTable == "" {
			return
		}
		lt := resolveAlias(leftTable, aliases)
		rt := resolveAlias(rightTable, aliases)
		if lt == rt {
			return
		}
		*out = append(*out, extractedJoin{LeftTable: lt, LeftColumn: leftName, RightTable: rt, RightColumn: rightName})
	case *pgq.Node_BoolExpr:
		if t.BoolExpr.GetBoolop() != pgq.BoolExprType_AND_EXPR {
			return
		}
		for _, arg := range t.BoolExpr.GetArgs() {
			collectEqJoins(arg, aliases, out)
		}
	}
}

func isEqualityOp(ae *pgq.A_Expr) bool {
	if ae.GetKind() != pgq.A_Expr_Kind_AEXPR_OP {
		return false
	}
	for _, n := range ae.GetName() {
		if s, ok := n.GetNode().(*pgq.Node_String_); ok && s.String_.GetSval() == "=" {
			return true
		}
	}
	return false
}

func asColumnRef(n *pgq.Node) (*pgq.ColumnRef, bool) {
	if n == nil {
		return nil, false
	}
	cr, ok := n.GetNode().(*pgq.Node_ColumnRef)
	if !ok {
		return nil, false
	}
	return cr.ColumnRef, true
}

func resolveAlias(name string, aliases map[string]string) string {
	if real, ok := aliases[strings.ToUpper(name)]; ok {
		return real
	}
	return strings.ToUpper(name)
}

// validateExtractedJoins checks each extracted join against the
// catalog's join graph, producing the same three warning classes the
// original validator does: low-confidence (heuristic), schema-marked
// (e.g. a home-key override), and entirely unverified.
func validateExtractedJoins(extracted []extractedJoin, cat *catalog.SchemaCatalog) []JoinWarning {
	var out []JoinWarning
	for _, j := range extracted {
		v := joins.ValidateJoin(cat, j.LeftTable, j.LeftColumn, j.RightTable, j.RightColumn)

		// Matches the original pipeline exactly: this check fires on
		// confidence alone, even when the join above was also rejected
		// as unknown — the two warnings can legitimately both appear.
		if v.Confidence == catalog.ConfidenceHeuristic {
			suggested := ""
			if best, ok := joins.GetBestJoin(cat, j.LeftTable, j.RightTable); ok && len(best.Steps) > 0 && best.TotalScore > 25 {
				step := best.Steps[0]
				suggested = fmt.Sprintf("%s.%s = %s.%s", step.FromTable, step.FromColumn, step.ToTable, step.ToColumn)
			}
			out = append(out, JoinWarning{
				FromTable: j.LeftTable, FromColumn: j.LeftColumn, ToTable: j.RightTable, ToColumn: j.RightColumn,
				Confidence: catalog.ConfidenceHeuristic, Message: "Low confidence join - consider using a verified join path",
				SuggestedAlternative: suggested,
			})
		}

		for _, w := range v.Warnings {
			out = append(out, JoinWarning{
				FromTable: j.LeftTable, FromColumn: j.LeftColumn, ToTable: j.RightTable, ToColumn: j.RightColumn,
				Confidence: v.Confidence, Message: w,
			})
		}

		if !v.Valid {
			out = append(out, JoinWarning{
				FromTable: j.LeftTable, FromColumn: j.LeftColumn, ToTable: j.RightTable, ToColumn: j.RightColumn,
				Confidence: "unknown", Message: "Join not found in schema catalog",
			})
		}
	}
	return out
}
