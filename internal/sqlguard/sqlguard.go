// Package sqlguard is the last line of defense between an LLM's
// generated SQL and the database: a multi-layer validator that must
// reject anything that is not a read-only, PHI-safe, bounded SELECT
// before the executor ever sees it. Every rejection carries one of the
// eight apperrors.GuardErrorKind values so callers can branch on cause.
//
// Layers, in order, mirror the original validator: keyword blocklist,
// parse, statement type, SELECT-star, PHI exposure, catalog existence,
// LIMIT enforcement, then non-fatal join-quality warnings.
package sqlguard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	pgq "github.com/pganalyze/pg_query_go/v6"

	"github.com/kcmh-his/sql-copilot/internal/apperrors"
	"github.com/kcmh-his/sql-copilot/internal/catalog"
	"github.com/kcmh-his/sql-copilot/internal/joins"
)

// ForbiddenKeywords are rejected outright, before the SQL is even
// parsed. Checked on a copy of the statement with string literals
// blanked out, so a literal containing one of these words does not
// trip a false positive.
var ForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "GRANT", "REVOKE", "COPY", "VACUUM", "ANALYZE",
	"CALL", "DO", "MERGE", "EXECUTE", "PREPARE", "DEALLOCATE",
	"COMMIT", "ROLLBACK", "SAVEPOINT", "LOCK", "UNLOCK",
	"SET ROLE", "RESET", "DISCARD", "LOAD", "UNLOAD",
}

var (
	stringLiteralRE = regexp.MustCompile(`'[^']*'`)
	quotedIdentRE   = regexp.MustCompile(`"[^"]*"`)
)

var keywordPatterns = buildKeywordPatterns()

func buildKeywordPatterns() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(ForbiddenKeywords))
	for _, kw := range ForbiddenKeywords {
		out[kw] = regexp.MustCompile(`\b` + kw + `\b`)
	}
	return out
}

// quickKeywordCheck returns the forbidden keyword found, or "" if none.
func quickKeywordCheck(sql string) string {
	cleaned := strings.ToUpper(sql)
	cleaned = stringLiteralRE.ReplaceAllString(cleaned, "''")
	cleaned = quotedIdentRE.ReplaceAllString(cleaned, `""`)

	for _, kw := range ForbiddenKeywords {
		if keywordPatterns[kw].MatchString(cleaned) {
			return kw
		}
	}
	return ""
}

// JoinWarning flags a join the catalog considers weak or unverified.
// It never fails validation on its own; it is surfaced so the caller
// can decide whether to proceed or ask the agent to retry.
type JoinWarning struct {
	FromTable, FromColumn string
	ToTable, ToColumn     string
	Confidence            catalog.Confidence
	Message               string
	SuggestedAlternative  string
}

// ValidationResult is the outcome of ValidateSQL. Valid is the only
// field callers must check before trusting the rest; the remainder is
// diagnostic detail used for prompting, logging, and retry messages.
type ValidationResult struct {
	Valid      bool
	Error      string
	ErrorKind  apperrors.GuardErrorKind
	TablesUsed []string
	// ColumnsUsed holds only the columns that appear in the SELECT
	// output (aggregate arguments excluded); AllColumns holds every
	// column reference anywhere in the statement.
	ColumnsUsed      map[string][]string
	AllColumns       map[string][]string
	HasAggregation   bool
	HasLimit         bool
	LimitValue       int
	PHIColumnsFound  []string
	Warnings         []string
	JoinWarnings     []JoinWarning
}

// Options tunes the catalog-dependent layers. MaxRows bounds LIMIT
// values; StrictCatalogCheck turns unknown table/column references
// from a warning into a hard rejection; ValidateJoins toggles the
// non-fatal join-quality pass.
type Options struct {
	MaxRows            int
	StrictCatalogCheck bool
	ValidateJoins      bool
}

// DefaultMaxRows matches spec.md's default LIMIT ceiling.
const DefaultMaxRows = 2000

func reject(kind apperrors.GuardErrorKind, format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Error: fmt.Sprintf(format, args...), ErrorKind: kind}
}

// ValidateSQL runs every layer and returns a diagnostic result; it
// never returns an error value, only Valid=false with ErrorKind set,
// since a rejection is an expected, first-class outcome here, not a
// Go error. Use GuardSQL when a hard apperrors.GuardError is wanted.
func ValidateSQL(sql string, cat *catalog.SchemaCatalog, opts Options) ValidationResult {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}

	// Layer 1: keyword blocklist, cheaper than parsing.
	if kw := quickKeywordCheck(sql); kw != "" {
		return reject(apperrors.KindForbiddenKeyword, "Forbidden keyword: %s", kw)
	}

	// Layer 2: parse.
	tree, err := pgq.Parse(sql)
	if err != nil {
		return reject(apperrors.KindSQLParse, "SQL parse error: %v", err)
	}
	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return reject(apperrors.KindSQLParse, "expected exactly one statement, got %d", len(stmts))
	}
	node := stmts[0].GetStmt()

	// Layer 3: statement type. pg_query_go represents every SELECT
	// variant (plain, WITH-wrapped, set-operation) as one SelectStmt
	// node, so this check is a single type assertion rather than the
	// three-way isinstance check a sqlglot-based guard would need.
	selectNode, ok := node.GetNode().(*pgq.Node_SelectStmt)
	if !ok {
		return reject(apperrors.KindForbiddenStatement, "Only SELECT statements are allowed. Got: %s", statementTypeName(node))
	}
	stmt := selectNode.SelectStmt

	tablesUsed := extractTables(node)
	aliases := extractTableAliases(node)
	selectColumns := extractOutputColumns(stmt)
	allColumns := extractAllColumns(node)
	hasAgg := hasAggregation(node)
	limitVal, hasLimit := limitValue(stmt)

	selectColumnsResolved := resolveColumnTables(selectColumns, aliases)
	allColumnsResolved := resolveColumnTables(allColumns, aliases)
	allColumnsResolved = resolveUnknownColumns(allColumnsResolved, node)
	selectColumnsResolved = resolveUnknownColumns(selectColumnsResolved, node)

	tablesList := sortedSet(tablesUsed)

	// Layer 4: no SELECT *.
	if errMsg := checkSelectStar(selectColumns); errMsg != "" {
		return ValidationResult{Valid: false, Error: errMsg, ErrorKind: apperrors.KindSelectStar, TablesUsed: tablesList}
	}

	// Layer 5: PHI columns must never reach the output.
	phiErr, phiFound := checkPHIInSelect(selectColumnsResolved, cat)
	if phiErr != "" {
		return ValidationResult{Valid: false, Error: phiErr, ErrorKind: apperrors.KindPHIExposure, TablesUsed: tablesList, PHIColumnsFound: phiFound}
	}

	var warnings []string

	// Layer 6: catalog existence.
	if cat != nil {
		columnsForValidation := map[string][]string{}
		for table, cols := range allColumnsResolved {
			if table == unknownTableKey || table == starTableKey {
				continue
			}
			columnsForValidation[strings.ToUpper(table)] = cols
		}

		if opts.StrictCatalogCheck {
			invalidTables, invalidCols := cat.ValidateSQLReferences(tablesList, columnsForValidation)
			if len(invalidTables) > 0 {
				return ValidationResult{Valid: false, Error: fmt.Sprintf("Unknown table(s): %s", strings.Join(invalidTables, ", ")),
					ErrorKind: apperrors.KindUnknownTable, TablesUsed: tablesList, AllColumns: allColumnsResolved}
			}
			if len(invalidCols) > 0 {
				return ValidationResult{Valid: false, Error: fmt.Sprintf("Unknown column(s): %s", strings.Join(invalidCols, ", ")),
					ErrorKind: apperrors.KindUnknownColumn, TablesUsed: tablesList, AllColumns: allColumnsResolved}
			}
		} else {
			for _, t := range tablesList {
				if !cat.TableExists(t) {
					warnings = append(warnings, fmt.Sprintf("Table '%s' not found in catalog", t))
				}
			}
		}
	}

	// Layer 7: non-aggregate queries must carry a bounded LIMIT.
	if !hasAgg {
		if !hasLimit {
			return ValidationResult{Valid: false, Error: fmt.Sprintf("Non-aggregate queries must include LIMIT (max %d rows)", opts.MaxRows),
				ErrorKind: apperrors.KindMissingLimit, TablesUsed: tablesList, ColumnsUsed: selectColumnsResolved,
				AllColumns: allColumnsResolved, HasAggregation: hasAgg, Warnings: warnings}
		}
		if limitVal > opts.MaxRows {
			return ValidationResult{Valid: false, Error: fmt.Sprintf("LIMIT %d exceeds maximum allowed (%d)", limitVal, opts.MaxRows),
				ErrorKind: apperrors.KindMissingLimit, TablesUsed: tablesList, ColumnsUsed: selectColumnsResolved,
				AllColumns: allColumnsResolved, HasAggregation: hasAgg, HasLimit: true, LimitValue: limitVal, Warnings: warnings}
		}
	}

	// Layer 8: join-quality warnings (never fatal).
	var joinWarnings []JoinWarning
	if cat != nil && opts.ValidateJoins {
		extracted := extractJoins(node, aliases)
		if len(extracted) > 0 {
			joinWarnings = validateExtractedJoins(extracted, cat)
			warnings = append(warnings, joinWarningMessages(joinWarnings)...)
		}
	}

	return ValidationResult{
		Valid: true, TablesUsed: tablesList, ColumnsUsed: selectColumnsResolved, AllColumns: allColumnsResolved,
		HasAggregation: hasAgg, HasLimit: hasLimit, LimitValue: limitVal, Warnings: warnings, JoinWarnings: joinWarnings,
	}
}

// GuardSQL validates sql and returns it unchanged if valid, or a typed
// *apperrors.GuardError describing the first rule that rejected it.
func GuardSQL(sql string, cat *catalog.SchemaCatalog, opts Options) (string, error) {
	result := ValidateSQL(sql, cat, opts)
	if result.Valid {
		return sql, nil
	}
	return "", apperrors.NewGuardError(result.ErrorKind, result.Error, nil)
}

func statementTypeName(node *pgq.Node) string {
	if node == nil || node.GetNode() == nil {
		return "<empty>"
	}
	name := fmt.Sprintf("%T", node.GetNode())
	return strings.TrimPrefix(name, "*pg_query.Node_")
}

func checkSelectStar(columns map[string][]string) string {
	// Deterministic order so the error message doesn't flap between runs.
	keys := make([]string, 0, len(columns))
	for k := range columns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, table := range keys {
		for _, col := range columns[table] {
			if col != "*" {
				continue
			}
			if table == starTableKey {
				return "SELECT * is not allowed. Please specify explicit column names."
			}
			return fmt.Sprintf("SELECT %s.* is not allowed. Please specify explicit column names.", table)
		}
	}
	return ""
}

func checkPHIInSelect(columns map[string][]string, cat *catalog.SchemaCatalog) (string, []string) {
	var found []string
	keys := make([]string, 0, len(columns))
	for k := range columns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, table := range keys {
		for _, col := range columns[table] {
			lower := strings.ToLower(col)
			label := col
			if table != unknownTableKey {
				label = table + "." + col
			}

			if catalog.IsPHIName(lower) {
				found = append(found, label)
				continue
			}
			if cat != nil && table != unknownTableKey && table != starTableKey {
				if c, ok := cat.GetColumn(table, lower); ok && c.IsPHI {
					found = append(found, table+"."+col)
				}
			}
		}
	}
	if len(found) > 0 {
		return fmt.Sprintf("PHI column(s) cannot be included in SELECT output: %s", strings.Join(found, ", ")), found
	}
	return "", nil
}

func joinWarningMessages(joinWarnings []JoinWarning) []string {
	var out []string
	seen := map[string]bool{}
	add := func(msg string) {
		if !seen[msg] {
			out = append(out, msg)
			seen[msg] = true
		}
	}
	for _, jw := range joinWarnings {
		switch {
		case jw.Confidence == catalog.ConfidenceHeuristic && strings.HasPrefix(jw.Message, "Low confidence"):
			msg := fmt.Sprintf("Low-confidence join: %s.%s = %s.%s", jw.FromTable, jw.FromColumn, jw.ToTable, jw.ToColumn)
			if jw.SuggestedAlternative != "" {
				msg += fmt.Sprintf(" (consider: %s)", jw.SuggestedAlternative)
			}
			add(msg)
		case jw.Confidence == "unknown":
			add(fmt.Sprintf("Unverified join: %s.%s = %s.%s", jw.FromTable, jw.FromColumn, jw.ToTable, jw.ToColumn))
		case jw.Message != "":
			add(fmt.Sprintf("Join warning (%s.%s): %s", jw.FromTable, jw.FromColumn, jw.Message))
		}
	}
	return out
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
