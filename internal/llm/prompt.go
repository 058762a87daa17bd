package llm

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kcmh-his/sql-copilot/internal/catalog"
	"github.com/kcmh-his/sql-copilot/internal/concepts"
	"github.com/kcmh-his/sql-copilot/internal/executor"
)

// maxSchemaTables caps how many tables are listed in the schema
// context, matching the original prompt budget.
const maxSchemaTables = 50

// BangkokNow returns the current time in the Asia/Bangkok timezone,
// the hospital's local time — the prompt's date references ("this
// year", "last year") are always relative to this, regardless of
// where the service process itself runs.
func BangkokNow() time.Time {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		loc = time.FixedZone("+07", 7*60*60)
	}
	return time.Now().In(loc)
}

// BuildSchemaContext renders the verified tables/columns the model is
// allowed to reference, PHI/PK/FK annotations, and high-confidence
// relationship hints, capped at maxSchemaTables tables.
func BuildSchemaContext(cat *catalog.SchemaCatalog) string {
	var b strings.Builder
	b.WriteString("## VERIFIED TABLES AND COLUMNS\n\n")
	b.WriteString("**IMPORTANT**: Only use tables and columns listed below. The schema is incomplete,\n")
	b.WriteString("so if a column isn't listed, it may not exist or may have a different name.\n\n")

	tables := cat.Tables()
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > maxSchemaTables {
		names = names[:maxSchemaTables]
	}

	for _, name := range names {
		table := tables[name]
		colNames := make([]string, 0, len(table.Columns))
		for col := range table.Columns {
			colNames = append(colNames, col)
		}
		sort.Strings(colNames)

		if len(colNames) == 0 {
			b.WriteString(fmt.Sprintf("**%s**: (no verified columns)\n", name))
			continue
		}

		display := make([]string, len(colNames))
		for i, col := range colNames {
			c := table.Columns[col]
			switch {
			case c.IsPHI:
				display[i] = col + " [PHI-DO NOT SELECT]"
			case c.IsPK:
				display[i] = col + " [PK]"
			case c.IsFK:
				display[i] = col + " [FK]"
			default:
				display[i] = col
			}
		}

		extra := ""
		if n := table.ColumnCount - len(table.Columns); n > 0 {
			extra = fmt.Sprintf(" (+%d unverified columns)", n)
		}
		b.WriteString(fmt.Sprintf("**%s**: %s%s\n", name, strings.Join(display, ", "), extra))
	}

	if edges := cat.JoinEdges(); len(edges) > 0 {
		b.WriteString("\n## Key Relationships\n\n")
		count := 0
		for _, e := range edges {
			if e.Confidence != catalog.ConfidenceHigh {
				continue
			}
			b.WriteString(fmt.Sprintf("- %s -> %s via %s\n", e.FromTable, e.ToTable, e.FromColumn))
			count++
			if count == 20 {
				break
			}
		}
	}

	b.WriteString("\n## Table Name Hints\n")
	b.WriteString("- Patient diagnoses: PTDIAG (outpatient), IPTSUMDIAG (inpatient)\n")
	b.WriteString("- Outpatient visits: OVST\n")
	b.WriteString("- Inpatient admissions: IPT\n")
	b.WriteString("- Prescriptions: PRSC, PRSCDT\n")
	b.WriteString("- Patient info: PT\n")

	return b.String()
}

// BuildConceptsContext renders every loaded clinical concept as a
// short definition block for the prompt.
func BuildConceptsContext(lib *concepts.Library) string {
	if lib.Empty() {
		return "No clinical concepts defined yet."
	}

	var b strings.Builder
	b.WriteString("## Clinical Concept Definitions\n\n")
	for _, c := range lib.All() {
		b.WriteString(fmt.Sprintf("**%s**: %s\n", c.Name, c.Description))
		if c.Condition != "" {
			b.WriteString(fmt.Sprintf("  - SQL condition: `%s`\n", c.Condition))
		}
		if len(c.Tests) > 0 {
			b.WriteString(fmt.Sprintf("  - Tests: %s\n", strings.Join(c.Tests, ", ")))
		}
		if len(c.ICD10Codes) > 0 {
			b.WriteString(fmt.Sprintf("  - ICD-10: %s\n", strings.Join(c.ICD10Codes, ", ")))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildSystemPrompt assembles the full SQL-generation system prompt:
// safety rules, Postgres quoting conventions, schema/concept context,
// universal join keys, the required JSON output shape, and the
// current date in hospital-local time.
func BuildSystemPrompt(schemaContext, conceptsContext string, now time.Time) string {
	currentDate := now.Format("2006-01-02")
	currentYear := now.Year()
	lastYear := currentYear - 1

	return fmt.Sprintf(`You are a SQL expert for the KCMH Hospital Information System (HIS).
Your task is to convert natural language questions into safe, read-only SQL queries.

## CRITICAL SAFETY RULES (MUST FOLLOW)

1. **SELECT ONLY**: Generate ONLY SELECT statements. Never INSERT, UPDATE, DELETE, DROP, etc.
2. **NO PHI IN OUTPUT**: NEVER include patient identifiers in SELECT output:
   - Forbidden columns: hn, cid, fname, lname, name, phone, address, dob, passport, mrn, email
   - Use these columns ONLY for JOINs/WHERE clauses, NEVER in SELECT list
3. **AGGREGATE BY DEFAULT**: Prefer COUNT, SUM, AVG over line-level results
4. **EXPLICIT COLUMNS**: Never use SELECT * - always list specific columns
5. **REQUIRE LIMIT**: Non-aggregate queries MUST have LIMIT (max 2000)
6. **DATE FILTERS**: Always include date filters for large tables

## POSTGRESQL SYNTAX RULES (CRITICAL)

All tables are in the "KCMH_HIS" schema. You MUST:
1. **ALWAYS use double quotes** for all identifiers (schema, table, column names)
2. **ALWAYS prefix tables** with the schema "KCMH_HIS"
3. **Format**: "KCMH_HIS"."TABLE_NAME"."column_name"

Examples:
- Table reference: "KCMH_HIS"."OVST"
- Column reference: "KCMH_HIS"."OVST"."vn"
- Join example: "KCMH_HIS"."OVST" JOIN "KCMH_HIS"."PTDIAG" ON "KCMH_HIS"."OVST"."vn" = "KCMH_HIS"."PTDIAG"."vn"

WRONG: SELECT vn FROM OVST
CORRECT: SELECT "vn" FROM "KCMH_HIS"."OVST"

## CRITICAL: USE ONLY LISTED TABLES AND COLUMNS

**YOU MUST ONLY USE TABLES AND COLUMNS EXPLICITLY LISTED BELOW.**
Do NOT invent or guess table/column names. If you're unsure whether a table or column exists, ask for clarification.

Common mistakes to avoid:
- Do NOT use "regdate" - use "rgtdate" for registration date
- Do NOT use "OVSTDIAG" - diagnoses are in "PTDIAG" or "IPTSUMDIAG"
- Do NOT assume columns exist - only use what's listed

%s

## CLINICAL CONCEPTS

%s

## UNIVERSAL KEYS

- hn (Hospital Number): Patient identifier - use for JOINs, NEVER in output
- an (Admission Number): Inpatient admission - links IPT family tables
- vn (Visit Number): Outpatient visit - links OVST family tables

## OUTPUT FORMAT

Respond with a JSON object:
`+"```json"+`
{
  "needs_clarification": false,
  "clarification_question": null,
  "clarified_question": "Restated question with resolved ambiguity",
  "assumptions": ["assumption 1", "assumption 2"],
  "concepts_used": ["concept_name"],
  "sql": "SELECT ... FROM ... WHERE ...",
  "validation_checks": ["check denominator > 0", "check percent 0-100"],
  "answer_plan": "How to format the answer",
  "confidence": "high|medium|low"
}
`+"```"+`

If the question is ambiguous OR you're unsure about table/column names, set needs_clarification=true.

## TIMEZONE AND DATES
- Current date (Asia/Bangkok): %s
- Current year: %d
- "Last year" = %d (the previous calendar year)
- "This year" = %d
- Always use the actual year numbers above, NOT hardcoded values like 2024.
`, schemaContext, conceptsContext, currentDate, currentYear, lastYear, currentYear)
}

func buildAnswerPrompt(question string, result executor.Result, assumptions, conceptsUsed []string) string {
	rows := result.Rows
	if len(rows) > 20 {
		rows = rows[:20]
	}

	return fmt.Sprintf(`Given this question: %s

And this SQL result:
Columns: %v
Rows: %v  # First 20 rows
Total rows: %d
Truncated: %v

Assumptions made: %v
Concepts used: %v

Provide a clear, concise answer in the user's language (Thai if question is Thai, otherwise English).
Include:
1. Direct answer with numbers
2. Timeframe and definitions used
3. Any important caveats

Keep it brief and professional.`, question, result.Columns, rows, result.RowCount, result.Truncated, assumptions, conceptsUsed)
}
