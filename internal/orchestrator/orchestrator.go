// Package orchestrator drives one chat turn end to end: generate SQL,
// validate it against the guard, retry once on rejection with
// kind-specific context, execute, sanity-check, and format an answer.
// It never parses SQL out of free text and never retries execution —
// only the generate/validate step gets a single extra attempt.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kcmh-his/sql-copilot/internal/apperrors"
	"github.com/kcmh-his/sql-copilot/internal/catalog"
	"github.com/kcmh-his/sql-copilot/internal/concepts"
	"github.com/kcmh-his/sql-copilot/internal/executor"
	"github.com/kcmh-his/sql-copilot/internal/llm"
	"github.com/kcmh-his/sql-copilot/internal/log"
	"github.com/kcmh-his/sql-copilot/internal/sanity"
	"github.com/kcmh-his/sql-copilot/internal/session"
	"github.com/kcmh-his/sql-copilot/internal/sqlguard"
)

// historyWindow caps how many prior turns ride along with each
// generation call, matching the LLM context window spec.md fixes at 6.
const historyWindow = 6

// Orchestrator is the single per-request state machine described by
// spec.md §4.4. One instance is shared across all requests; all of its
// dependencies are themselves safe for concurrent use.
type Orchestrator struct {
	sessions *session.Manager
	llmClt   *llm.Client
	exec     *executor.Executor
	cat      *catalog.Handle
	concepts *concepts.Library
	logger   log.Logger

	timeoutMS int
	maxRows   int
}

// New wires an Orchestrator. timeoutMS and maxRows come from
// config.Settings (SQLStatementTimeoutMS / SQLMaxRows).
func New(
	sessions *session.Manager,
	llmClt *llm.Client,
	exec *executor.Executor,
	cat *catalog.Handle,
	conceptsLib *concepts.Library,
	logger log.Logger,
	timeoutMS, maxRows int,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		llmClt:    llmClt,
		exec:      exec,
		cat:       cat,
		concepts:  conceptsLib,
		logger:    logger,
		timeoutMS: timeoutMS,
		maxRows:   maxRows,
	}
}

// HandleMessage is the entry point: look up or create the session,
// record the question, run the pipeline, and record the answer. Any
// unexpected failure anywhere in the pipeline — including a panic
// bubbling up from a dependency — becomes a generic apologetic
// response rather than propagating, mirroring the blanket
// except-Exception wrapper the original orchestrator used here.
func (o *Orchestrator) HandleMessage(ctx context.Context, req ChatRequest) (resp ChatResponse) {
	sess := o.sessions.GetOrCreate(req.SessionID)
	o.sessions.AddMessage(sess.ID, "user", req.Message, nil)

	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "panic while processing question", "session_id", sess.ID, "recovered", r)
			resp = ChatResponse{
				SessionID: sess.ID,
				Answer:    "I encountered an error processing your question. Please try rephrasing it.",
				Error:     fmt.Sprintf("%v", r),
			}
		}
		var sqlMeta any
		if resp.SQL != "" {
			sqlMeta = resp.SQL
		}
		o.sessions.AddMessage(sess.ID, "assistant", resp.Answer, map[string]any{"sql": sqlMeta})
	}()

	history := o.sessions.ConversationHistory(sess.ID, historyWindow)

	r, err := o.processQuestion(ctx, req.Message, sess.ID, history)
	if err != nil {
		o.logger.ErrorContext(ctx, "error processing question", "session_id", sess.ID, "error", err)
		return ChatResponse{
			SessionID: sess.ID,
			Answer:    "I encountered an error processing your question. Please try rephrasing it.",
			Error:     err.Error(),
		}
	}
	r.SessionID = sess.ID
	return r
}

func (o *Orchestrator) processQuestion(ctx context.Context, question, sessionID string, history []session.Message) (ChatResponse, error) {
	cat := o.cat.Get()
	schemaCtx := llm.BuildSchemaContext(cat)
	conceptsCtx := llm.BuildConceptsContext(o.concepts)

	// Step 1: generate SQL.
	genResp, err := o.llmClt.GenerateSQL(ctx, question, schemaCtx, conceptsCtx, toLLMHistory(history))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("generating SQL: %w", err)
	}

	// Step 2: clarification short-circuits the whole pipeline.
	if genResp.NeedsClarification {
		q := genResp.ClarificationQuestion
		if q == "" {
			q = "Could you please clarify your question?"
		}
		return ChatResponse{
			Answer:                q,
			NeedsClarification:    true,
			ClarificationQuestion: genResp.ClarificationQuestion,
			Assumptions:           genResp.Assumptions,
			Confidence:            genResp.Confidence,
		}, nil
	}

	sql := genResp.SQL
	if sql == "" {
		return ChatResponse{
			Answer:     "I couldn't generate a SQL query for your question. Could you rephrase it?",
			Error:      "No SQL generated",
			Confidence: "low",
		}, nil
	}

	// Step 3: validate, strict catalog checking on.
	opts := sqlguard.Options{MaxRows: o.maxRows, StrictCatalogCheck: true, ValidateJoins: true}
	validation := sqlguard.ValidateSQL(sql, cat, opts)

	// Step 4: one retry on rejection, with context shaped by the kind
	// of failure (spec.md §7).
	if !validation.Valid {
		o.logger.WarnContext(ctx, "SQL validation failed", "kind", validation.ErrorKind, "error", validation.Error)

		retryResp, ok := o.retryWithError(ctx, question, sql, validation, history, cat, schemaCtx, conceptsCtx)
		if ok {
			retryValidation := sqlguard.ValidateSQL(retryResp.SQL, cat, opts)
			if retryValidation.Valid {
				sql = retryResp.SQL
				genResp = retryResp
				validation = retryValidation
			} else {
				return ChatResponse{
					Answer:      fmt.Sprintf("I couldn't generate a safe SQL query. Error: %s", validation.Error),
					SQL:         sql,
					Error:       validation.Error,
					Assumptions: genResp.Assumptions,
					Confidence:  "low",
				}, nil
			}
		} else {
			return ChatResponse{
				Answer:      fmt.Sprintf("I couldn't generate a safe SQL query. Error: %s", validation.Error),
				SQL:         sql,
				Error:       validation.Error,
				Assumptions: genResp.Assumptions,
				Confidence:  "low",
			}, nil
		}
	}

	// Step 5: execute. Never retried — an execute failure is reported
	// as-is.
	result, err := o.exec.Execute(ctx, sql, nil, executor.Options{TimeoutMS: o.timeoutMS, MaxRows: o.maxRows})
	if err != nil {
		o.logger.ErrorContext(ctx, "query execution failed", "error", err)
		return ChatResponse{
			Answer:       fmt.Sprintf("I couldn't execute the query. Error: %s", err),
			SQL:          sql,
			Error:        err.Error(),
			Assumptions:  genResp.Assumptions,
			ConceptsUsed: genResp.ConceptsUsed,
			Confidence:   "low",
		}, nil
	}

	// Step 6: sanity checks.
	sanityResults := sanity.RunAll(result, genResp.ValidationChecks)
	var failedChecks []sanity.Result
	for _, c := range sanityResults {
		if !c.Passed {
			failedChecks = append(failedChecks, c)
		}
	}
	if len(failedChecks) > 0 {
		msgs := make([]string, len(failedChecks))
		for i, c := range failedChecks {
			msgs[i] = c.Message
		}
		o.logger.WarnContext(ctx, "sanity checks failed", "messages", strings.Join(msgs, "; "))
	}

	// Step 7: format the answer.
	answer, err := o.formatAnswer(ctx, question, sql, result, genResp.Assumptions, genResp.ConceptsUsed, failedChecks)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("formatting answer: %w", err)
	}

	return ChatResponse{
		Answer:       answer,
		SQL:          sql,
		Assumptions:  genResp.Assumptions,
		ConceptsUsed: genResp.ConceptsUsed,
		Confidence:   genResp.Confidence,
		SanityChecks: sanityResults,
		QueryResult: &QueryResult{
			Columns:         result.Columns,
			Rows:            result.Rows,
			RowCount:        result.RowCount,
			Truncated:       result.Truncated,
			ExecutionTimeMS: result.ExecutionTimeMS,
		},
	}, nil
}

// retryWithError asks the model to regenerate, with the conversation
// history augmented by the failed SQL, its error, and guidance shaped
// by which guard layer rejected it. ok is false only if the retry call
// itself failed (a transport error) — a second rejection is reported
// back to processQuestion as a normal GenerationResponse so it can
// re-validate.
func (o *Orchestrator) retryWithError(
	ctx context.Context,
	question, failedSQL string,
	validation sqlguard.ValidationResult,
	history []session.Message,
	cat *catalog.SchemaCatalog,
	schemaCtx, conceptsCtx string,
) (llm.GenerationResponse, bool) {
	retryContext := buildRetryContext(validation, failedSQL, cat)

	augmented := toLLMHistory(history)
	augmented = append(augmented,
		llm.Message{
			Role: "assistant",
			Content: fmt.Sprintf(
				"I generated this SQL but it failed validation:\n```sql\n%s\n```\nError: %s%s",
				failedSQL, validation.Error, retryContext,
			),
		},
		llm.Message{
			Role: "user",
			Content: fmt.Sprintf(
				"Please fix the SQL using ONLY the tables and columns listed above. Remember: no PHI columns in SELECT, no SELECT *, and non-aggregate queries need LIMIT. Original question: %s",
				question,
			),
		},
	)

	genResp, err := o.llmClt.GenerateSQL(ctx, question, schemaCtx, conceptsCtx, augmented)
	if err != nil {
		o.logger.ErrorContext(ctx, "retry generation failed", "error", err)
		return llm.GenerationResponse{}, false
	}
	return genResp, true
}

// buildRetryContext builds the extra guidance appended to the retry
// prompt. Every kind gets at least the available table list; unknown
// table/column failures additionally get the verified column lists for
// tables the failed SQL actually mentioned, and missing-LIMIT failures
// get the rule restated, per spec.md §7's per-kind retry policy.
func buildRetryContext(validation sqlguard.ValidationResult, failedSQL string, cat *catalog.SchemaCatalog) string {
	if cat == nil {
		return ""
	}

	tableNames := make([]string, 0, len(cat.Tables()))
	for name := range cat.Tables() {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	var b strings.Builder
	fmt.Fprintf(&b, "\n\nAvailable tables: %s", strings.Join(tableNames, ", "))

	switch validation.ErrorKind {
	case apperrors.KindUnknownTable:
		b.WriteString("\n\nPlease use ONLY these exact table names.")
		fallthrough

	case apperrors.KindUnknownColumn:
		lowerSQL := strings.ToLower(failedSQL)
		for _, name := range tableNames {
			if !strings.Contains(lowerSQL, strings.ToLower(name)) {
				continue
			}
			table, ok := cat.GetTable(name)
			if !ok || len(table.Columns) == 0 {
				continue
			}
			cols := make([]string, 0, len(table.Columns))
			for colName := range table.Columns {
				cols = append(cols, colName)
			}
			sort.Strings(cols)
			fmt.Fprintf(&b, "\n\nVerified columns in %s: %s", name, strings.Join(cols, ", "))
		}

	case apperrors.KindSQLParse:
		fmt.Fprintf(&b, "\n\nThe previous SQL did not parse: %s. Produce syntactically valid Postgres SQL.", validation.Error)

	case apperrors.KindSelectStar, apperrors.KindPHIExposure:
		fmt.Fprintf(&b, "\n\nReason for rejection: %s. Name explicit, non-PHI columns in the SELECT list.", validation.Error)

	case apperrors.KindMissingLimit:
		fmt.Fprintf(&b, "\n\nNon-aggregate queries must include a LIMIT of at most the configured row cap. %s", validation.Error)
	}

	return b.String()
}

// formatAnswer turns an executed result into clinician-facing text and
// appends sanity-check and truncation warnings.
func (o *Orchestrator) formatAnswer(
	ctx context.Context,
	question, sql string,
	result executor.Result,
	assumptions, conceptsUsed []string,
	failedChecks []sanity.Result,
) (string, error) {
	answer, err := o.llmClt.FormatAnswer(ctx, question, sql, result, assumptions, conceptsUsed)
	if err != nil {
		return "", err
	}

	if len(failedChecks) > 0 {
		var b strings.Builder
		b.WriteString("\n\n⚠️ **Note**: Some data validation checks raised concerns:\n")
		for _, c := range failedChecks {
			fmt.Fprintf(&b, "- %s\n", c.Message)
		}
		answer += b.String()
	}

	if result.Truncated {
		answer += fmt.Sprintf("\n\n*Note: Results were limited to %d rows.*", result.RowCount)
	}

	return answer, nil
}

func toLLMHistory(history []session.Message) []llm.Message {
	out := make([]llm.Message, len(history))
	for i, m := range history {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
