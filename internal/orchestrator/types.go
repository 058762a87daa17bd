package orchestrator

import (
	"github.com/kcmh-his/sql-copilot/internal/sanity"
)

// ChatRequest is one turn from a caller: a question, optionally tied to
// an existing session.
type ChatRequest struct {
	Message   string
	SessionID string
}

// QueryResult is the shape of an executed query handed back to the
// caller — columns, positional rows, and the truncation/timing
// metadata the executor reports.
type QueryResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"row_count"`
	Truncated       bool     `json:"truncated"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
}

// ChatResponse is the full result of one chat turn. internal/rolefilter
// strips SQL/QueryResult/SanityChecks from this before it reaches a
// non-privileged caller.
type ChatResponse struct {
	SessionID              string                `json:"session_id"`
	Answer                 string                `json:"answer"`
	SQL                    string                `json:"sql,omitempty"`
	Assumptions            []string              `json:"assumptions"`
	ConceptsUsed           []string              `json:"concepts_used"`
	Confidence             string                `json:"confidence"`
	SanityChecks           []sanity.Result       `json:"sanity_checks"`
	QueryResult            *QueryResult          `json:"query_result,omitempty"`
	Error                  string                `json:"error,omitempty"`
	NeedsClarification     bool                  `json:"needs_clarification"`
	ClarificationQuestion  string                `json:"clarification_question,omitempty"`
}
