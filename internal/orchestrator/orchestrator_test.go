package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kcmh-his/sql-copilot/internal/apperrors"
	"github.com/kcmh-his/sql-copilot/internal/catalog"
	"github.com/kcmh-his/sql-copilot/internal/concepts"
	"github.com/kcmh-his/sql-copilot/internal/llm"
	"github.com/kcmh-his/sql-copilot/internal/log"
	"github.com/kcmh-his/sql-copilot/internal/session"
	"github.com/kcmh-his/sql-copilot/internal/sqlguard"
)

func testCatalog() *catalog.SchemaCatalog {
	tables := map[string]catalog.Table{
		"PATIENT": {
			Name: "PATIENT", ColumnCount: 2,
			Columns: map[string]catalog.Column{
				"hn":  {Name: "hn", IsPHI: true},
				"age": {Name: "age"},
			},
		},
		"VISIT": {
			Name: "VISIT", ColumnCount: 1,
			Columns: map[string]catalog.Column{
				"vn": {Name: "vn"},
			},
		},
	}
	return catalog.New(tables, nil, nil)
}

func TestBuildRetryContextUnknownTable(t *testing.T) {
	cat := testCatalog()
	validation := sqlguard.ValidationResult{ErrorKind: apperrors.KindUnknownTable, Error: "Unknown table(s): FOO"}

	ctx := buildRetryContext(validation, "SELECT age FROM FOO", cat)

	if !strings.Contains(ctx, "Available tables: PATIENT, VISIT") {
		t.Errorf("expected sorted table list, got: %s", ctx)
	}
	if !strings.Contains(ctx, "use ONLY these exact table names") {
		t.Errorf("expected unknown-table guidance, got: %s", ctx)
	}
}

func TestBuildRetryContextUnknownColumnListsVerifiedColumns(t *testing.T) {
	cat := testCatalog()
	validation := sqlguard.ValidationResult{ErrorKind: apperrors.KindUnknownColumn, Error: "Unknown column(s): PATIENT.nickname"}

	ctx := buildRetryContext(validation, "SELECT nickname FROM patient", cat)

	if !strings.Contains(ctx, "Verified columns in PATIENT: age, hn") {
		t.Errorf("expected verified column list for the mentioned table, got: %s", ctx)
	}
	if strings.Contains(ctx, "Verified columns in VISIT") {
		t.Errorf("did not expect columns for a table absent from the failed SQL, got: %s", ctx)
	}
}

func TestBuildRetryContextMissingLimitRestatesRule(t *testing.T) {
	cat := testCatalog()
	validation := sqlguard.ValidationResult{ErrorKind: apperrors.KindMissingLimit, Error: "Non-aggregate queries must include LIMIT (max 2000 rows)"}

	ctx := buildRetryContext(validation, "SELECT age FROM PATIENT", cat)

	if !strings.Contains(ctx, "must include a LIMIT") {
		t.Errorf("expected the LIMIT rule restated, got: %s", ctx)
	}
}

func TestBuildRetryContextNilCatalogReturnsEmpty(t *testing.T) {
	validation := sqlguard.ValidationResult{ErrorKind: apperrors.KindSQLParse, Error: "boom"}
	if ctx := buildRetryContext(validation, "SELECT", nil); ctx != "" {
		t.Errorf("expected no context without a catalog, got: %s", ctx)
	}
}

func TestToLLMHistoryPreservesRoleAndContent(t *testing.T) {
	history := []session.Message{
		{Role: "user", Content: "how many patients?"},
		{Role: "assistant", Content: "42"},
	}
	out := toLLMHistory(history)
	if len(out) != 2 || out[0].Role != "user" || out[1].Content != "42" {
		t.Fatalf("unexpected translation: %+v", out)
	}
}

// fakeAnthropicServer answers every request with a canned Messages API
// response containing a single text block.
func fakeAnthropicServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"id":    "msg_test",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-test",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 1, "output_tokens": 1},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func discardLogger(t *testing.T) log.Logger {
	t.Helper()
	l, err := log.NewStdLogger(io.Discard, io.Discard, "INFO")
	if err != nil {
		t.Fatalf("building test logger: %v", err)
	}
	return l
}

func TestHandleMessageClarificationShortCircuit(t *testing.T) {
	srv := fakeAnthropicServer(t, `{"needs_clarification": true, "clarification_question": "Which department?"}`)
	defer srv.Close()

	clt := llm.NewClient("test-key", "claude-test", option.WithBaseURL(srv.URL))
	cat := catalog.NewHandle(testCatalog())
	lib, _ := concepts.Load("/nonexistent/concepts.yaml")
	sessions := session.NewManager(time.Hour)

	orch := New(sessions, clt, nil, cat, lib, discardLogger(t), 15000, 2000)

	resp := orch.HandleMessage(context.Background(), ChatRequest{Message: "how many patients are there by department?"})

	if !resp.NeedsClarification {
		t.Fatalf("expected a clarification response, got: %+v", resp)
	}
	if resp.ClarificationQuestion != "Which department?" {
		t.Errorf("unexpected clarification question: %q", resp.ClarificationQuestion)
	}
	if resp.SessionID == "" {
		t.Error("expected a session ID to be assigned")
	}
}
