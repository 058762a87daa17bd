package executor

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kcmh-his/sql-copilot/internal/apperrors"
)

func TestSQLStateClass(t *testing.T) {
	cases := map[SQLState]SQLClass{
		"42703": ClassSyntaxErrorOrAccessRule,
		"57014": ClassOperatorIntervention,
		"08006": ClassConnectionException,
		"23505": ClassIntegrityConstraintViolation,
	}
	for code, want := range cases {
		if got := code.Class(); got != want {
			t.Errorf("%s.Class() = %q, want %q", code, got, want)
		}
	}
}

func TestClassifyUnknownColumnIsAgentError(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "42703", Message: "column \"ghost\" does not exist"}, "unable to execute query")
	var agentErr *apperrors.AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("expected *apperrors.AgentError for a syntax/access-rule SQLSTATE, got %T", err)
	}
}

func TestClassifyQueryCanceledIsServerError(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}, "unable to execute query")
	var serverErr *apperrors.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *apperrors.ServerError for a statement timeout, got %T", err)
	}
}

func TestClassifyConnectionFailureIsServerError(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "08006", Message: "connection failure"}, "unable to execute query")
	var serverErr *apperrors.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *apperrors.ServerError for a connection exception, got %T", err)
	}
}

func TestClassifyNonPgErrorIsServerError(t *testing.T) {
	err := classify(errors.New("dial tcp: connection refused"), "unable to acquire connection")
	var serverErr *apperrors.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *apperrors.ServerError for a non-pgconn error, got %T", err)
	}
}

func TestElapsedMSRounding(t *testing.T) {
	if got := elapsedMS(1234567 * time.Nanosecond); got != 1.23 {
		t.Errorf("elapsedMS = %v, want 1.23", got)
	}
}
