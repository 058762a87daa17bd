// Package executor runs guarded, read-only SQL against the hospital
// information system over a pooled pgx connection: per-query statement
// timeout, row-limit enforcement via an over-fetch-by-one probe, and
// SQLSTATE-based classification of driver errors so callers can tell a
// caller mistake from a database outage.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kcmh-his/sql-copilot/internal/apperrors"
)

// Result is the outcome of a single guarded query execution.
type Result struct {
	Columns         []string
	Rows            [][]any
	RowCount        int
	Truncated       bool
	ExecutionTimeMS float64
}

// Options bounds a single query execution. Zero values fall back to the
// Executor's configured defaults.
type Options struct {
	TimeoutMS int
	MaxRows   int
}

// Executor owns a pgx pool and applies the same safety limits to every
// query that passes through it.
type Executor struct {
	pool             *pgxpool.Pool
	defaultTimeoutMS int
	defaultMaxRows   int
}

// New builds an Executor around an already-configured pool. The pool's
// lifecycle (Close) remains the caller's responsibility.
func New(pool *pgxpool.Pool, defaultTimeoutMS, defaultMaxRows int) *Executor {
	return &Executor{pool: pool, defaultTimeoutMS: defaultTimeoutMS, defaultMaxRows: defaultMaxRows}
}

// Connect opens a pgx pool for dsn. Callers own the returned pool and
// must Close it (directly, or via Executor.Close).
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperrors.NewServerError("unable to create connection pool", 0, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewServerError("unable to reach database", 0, err)
	}
	return pool, nil
}

// Execute runs sql as a single statement with a server-side statement
// timeout, fetching one row past the configured max to detect
// truncation without ever materializing more than max+1 rows.
//
// Unlike the psycopg original this wraps, pgx never substitutes query
// parameters into the SQL text itself — args travel over the wire as
// separate bind values ($1, $2, ...) regardless of whether any are
// supplied, so a literal '%' in a LIKE pattern can never collide with
// parameter placeholder syntax. The %-escaping step the Python version
// needs before an unparameterized query does not apply here.
func (e *Executor) Execute(ctx context.Context, sql string, args []any, opts Options) (Result, error) {
	timeoutMS := opts.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = e.defaultTimeoutMS
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = e.defaultMaxRows
	}

	start := time.Now()

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return Result{}, apperrors.NewServerError("unable to acquire connection", 0, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutMS)); err != nil {
		return Result{}, classify(err, "unable to set statement timeout")
	}

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return Result{}, classify(err, "unable to execute query")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	var out [][]any
	for rows.Next() {
		if len(out) == maxRows {
			// One more row came back past the limit: truncate and
			// stop without pulling the rest of the result set over
			// the wire.
			if err := rows.Err(); err != nil {
				return Result{}, classify(err, "unable to execute query")
			}
			elapsed := time.Since(start)
			return Result{
				Columns:         columns,
				Rows:            out,
				RowCount:        len(out),
				Truncated:       true,
				ExecutionTimeMS: elapsedMS(elapsed),
			}, nil
		}
		vals, err := rows.Values()
		if err != nil {
			return Result{}, classify(err, "unable to parse row")
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{}, classify(err, "unable to execute query")
	}

	return Result{
		Columns:         columns,
		Rows:            out,
		RowCount:        len(out),
		Truncated:       false,
		ExecutionTimeMS: elapsedMS(time.Since(start)),
	}, nil
}

func elapsedMS(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return float64(int(ms*100+0.5)) / 100
}

// Ping verifies connectivity without running a full query.
func (e *Executor) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Close releases the underlying pool.
func (e *Executor) Close() {
	e.pool.Close()
}

// classify wraps a pgx/driver error as an AppError, distinguishing an
// agent-caused failure (bad SQL the guard let through, e.g. a missing
// column the catalog doesn't know about) from a server-caused one
// (connection loss, timeout, resource exhaustion) using the error's
// SQLSTATE class.
func classify(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isAgentCausedClass(SQLState(pgErr.Code).Class()) {
			return apperrors.NewAgentError(msg, err)
		}
		return apperrors.NewServerError(msg, 0, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewServerError(msg, 0, err)
	}
	return apperrors.NewServerError(msg, 0, err)
}

// isAgentCausedClass reports whether a SQLSTATE class describes a
// malformed-statement or missing-object condition the LLM's generated
// SQL is responsible for, rather than an infrastructure failure.
func isAgentCausedClass(class SQLClass) bool {
	switch class {
	case ClassSyntaxErrorOrAccessRule, ClassDataException, ClassIntegrityConstraintViolation:
		return true
	default:
		return false
	}
}
