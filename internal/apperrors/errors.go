// Package apperrors defines the typed error taxonomy shared across the
// copilot core: the SQL guard's eight rejection kinds, plus the two
// broad categories (agent-facing vs server-facing) used everywhere else.
package apperrors

import "fmt"

// Category classifies an error by who is responsible for it: the
// untrusted SQL producer (agent) or the service itself (server).
type Category string

const (
	CategoryAgent  Category = "AGENT_ERROR"
	CategoryServer Category = "SERVER_ERROR"
)

// AppError is the interface all typed errors in this module satisfy.
type AppError interface {
	error
	Category() Category
	Unwrap() error
}

// AgentError wraps a failure caused by the LLM's output (bad plan,
// unsafe SQL) rather than by the service itself.
type AgentError struct {
	Msg   string
	Cause error
}

var _ AppError = (*AgentError)(nil)

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *AgentError) Category() Category { return CategoryAgent }
func (e *AgentError) Unwrap() error      { return e.Cause }

func NewAgentError(msg string, cause error) *AgentError {
	return &AgentError{Msg: msg, Cause: cause}
}

// ServerError wraps a failure originating in our own infrastructure
// (database, configuration, transport).
type ServerError struct {
	Msg   string
	Code  int
	Cause error
}

var _ AppError = (*ServerError)(nil)

func (e *ServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *ServerError) Category() Category { return CategoryServer }
func (e *ServerError) Unwrap() error      { return e.Cause }

func NewServerError(msg string, code int, cause error) *ServerError {
	return &ServerError{Msg: msg, Code: code, Cause: cause}
}

// GuardErrorKind enumerates the eight rejection kinds the SQL guard can
// surface. Every guard error carries exactly one of these.
type GuardErrorKind string

const (
	KindForbiddenKeyword   GuardErrorKind = "ForbiddenKeywordError"
	KindForbiddenStatement GuardErrorKind = "ForbiddenStatementError"
	KindSQLParse           GuardErrorKind = "SQLParseError"
	KindSelectStar         GuardErrorKind = "SelectStarError"
	KindPHIExposure        GuardErrorKind = "PHIExposureError"
	KindUnknownTable       GuardErrorKind = "UnknownTableError"
	KindUnknownColumn      GuardErrorKind = "UnknownColumnError"
	KindMissingLimit       GuardErrorKind = "MissingLimitError"
)

// GuardError is the common supertype spec.md §4.3 requires for all
// eight error kinds.
type GuardError struct {
	GuardKind GuardErrorKind
	Msg       string
	Cause     error
}

var _ AppError = (*GuardError)(nil)

func (e *GuardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.GuardKind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.GuardKind, e.Msg)
}

func (e *GuardError) Category() Category   { return CategoryAgent }
func (e *GuardError) Unwrap() error        { return e.Cause }
func (e *GuardError) Kind() GuardErrorKind { return e.GuardKind }

func NewGuardError(kind GuardErrorKind, msg string, cause error) *GuardError {
	return &GuardError{GuardKind: kind, Msg: msg, Cause: cause}
}
