package executor

// SQLState is the five-character Postgres error code pgconn surfaces on
// PgError.Code (e.g. "42703", "57014").
type SQLState string

// SQLClass is the class portion of a SQLState: its first two
// characters, e.g. "42" for syntax_error_or_access_rule_violation.
//
// See https://www.postgresql.org/docs/current/errcodes-appendix.html.
type SQLClass string

// Class returns the error class for a SQLState.
func (s SQLState) Class() SQLClass {
	if len(s) < 2 {
		return ""
	}
	return SQLClass(s[0:2])
}

// The handful of SQLSTATE classes this package actually branches on.
// Grounded on lib/pq's errorCodeNames table (the class-prefix
// convention is identical; lib/pq is used here only as the reference
// for the code-to-name mapping, not as the driver — pgx is).
const (
	ClassConnectionException          SQLClass = "08"
	ClassDataException                SQLClass = "22"
	ClassIntegrityConstraintViolation SQLClass = "23"
	ClassInvalidAuthorizationSpec     SQLClass = "28"
	ClassSyntaxErrorOrAccessRule      SQLClass = "42"
	ClassInsufficientResources        SQLClass = "53"
	ClassOperatorIntervention         SQLClass = "57"
	ClassSystemError                  SQLClass = "58"
	ClassInternalError                SQLClass = "XX"
)
