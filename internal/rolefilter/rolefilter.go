// Package rolefilter shapes an orchestrator response for the caller's
// role. It runs strictly after generation, execution, and answer
// formatting — it never influences what SQL gets generated or
// executed, only what the HTTP layer is allowed to hand back.
package rolefilter

import (
	"github.com/kcmh-his/sql-copilot/internal/orchestrator"
	"github.com/kcmh-his/sql-copilot/internal/sanity"
)

// Role is a caller's authorization level, as assigned by internal/auth
// from the user roster at login.
type Role string

const (
	RoleSuperUser    Role = "super_user"
	RoleStandardUser Role = "standard_user"
)

// Apply returns resp unchanged for super_user callers. For every other
// role it returns a copy with SQL, QueryResult, and SanityChecks
// stripped — the only three fields spec.md §4.7 designates
// privileged. This strips unconditionally for any non-super_user
// role, not just "standard_user", so an unrecognized or zero-value
// role fails closed rather than open.
func Apply(resp orchestrator.ChatResponse, role Role) orchestrator.ChatResponse {
	if role == RoleSuperUser {
		return resp
	}

	resp.SQL = ""
	resp.QueryResult = nil
	resp.SanityChecks = []sanity.Result{}
	return resp
}
