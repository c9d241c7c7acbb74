// Package access gates every ledger mutation behind workspace membership
// roles: viewer may only read, editor mutates ledger entities, owner
// additionally manages membership and the workspace lifecycle.
package access

import (
	"fmt"

	"orcamento/internal/core"
)

// Action names a guarded operation.
type Action string

const (
	ActionRead            Action = "read"
	ActionEditDespesa     Action = "edit_despesa"
	ActionEditCartao      Action = "edit_cartao"
	ActionEditCompra      Action = "edit_compra"
	ActionEditTemplate    Action = "edit_template"
	ActionSetSaldo        Action = "set_saldo_inicial"
	ActionApplyTemplates  Action = "apply_templates"
	ActionRenameWorkspace Action = "rename_workspace"
	ActionManageMembers   Action = "manage_members"
	ActionDeleteWorkspace Action = "delete_workspace"
)

// RequiredRole returns the minimum role that may perform the action.
func (a Action) RequiredRole() core.Role {
	switch a {
	case ActionRead:
		return core.RoleViewer
	case ActionRenameWorkspace, ActionManageMembers, ActionDeleteWorkspace:
		return core.RoleOwner
	default:
		return core.RoleEditor
	}
}

// DeniedError tells the caller which role the denied action required, so the
// UI can show a targeted message instead of a generic failure.
type DeniedError struct {
	Action       Action
	RequiredRole core.Role
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s requires role %s", e.Action, e.RequiredRole)
}

// Authorize reports whether the actor may perform the action on the
// workspace. Non-members are denied like viewers attempting a mutation.
func Authorize(actorID string, ws core.Workspace, action Action) error {
	required := action.RequiredRole()
	role, ok := ws.MemberRole(actorID)
	if !ok || !role.Covers(required) {
		return &DeniedError{Action: action, RequiredRole: required}
	}
	return nil
}
