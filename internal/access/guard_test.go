package access

import (
	"errors"
	"testing"

	"orcamento/internal/core"
)

func testWorkspace() core.Workspace {
	return core.Workspace{
		ID:      "ws1",
		Name:    "Casa",
		OwnerID: "alice",
		Members: []core.Member{
			{UserID: "alice", Role: core.RoleOwner},
			{UserID: "bob", Role: core.RoleEditor},
			{UserID: "carol", Role: core.RoleViewer},
		},
	}
}

func TestAuthorize(t *testing.T) {
	ws := testWorkspace()

	cases := []struct {
		actor  string
		action Action
		ok     bool
	}{
		{"alice", ActionDeleteWorkspace, true},
		{"alice", ActionEditDespesa, true},
		{"bob", ActionEditDespesa, true},
		{"bob", ActionSetSaldo, true},
		{"bob", ActionManageMembers, false},
		{"bob", ActionDeleteWorkspace, false},
		{"bob", ActionRenameWorkspace, false},
		{"carol", ActionRead, true},
		{"carol", ActionEditDespesa, false},
		{"carol", ActionEditCompra, false},
		{"mallory", ActionRead, false},
		{"mallory", ActionEditDespesa, false},
	}
	for _, tc := range cases {
		err := Authorize(tc.actor, ws, tc.action)
		if tc.ok && err != nil {
			t.Errorf("%s %s: unexpected denial: %v", tc.actor, tc.action, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s %s: expected denial", tc.actor, tc.action)
		}
	}
}

func TestDeniedErrorCarriesRequiredRole(t *testing.T) {
	ws := testWorkspace()

	err := Authorize("carol", ws, ActionEditDespesa)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.RequiredRole != core.RoleEditor {
		t.Errorf("required role = %s, want editor", denied.RequiredRole)
	}

	err = Authorize("bob", ws, ActionManageMembers)
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.RequiredRole != core.RoleOwner {
		t.Errorf("required role = %s, want owner", denied.RequiredRole)
	}
}
