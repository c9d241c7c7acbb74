package export

import (
	"testing"

	"orcamento/internal/core"
	"orcamento/internal/store"
)

func TestBuildRows(t *testing.T) {
	st := store.New()
	st.PutWorkspace(core.Workspace{
		ID: "ws-b", Name: "Casa", OwnerID: "ana",
		Members: []core.Member{{UserID: "ana", Role: core.RoleOwner}},
	})
	st.PutWorkspace(core.Workspace{
		ID: "ws-a", Name: "Viagem", OwnerID: "ana",
		Members: []core.Member{{UserID: "ana", Role: core.RoleOwner}},
	})

	if err := st.PutMonth(core.Month{
		ID: "2025-02", WorkspaceID: "ws-b",
		SaldoInicial:  core.Money{Cents: 100000},
		TotalDespesas: core.Money{Cents: 30000},
		TotalCartoes:  core.Money{Cents: 20000},
		Sobra:         core.Money{Cents: 50000},
	}); err != nil {
		t.Fatalf("put month: %v", err)
	}
	if err := st.PutMonth(core.Month{
		ID: "2025-01", WorkspaceID: "ws-b",
		SaldoInicial: core.Money{Cents: 100000},
		Sobra:        core.Money{Cents: 100000},
	}); err != nil {
		t.Fatalf("put month: %v", err)
	}
	if err := st.PutMonth(core.Month{
		ID: "2025-01", WorkspaceID: "ws-a",
		Sobra: core.Money{Cents: -500},
	}); err != nil {
		t.Fatalf("put month: %v", err)
	}

	rows := BuildRows(st)
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[0][0] != "Workspace" {
		t.Errorf("header = %v", rows[0])
	}

	// Ordered by workspace name, then month.
	if rows[1][0] != "Casa" || rows[1][1] != "2025-01" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][0] != "Casa" || rows[2][1] != "2025-02" {
		t.Errorf("row 2 = %v", rows[2])
	}
	if rows[3][0] != "Viagem" {
		t.Errorf("row 3 = %v", rows[3])
	}

	// Amounts render as decimal strings, negatives included.
	if rows[2][3] != "300.00" || rows[2][5] != "500.00" || rows[2][6] != "500.00" {
		t.Errorf("casa february = %v", rows[2])
	}
	if rows[3][6] != "-5.00" {
		t.Errorf("negative sobra = %v", rows[3])
	}
}
