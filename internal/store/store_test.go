package store

import (
	"errors"
	"testing"

	"orcamento/internal/core"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.PutWorkspace(core.Workspace{
		ID:      "ws1",
		Name:    "Casa",
		OwnerID: "alice",
		Members: []core.Member{{UserID: "alice", Role: core.RoleOwner}},
	})
	return s
}

func TestWorkspaceRoundTrip(t *testing.T) {
	s := seed(t)

	ws, err := s.GetWorkspace("ws1")
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	if ws.Name != "Casa" {
		t.Errorf("name = %s", ws.Name)
	}

	if _, err := s.GetWorkspace("ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetWorkspaceReturnsCopy(t *testing.T) {
	s := seed(t)

	ws, _ := s.GetWorkspace("ws1")
	ws.Members[0].Role = core.RoleViewer

	again, _ := s.GetWorkspace("ws1")
	if again.Members[0].Role != core.RoleOwner {
		t.Error("mutating a returned workspace leaked into the store")
	}
}

func TestDespesaLifecycle(t *testing.T) {
	s := seed(t)

	d := core.Despesa{ID: "d1", WorkspaceID: "ws1", MonthID: "2025-01", Nome: "mercado", ValorPlanejado: core.Money{Cents: 45000}}
	if err := s.PutDespesa(d); err != nil {
		t.Fatalf("put despesa: %v", err)
	}

	list, err := s.DespesasByMonth("ws1", "2025-01")
	if err != nil || len(list) != 1 {
		t.Fatalf("despesas by month: %v, len %d", err, len(list))
	}
	empty, _ := s.DespesasByMonth("ws1", "2025-02")
	if len(empty) != 0 {
		t.Errorf("unexpected despesas in 2025-02: %d", len(empty))
	}

	if err := s.DeleteDespesa("ws1", "d1"); err != nil {
		t.Fatalf("delete despesa: %v", err)
	}
	if err := s.DeleteDespesa("ws1", "d1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("double delete: expected ErrNotFound, got %v", err)
	}
}

func TestCompraRequiresCartao(t *testing.T) {
	s := seed(t)

	c := core.Compra{
		ID: "p1", WorkspaceID: "ws1", CartaoID: "card1", Descricao: "tv",
		ValorTotal: core.Money{Cents: 30000}, ParcelaAtual: 1, ParcelasTotal: 3,
		Marcado: true, AnchorMonth: "2025-01",
	}
	if err := s.PutCompra(c); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected missing cartao error, got %v", err)
	}

	if err := s.PutCartao(core.Cartao{ID: "card1", WorkspaceID: "ws1", Nome: "Nubank", ClosingDay: 10}); err != nil {
		t.Fatalf("put cartao: %v", err)
	}
	if err := s.PutCompra(c); err != nil {
		t.Fatalf("put compra: %v", err)
	}
}

func TestDeleteCartaoCascadesCompras(t *testing.T) {
	s := seed(t)
	s.PutCartao(core.Cartao{ID: "card1", WorkspaceID: "ws1", Nome: "Nubank", ClosingDay: 10})
	s.PutCompra(core.Compra{
		ID: "p1", WorkspaceID: "ws1", CartaoID: "card1", Descricao: "tv",
		ValorTotal: core.Money{Cents: 30000}, ParcelaAtual: 1, ParcelasTotal: 3,
		Marcado: true, AnchorMonth: "2025-01",
	})

	removed, err := s.DeleteCartao("ws1", "card1")
	if err != nil {
		t.Fatalf("delete cartao: %v", err)
	}
	if len(removed) != 1 || removed[0] != "p1" {
		t.Errorf("removed = %v, want [p1]", removed)
	}
	if _, err := s.GetCompra("ws1", "p1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("compra should be gone, got %v", err)
	}
}

func TestDeleteWorkspaceCascades(t *testing.T) {
	s := seed(t)
	s.PutMonth(core.Month{ID: "2025-01", WorkspaceID: "ws1"})
	s.PutDespesa(core.Despesa{ID: "d1", WorkspaceID: "ws1", MonthID: "2025-01", Nome: "x", ValorPlanejado: core.Money{Cents: 1}})

	if err := s.DeleteWorkspace("ws1"); err != nil {
		t.Fatalf("delete workspace: %v", err)
	}
	if _, err := s.GetMonth("ws1", "2025-01"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("month should be gone, got %v", err)
	}
	if _, err := s.GetDespesa("ws1", "d1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("despesa should be gone, got %v", err)
	}
}
