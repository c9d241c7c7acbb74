// Package ledger computes per-month totals from the entity store and rolls
// one month's leftover balance into the next month's opening balance.
package ledger

import (
	"errors"
	"fmt"

	"orcamento/internal/core"
	"orcamento/internal/store"
)

// Aggregator derives MonthTotals and maintains the rollover chain. Totals are
// always recomputed from child despesa and compra records; the month record
// only caches the last computed values.
type Aggregator struct {
	store *store.Store
}

// New creates an aggregator over the given store.
func New(s *store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// EnsureMonth lazily materializes a month the first time it is addressed.
// A new month's saldoInicial defaults to the previous month's sobra when that
// month has been materialized; otherwise it starts at zero. The previous
// month's totals are recomputed first so the rollover picks up a fresh sobra.
func (a *Aggregator) EnsureMonth(workspaceID string, id core.MonthID) (core.Month, error) {
	if err := id.Validate(); err != nil {
		return core.Month{}, err
	}
	if m, err := a.store.GetMonth(workspaceID, id); err == nil {
		return m, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Month{}, err
	}

	m := core.Month{ID: id, WorkspaceID: workspaceID}
	if _, err := a.store.GetMonth(workspaceID, id.Prev()); err == nil {
		prev, err := a.Recompute(workspaceID, id.Prev())
		if err != nil {
			return core.Month{}, fmt.Errorf("recompute prior month %s: %w", id.Prev(), err)
		}
		m.SaldoInicial = prev.Sobra
	}
	m.Sobra = m.SaldoInicial // no children yet
	if err := a.store.PutMonth(m); err != nil {
		return core.Month{}, err
	}
	return m, nil
}

// Recompute derives the month's totals from its despesas and from the active
// installments of every compra in the workspace, writes the cached values
// back on the month record and propagates the new sobra into untouched
// future months.
func (a *Aggregator) Recompute(workspaceID string, id core.MonthID) (core.MonthTotals, error) {
	totals, err := a.recomputeOne(workspaceID, id)
	if err != nil {
		return core.MonthTotals{}, err
	}
	if err := a.propagateForward(workspaceID, id, totals.Sobra); err != nil {
		return core.MonthTotals{}, err
	}
	return totals, nil
}

func (a *Aggregator) recomputeOne(workspaceID string, id core.MonthID) (core.MonthTotals, error) {
	m, err := a.store.GetMonth(workspaceID, id)
	if err != nil {
		return core.MonthTotals{}, err
	}

	despesas, err := a.store.DespesasByMonth(workspaceID, id)
	if err != nil {
		return core.MonthTotals{}, err
	}
	var totalDespesas, paid core.Money
	for _, d := range despesas {
		totalDespesas = totalDespesas.Add(d.ValorPlanejado)
		if d.Pago {
			paid = paid.Add(d.ValorPlanejado)
		}
	}

	compras, err := a.store.Compras(workspaceID)
	if err != nil {
		return core.MonthTotals{}, err
	}
	var totalCartoes core.Money
	for _, c := range compras {
		inst, err := core.ActiveInstallment(c, id)
		if err != nil {
			return core.MonthTotals{}, fmt.Errorf("compra %s: %w", c.ID, err)
		}
		if inst.Active {
			totalCartoes = totalCartoes.Add(inst.Amount)
		}
	}

	sobra := m.SaldoInicial.Sub(totalDespesas).Sub(totalCartoes)

	m.TotalDespesas = totalDespesas
	m.TotalCartoes = totalCartoes
	m.Sobra = sobra
	if err := a.store.PutMonth(m); err != nil {
		return core.MonthTotals{}, err
	}

	return core.MonthTotals{
		MonthID:            id,
		SaldoInicial:       m.SaldoInicial,
		TotalDespesas:      totalDespesas,
		TotalCartoes:       totalCartoes,
		Sobra:              sobra,
		PaidSoFar:          paid,
		SpendingPercentage: core.ComputeSpendingPercentage(m.SaldoInicial, totalDespesas, totalCartoes),
	}, nil
}

// propagateForward rewrites the opening balance of consecutive future months
// that were derived and never touched. The chain stops at the first month
// with an explicit saldo override or any manual balance interaction: once a
// user has opened a month, historical edits no longer cascade into it.
func (a *Aggregator) propagateForward(workspaceID string, id core.MonthID, sobra core.Money) error {
	for next := id.Next(); ; next = next.Next() {
		m, err := a.store.GetMonth(workspaceID, next)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.SaldoOverride || m.Opened {
			return nil
		}
		m.SaldoInicial = sobra
		if err := a.store.PutMonth(m); err != nil {
			return err
		}
		totals, err := a.recomputeOne(workspaceID, next)
		if err != nil {
			return err
		}
		sobra = totals.Sobra
	}
}

// SetSaldoInicial records an explicit opening balance for the month. The
// override pins the month: rollover will never rewrite it again.
func (a *Aggregator) SetSaldoInicial(workspaceID string, id core.MonthID, saldo core.Money) (core.MonthTotals, error) {
	m, err := a.EnsureMonth(workspaceID, id)
	if err != nil {
		return core.MonthTotals{}, err
	}
	m.SaldoInicial = saldo
	m.SaldoOverride = true
	m.Opened = true
	if err := a.store.PutMonth(m); err != nil {
		return core.MonthTotals{}, err
	}
	return a.Recompute(workspaceID, id)
}

// Totals returns the month's aggregated view, materializing it if needed.
func (a *Aggregator) Totals(workspaceID string, id core.MonthID) (core.MonthTotals, error) {
	if _, err := a.EnsureMonth(workspaceID, id); err != nil {
		return core.MonthTotals{}, err
	}
	return a.Recompute(workspaceID, id)
}
