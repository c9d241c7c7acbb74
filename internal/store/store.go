// Package store is the single authoritative in-process owner of all ledger
// entities. It holds plain value copies grouped per workspace; callers get
// and put copies, never shared pointers, so readers cannot observe torn
// state. Logical mutation ordering across multiple calls is the sync
// coordinator's job; the store only guarantees per-call consistency.
package store

import (
	"fmt"
	"sort"
	"sync"

	"orcamento/internal/core"
)

type workspaceState struct {
	ws        core.Workspace
	months    map[core.MonthID]core.Month
	despesas  map[string]core.Despesa
	cartoes   map[string]core.Cartao
	compras   map[string]core.Compra
	templates map[string]core.Template
}

// Store keeps every workspace's entities in memory.
type Store struct {
	mu         sync.RWMutex
	workspaces map[string]*workspaceState
}

// New creates an empty store.
func New() *Store {
	return &Store{workspaces: make(map[string]*workspaceState)}
}

func newWorkspaceState(ws core.Workspace) *workspaceState {
	return &workspaceState{
		ws:        ws,
		months:    make(map[core.MonthID]core.Month),
		despesas:  make(map[string]core.Despesa),
		cartoes:   make(map[string]core.Cartao),
		compras:   make(map[string]core.Compra),
		templates: make(map[string]core.Template),
	}
}

func (s *Store) state(workspaceID string) (*workspaceState, error) {
	st, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, core.ErrNotFound)
	}
	return st, nil
}

// PutWorkspace creates or replaces a workspace record. Child entities of an
// existing workspace are preserved.
func (s *Store) PutWorkspace(ws core.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.workspaces[ws.ID]; ok {
		st.ws = ws
		return
	}
	s.workspaces[ws.ID] = newWorkspaceState(ws)
}

// GetWorkspace returns a copy of the workspace record.
func (s *Store) GetWorkspace(workspaceID string) (core.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return core.Workspace{}, err
	}
	ws := st.ws
	ws.Members = append([]core.Member(nil), st.ws.Members...)
	return ws, nil
}

// DeleteWorkspace removes the workspace and cascades over every owned month,
// despesa, cartao, compra and template.
func (s *Store) DeleteWorkspace(workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[workspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", workspaceID, core.ErrNotFound)
	}
	delete(s.workspaces, workspaceID)
	return nil
}

// Workspaces lists all workspace records, ordered by id.
func (s *Store) Workspaces() []core.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Workspace, 0, len(s.workspaces))
	for _, st := range s.workspaces {
		out = append(out, st.ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutMonth creates or replaces a month record.
func (s *Store) PutMonth(m core.Month) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(m.WorkspaceID)
	if err != nil {
		return err
	}
	st.months[m.ID] = m
	return nil
}

// GetMonth returns a copy of the month record, or ErrNotFound when the month
// has never been materialized.
func (s *Store) GetMonth(workspaceID string, id core.MonthID) (core.Month, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return core.Month{}, err
	}
	m, ok := st.months[id]
	if !ok {
		return core.Month{}, fmt.Errorf("month %s: %w", id, core.ErrNotFound)
	}
	return m, nil
}

// Months lists all materialized months of a workspace in chronological order.
func (s *Store) Months(workspaceID string) ([]core.Month, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Month, 0, len(st.months))
	for _, m := range st.months {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutDespesa creates or replaces a despesa.
func (s *Store) PutDespesa(d core.Despesa) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(d.WorkspaceID)
	if err != nil {
		return err
	}
	st.despesas[d.ID] = d
	return nil
}

// GetDespesa returns a copy of the despesa.
func (s *Store) GetDespesa(workspaceID, id string) (core.Despesa, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return core.Despesa{}, err
	}
	d, ok := st.despesas[id]
	if !ok {
		return core.Despesa{}, fmt.Errorf("despesa %s: %w", id, core.ErrNotFound)
	}
	return d, nil
}

// DeleteDespesa removes a despesa.
func (s *Store) DeleteDespesa(workspaceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return err
	}
	if _, ok := st.despesas[id]; !ok {
		return fmt.Errorf("despesa %s: %w", id, core.ErrNotFound)
	}
	delete(st.despesas, id)
	return nil
}

// DespesasByMonth lists a month's despesas ordered by id for stable output.
func (s *Store) DespesasByMonth(workspaceID string, month core.MonthID) ([]core.Despesa, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return nil, err
	}
	var out []core.Despesa
	for _, d := range st.despesas {
		if d.MonthID == month {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutCartao creates or replaces a cartao.
func (s *Store) PutCartao(c core.Cartao) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(c.WorkspaceID)
	if err != nil {
		return err
	}
	st.cartoes[c.ID] = c
	return nil
}

// GetCartao returns a copy of the cartao.
func (s *Store) GetCartao(workspaceID, id string) (core.Cartao, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return core.Cartao{}, err
	}
	c, ok := st.cartoes[id]
	if !ok {
		return core.Cartao{}, fmt.Errorf("cartao %s: %w", id, core.ErrNotFound)
	}
	return c, nil
}

// DeleteCartao removes a cartao and cascades over its compras. It returns the
// ids of the removed compras so the caller can invalidate their cache rows.
func (s *Store) DeleteCartao(workspaceID, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return nil, err
	}
	if _, ok := st.cartoes[id]; !ok {
		return nil, fmt.Errorf("cartao %s: %w", id, core.ErrNotFound)
	}
	delete(st.cartoes, id)
	var removed []string
	for cid, compra := range st.compras {
		if compra.CartaoID == id {
			delete(st.compras, cid)
			removed = append(removed, cid)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// Cartoes lists all cartoes of a workspace ordered by id.
func (s *Store) Cartoes(workspaceID string) ([]core.Cartao, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Cartao, 0, len(st.cartoes))
	for _, c := range st.cartoes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutCompra creates or replaces a compra.
func (s *Store) PutCompra(c core.Compra) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(c.WorkspaceID)
	if err != nil {
		return err
	}
	if _, ok := st.cartoes[c.CartaoID]; !ok {
		return fmt.Errorf("cartao %s: %w", c.CartaoID, core.ErrNotFound)
	}
	st.compras[c.ID] = c
	return nil
}

// GetCompra returns a copy of the compra.
func (s *Store) GetCompra(workspaceID, id string) (core.Compra, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return core.Compra{}, err
	}
	c, ok := st.compras[id]
	if !ok {
		return core.Compra{}, fmt.Errorf("compra %s: %w", id, core.ErrNotFound)
	}
	return c, nil
}

// DeleteCompra removes a compra; all of its past and future installment
// contributions disappear with it.
func (s *Store) DeleteCompra(workspaceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return err
	}
	if _, ok := st.compras[id]; !ok {
		return fmt.Errorf("compra %s: %w", id, core.ErrNotFound)
	}
	delete(st.compras, id)
	return nil
}

// Compras lists every compra across all cartoes of the workspace, ordered by id.
func (s *Store) Compras(workspaceID string) ([]core.Compra, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Compra, 0, len(st.compras))
	for _, c := range st.compras {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutTemplate creates or replaces a template.
func (s *Store) PutTemplate(t core.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(t.WorkspaceID)
	if err != nil {
		return err
	}
	st.templates[t.ID] = t
	return nil
}

// GetTemplate returns a template by id.
func (s *Store) GetTemplate(workspaceID, id string) (core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return core.Template{}, err
	}
	t, ok := st.templates[id]
	if !ok {
		return core.Template{}, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	return t, nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(workspaceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return err
	}
	if _, ok := st.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	delete(st.templates, id)
	return nil
}

// Templates lists a workspace's templates ordered by id.
func (s *Store) Templates(workspaceID string) ([]core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.state(workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Template, 0, len(st.templates))
	for _, t := range st.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
