package core

import (
	"strings"
	"time"
)

// Role orders member capability: viewer < editor < owner.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// Covers reports whether r grants at least the capability of required.
func (r Role) Covers(required Role) bool {
	return r.rank() >= required.rank()
}

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	return r.rank() > 0
}

// EntityType discriminates cache and sync records.
type EntityType string

const (
	EntityWorkspace EntityType = "workspace"
	EntityMonth     EntityType = "month"
	EntityDespesa   EntityType = "despesa"
	EntityCartao    EntityType = "cartao"
	EntityCompra    EntityType = "compra"
	EntityTemplate  EntityType = "template"
)

// EntityRef addresses a single entity in the local cache and on the remote
// backend: (workspaceId, entityType, entityId).
type EntityRef struct {
	WorkspaceID string     `json:"workspace_id"`
	Type        EntityType `json:"type"`
	ID          string     `json:"id"`
}

func (r EntityRef) String() string {
	return r.WorkspaceID + "/" + string(r.Type) + "/" + r.ID
}

type (
	// Member ties a user to a role inside a workspace.
	Member struct {
		UserID string `json:"user_id"`
		Role   Role   `json:"role"`
	}

	// Workspace is a shared financial context with membership and roles.
	// Invariant: exactly one member has RoleOwner, and it matches OwnerID.
	Workspace struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		OwnerID string   `json:"owner_id"`
		Members []Member `json:"members"`
	}

	// Month is a workspace-scoped ledger period. TotalDespesas, TotalCartoes
	// and Sobra are never authoritative: they persist only as a cache of the
	// last recompute and are always rederived from child records.
	Month struct {
		ID          MonthID `json:"id"`
		WorkspaceID string  `json:"workspace_id"`

		SaldoInicial Money `json:"saldo_inicial"`
		// SaldoOverride marks an explicit user-set opening balance for this
		// specific month; it stops rollover from rewriting SaldoInicial.
		SaldoOverride bool `json:"saldo_override"`
		// Opened marks that a user has interacted with this month's balance;
		// once set, the rollover chain is pinned even without an override.
		Opened bool `json:"opened"`

		TotalDespesas Money `json:"total_despesas"`
		TotalCartoes  Money `json:"total_cartoes"`
		Sobra         Money `json:"sobra"`
	}

	// Despesa is a planned, non-installment expense within a month.
	Despesa struct {
		ID          string  `json:"id"`
		WorkspaceID string  `json:"workspace_id"`
		MonthID     MonthID `json:"month_id"`
		Nome        string  `json:"nome"`
		// ValorPlanejado counts toward the month total regardless of Pago;
		// paid state feeds a separate "paid so far" figure.
		ValorPlanejado Money  `json:"valor_planejado"`
		Pago           bool   `json:"pago"`
		Categoria      string `json:"categoria,omitempty"`
	}

	// Cartao is a credit card. It belongs to the workspace, not to a month.
	Cartao struct {
		ID          string `json:"id"`
		WorkspaceID string `json:"workspace_id"`
		Nome        string `json:"nome"`
		ClosingDay  int    `json:"closing_day"`
	}

	// Compra is an installment purchase on a cartao, spread over one or more
	// months starting at its anchor month.
	Compra struct {
		ID          string `json:"id"`
		WorkspaceID string `json:"workspace_id"`
		CartaoID    string `json:"cartao_id"`
		Descricao   string `json:"descricao"`

		ValorTotal    Money `json:"valor_total"`
		ParcelaAtual  int   `json:"parcela_atual"`
		ParcelasTotal int   `json:"parcelas_total"`
		// Marcado controls whether the purchase counts toward totals at all.
		Marcado bool      `json:"marcado"`
		Data    time.Time `json:"data"`
		// AnchorMonth is the month the purchase was created against; the
		// installment at index ParcelaAtual lands there.
		AnchorMonth MonthID `json:"anchor_month"`
	}

	// Template is a reusable planned-expense model. Applying a workspace's
	// templates to a month instantiates them as despesas; application is
	// always an explicit operation, never a side effect of month creation.
	Template struct {
		ID             string `json:"id"`
		WorkspaceID    string `json:"workspace_id"`
		Nome           string `json:"nome"`
		ValorPlanejado Money  `json:"valor_planejado"`
		Categoria      string `json:"categoria,omitempty"`
	}
)

// Ref returns the cache address of the workspace record itself.
func (w Workspace) Ref() EntityRef {
	return EntityRef{WorkspaceID: w.ID, Type: EntityWorkspace, ID: w.ID}
}

// Ref returns the cache address of the month record.
func (m Month) Ref() EntityRef {
	return EntityRef{WorkspaceID: m.WorkspaceID, Type: EntityMonth, ID: string(m.ID)}
}

// Ref returns the cache address of the despesa record.
func (d Despesa) Ref() EntityRef {
	return EntityRef{WorkspaceID: d.WorkspaceID, Type: EntityDespesa, ID: d.ID}
}

// Ref returns the cache address of the cartao record.
func (c Cartao) Ref() EntityRef {
	return EntityRef{WorkspaceID: c.WorkspaceID, Type: EntityCartao, ID: c.ID}
}

// Ref returns the cache address of the compra record.
func (c Compra) Ref() EntityRef {
	return EntityRef{WorkspaceID: c.WorkspaceID, Type: EntityCompra, ID: c.ID}
}

// Ref returns the cache address of the template record.
func (t Template) Ref() EntityRef {
	return EntityRef{WorkspaceID: t.WorkspaceID, Type: EntityTemplate, ID: t.ID}
}

func (w Workspace) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return &ValidationError{Field: "id", Reason: "empty workspace id"}
	}
	if len(strings.TrimSpace(w.Name)) < 2 {
		return &ValidationError{Field: "name", Reason: "name too short"}
	}
	owners := 0
	seen := make(map[string]struct{}, len(w.Members))
	for _, m := range w.Members {
		if !m.Role.IsValid() {
			return &ValidationError{Field: "members", Reason: "unknown role " + string(m.Role)}
		}
		if _, dup := seen[m.UserID]; dup {
			return &ValidationError{Field: "members", Reason: "duplicate member " + m.UserID}
		}
		seen[m.UserID] = struct{}{}
		if m.Role == RoleOwner {
			owners++
			if m.UserID != w.OwnerID {
				return &ValidationError{Field: "members", Reason: "owner member does not match owner id"}
			}
		}
	}
	if owners != 1 {
		return &ValidationError{Field: "members", Reason: "workspace must have exactly one owner"}
	}
	return nil
}

// MemberRole returns the role of userID in the workspace, or false when the
// user is not a member.
func (w Workspace) MemberRole(userID string) (Role, bool) {
	for _, m := range w.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}

func (m Month) Validate() error {
	if err := m.ID.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(m.WorkspaceID) == "" {
		return &ValidationError{Field: "workspace_id", Reason: "empty workspace id"}
	}
	return nil
}

func (d Despesa) Validate() error {
	if strings.TrimSpace(d.WorkspaceID) == "" {
		return &ValidationError{Field: "workspace_id", Reason: "empty workspace id"}
	}
	if err := d.MonthID.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(d.Nome)) == 0 {
		return &ValidationError{Field: "nome", Reason: "empty name"}
	}
	if len(d.Nome) > 200 {
		return &ValidationError{Field: "nome", Reason: "name too long (max 200 characters)"}
	}
	if d.ValorPlanejado.Cents < 0 {
		return &ValidationError{Field: "valor_planejado", Reason: "negative amount"}
	}
	return nil
}

func (c Cartao) Validate() error {
	if strings.TrimSpace(c.WorkspaceID) == "" {
		return &ValidationError{Field: "workspace_id", Reason: "empty workspace id"}
	}
	if len(strings.TrimSpace(c.Nome)) == 0 {
		return &ValidationError{Field: "nome", Reason: "empty name"}
	}
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return &ValidationError{Field: "closing_day", Reason: "must be between 1 and 31"}
	}
	return nil
}

func (c Compra) Validate() error {
	if strings.TrimSpace(c.WorkspaceID) == "" {
		return &ValidationError{Field: "workspace_id", Reason: "empty workspace id"}
	}
	if strings.TrimSpace(c.CartaoID) == "" {
		return &ValidationError{Field: "cartao_id", Reason: "empty cartao id"}
	}
	if len(strings.TrimSpace(c.Descricao)) == 0 {
		return &ValidationError{Field: "descricao", Reason: "empty description"}
	}
	if c.ValorTotal.Cents <= 0 {
		return &ValidationError{Field: "valor_total", Reason: "amount must be positive"}
	}
	if c.ParcelaAtual < 1 || c.ParcelasTotal < 1 || c.ParcelaAtual > c.ParcelasTotal {
		return ErrInvalidInstallmentRange
	}
	return c.AnchorMonth.Validate()
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.WorkspaceID) == "" {
		return &ValidationError{Field: "workspace_id", Reason: "empty workspace id"}
	}
	if len(strings.TrimSpace(t.Nome)) == 0 {
		return &ValidationError{Field: "nome", Reason: "empty name"}
	}
	if t.ValorPlanejado.Cents < 0 {
		return &ValidationError{Field: "valor_planejado", Reason: "negative amount"}
	}
	return nil
}
