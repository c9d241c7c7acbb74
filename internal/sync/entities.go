package sync

import (
	"context"

	"github.com/google/uuid"

	"orcamento/internal/access"
	"orcamento/internal/core"
	"orcamento/internal/events"
)

// CreateDespesa adds a planned expense to a month. The month is materialized
// lazily if it does not exist yet.
func (c *Coordinator) CreateDespesa(ctx context.Context, actorID string, d core.Despesa) (core.Despesa, error) {
	lock := c.wsLock(d.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, d.WorkspaceID, access.ActionEditDespesa); err != nil {
		return core.Despesa{}, err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if err := d.Validate(); err != nil {
		return core.Despesa{}, err
	}

	if err := c.store.PutDespesa(d); err != nil {
		return core.Despesa{}, err
	}
	if _, err := c.upsert(ctx, d); err != nil {
		return core.Despesa{}, err
	}

	topics := topicSet{events.TopicExpenses: {}}
	if err := c.recompute(ctx, d.WorkspaceID, d.MonthID, topics); err != nil {
		return core.Despesa{}, err
	}
	c.publish(topics)
	return d, nil
}

// UpdateDespesa replaces an existing despesa. Moving it across months
// recomputes both the old and the new month.
func (c *Coordinator) UpdateDespesa(ctx context.Context, actorID string, d core.Despesa) (core.Despesa, error) {
	lock := c.wsLock(d.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, d.WorkspaceID, access.ActionEditDespesa); err != nil {
		return core.Despesa{}, err
	}
	prev, err := c.store.GetDespesa(d.WorkspaceID, d.ID)
	if err != nil {
		return core.Despesa{}, err
	}
	if err := d.Validate(); err != nil {
		return core.Despesa{}, err
	}

	if err := c.store.PutDespesa(d); err != nil {
		return core.Despesa{}, err
	}
	if _, err := c.upsert(ctx, d); err != nil {
		return core.Despesa{}, err
	}

	topics := topicSet{events.TopicExpenses: {}}
	if prev.MonthID != d.MonthID {
		if err := c.recompute(ctx, d.WorkspaceID, prev.MonthID, topics); err != nil {
			return core.Despesa{}, err
		}
	}
	if err := c.recompute(ctx, d.WorkspaceID, d.MonthID, topics); err != nil {
		return core.Despesa{}, err
	}
	c.publish(topics)
	return d, nil
}

// DeleteDespesa removes a despesa and recomputes its month.
func (c *Coordinator) DeleteDespesa(ctx context.Context, actorID, workspaceID, id string) error {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, workspaceID, access.ActionEditDespesa); err != nil {
		return err
	}
	d, err := c.store.GetDespesa(workspaceID, id)
	if err != nil {
		return err
	}

	if err := c.store.DeleteDespesa(workspaceID, id); err != nil {
		return err
	}
	if err := c.remove(ctx, d.Ref()); err != nil {
		return err
	}

	topics := topicSet{events.TopicExpenses: {}}
	if err := c.recompute(ctx, workspaceID, d.MonthID, topics); err != nil {
		return err
	}
	c.publish(topics)
	return nil
}

// Despesas lists a month's despesas.
func (c *Coordinator) Despesas(actorID, workspaceID string, month core.MonthID) ([]core.Despesa, error) {
	if _, err := c.authorize(actorID, workspaceID, access.ActionRead); err != nil {
		return nil, err
	}
	return c.store.DespesasByMonth(workspaceID, month)
}

// CreateCartao adds a credit card to the workspace.
func (c *Coordinator) CreateCartao(ctx context.Context, actorID string, card core.Cartao) (core.Cartao, error) {
	lock := c.wsLock(card.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, card.WorkspaceID, access.ActionEditCartao); err != nil {
		return core.Cartao{}, err
	}
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	if err := card.Validate(); err != nil {
		return core.Cartao{}, err
	}

	if err := c.store.PutCartao(card); err != nil {
		return core.Cartao{}, err
	}
	if _, err := c.upsert(ctx, card); err != nil {
		return core.Cartao{}, err
	}
	c.publish(topicSet{events.TopicCards: {}})
	return card, nil
}

// UpdateCartao replaces an existing cartao.
func (c *Coordinator) UpdateCartao(ctx context.Context, actorID string, card core.Cartao) (core.Cartao, error) {
	lock := c.wsLock(card.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, card.WorkspaceID, access.ActionEditCartao); err != nil {
		return core.Cartao{}, err
	}
	if _, err := c.store.GetCartao(card.WorkspaceID, card.ID); err != nil {
		return core.Cartao{}, err
	}
	if err := card.Validate(); err != nil {
		return core.Cartao{}, err
	}

	if err := c.store.PutCartao(card); err != nil {
		return core.Cartao{}, err
	}
	if _, err := c.upsert(ctx, card); err != nil {
		return core.Cartao{}, err
	}
	c.publish(topicSet{events.TopicCards: {}})
	return card, nil
}

// DeleteCartao removes a cartao. Its compras are cascaded, so every month
// they contributed to loses those installments retroactively.
func (c *Coordinator) DeleteCartao(ctx context.Context, actorID, workspaceID, id string) error {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, workspaceID, access.ActionEditCartao); err != nil {
		return err
	}
	card, err := c.store.GetCartao(workspaceID, id)
	if err != nil {
		return err
	}

	// Affected anchor months, collected before the cascade destroys them.
	compras, err := c.store.Compras(workspaceID)
	if err != nil {
		return err
	}
	anchors := make(map[core.MonthID]struct{})
	for _, p := range compras {
		if p.CartaoID == id {
			anchors[p.AnchorMonth] = struct{}{}
		}
	}

	removed, err := c.store.DeleteCartao(workspaceID, id)
	if err != nil {
		return err
	}
	if err := c.remove(ctx, card.Ref()); err != nil {
		return err
	}
	for _, compraID := range removed {
		ref := core.EntityRef{WorkspaceID: workspaceID, Type: core.EntityCompra, ID: compraID}
		if err := c.remove(ctx, ref); err != nil {
			return err
		}
	}

	topics := topicSet{events.TopicCards: {}}
	if len(removed) > 0 {
		topics.add(events.TopicPurchases)
	}
	for anchor := range anchors {
		if err := c.recompute(ctx, workspaceID, anchor, topics); err != nil {
			return err
		}
	}
	c.publish(topics)
	return nil
}

// Cartoes lists the workspace's cards.
func (c *Coordinator) Cartoes(actorID, workspaceID string) ([]core.Cartao, error) {
	if _, err := c.authorize(actorID, workspaceID, access.ActionRead); err != nil {
		return nil, err
	}
	return c.store.Cartoes(workspaceID)
}

// CreateCompra adds an installment purchase to a cartao. The anchor month
// and every later installment month pick up its contribution.
func (c *Coordinator) CreateCompra(ctx context.Context, actorID string, p core.Compra) (core.Compra, error) {
	lock := c.wsLock(p.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, p.WorkspaceID, access.ActionEditCompra); err != nil {
		return core.Compra{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return core.Compra{}, err
	}

	if err := c.store.PutCompra(p); err != nil {
		return core.Compra{}, err
	}
	if _, err := c.upsert(ctx, p); err != nil {
		return core.Compra{}, err
	}

	topics := topicSet{events.TopicPurchases: {}}
	if err := c.recompute(ctx, p.WorkspaceID, p.AnchorMonth, topics); err != nil {
		return core.Compra{}, err
	}
	c.publish(topics)
	return p, nil
}

// UpdateCompra replaces an existing compra, recomputing from the earlier of
// the old and new anchor months.
func (c *Coordinator) UpdateCompra(ctx context.Context, actorID string, p core.Compra) (core.Compra, error) {
	lock := c.wsLock(p.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, p.WorkspaceID, access.ActionEditCompra); err != nil {
		return core.Compra{}, err
	}
	prev, err := c.store.GetCompra(p.WorkspaceID, p.ID)
	if err != nil {
		return core.Compra{}, err
	}
	if err := p.Validate(); err != nil {
		return core.Compra{}, err
	}

	if err := c.store.PutCompra(p); err != nil {
		return core.Compra{}, err
	}
	if _, err := c.upsert(ctx, p); err != nil {
		return core.Compra{}, err
	}

	topics := topicSet{events.TopicPurchases: {}}
	if prev.AnchorMonth != p.AnchorMonth {
		if err := c.recompute(ctx, p.WorkspaceID, prev.AnchorMonth, topics); err != nil {
			return core.Compra{}, err
		}
	}
	if err := c.recompute(ctx, p.WorkspaceID, p.AnchorMonth, topics); err != nil {
		return core.Compra{}, err
	}
	c.publish(topics)
	return p, nil
}

// DeleteCompra removes a compra; every installment contribution disappears
// retroactively.
func (c *Coordinator) DeleteCompra(ctx context.Context, actorID, workspaceID, id string) error {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, workspaceID, access.ActionEditCompra); err != nil {
		return err
	}
	p, err := c.store.GetCompra(workspaceID, id)
	if err != nil {
		return err
	}

	if err := c.store.DeleteCompra(workspaceID, id); err != nil {
		return err
	}
	if err := c.remove(ctx, p.Ref()); err != nil {
		return err
	}

	topics := topicSet{events.TopicPurchases: {}}
	if err := c.recompute(ctx, workspaceID, p.AnchorMonth, topics); err != nil {
		return err
	}
	c.publish(topics)
	return nil
}

// Compras lists the workspace's installment purchases.
func (c *Coordinator) Compras(actorID, workspaceID string) ([]core.Compra, error) {
	if _, err := c.authorize(actorID, workspaceID, access.ActionRead); err != nil {
		return nil, err
	}
	return c.store.Compras(workspaceID)
}

// CreateTemplate adds a reusable planned-expense model.
func (c *Coordinator) CreateTemplate(ctx context.Context, actorID string, t core.Template) (core.Template, error) {
	lock := c.wsLock(t.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, t.WorkspaceID, access.ActionEditTemplate); err != nil {
		return core.Template{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := t.Validate(); err != nil {
		return core.Template{}, err
	}

	if err := c.store.PutTemplate(t); err != nil {
		return core.Template{}, err
	}
	if _, err := c.upsert(ctx, t); err != nil {
		return core.Template{}, err
	}
	c.publish(topicSet{events.TopicTemplates: {}})
	return t, nil
}

// UpdateTemplate replaces an existing template. Despesas already
// instantiated from it are untouched.
func (c *Coordinator) UpdateTemplate(ctx context.Context, actorID string, t core.Template) (core.Template, error) {
	lock := c.wsLock(t.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, t.WorkspaceID, access.ActionEditTemplate); err != nil {
		return core.Template{}, err
	}
	if _, err := c.store.GetTemplate(t.WorkspaceID, t.ID); err != nil {
		return core.Template{}, err
	}
	if err := t.Validate(); err != nil {
		return core.Template{}, err
	}

	if err := c.store.PutTemplate(t); err != nil {
		return core.Template{}, err
	}
	if _, err := c.upsert(ctx, t); err != nil {
		return core.Template{}, err
	}
	c.publish(topicSet{events.TopicTemplates: {}})
	return t, nil
}

// DeleteTemplate removes a template.
func (c *Coordinator) DeleteTemplate(ctx context.Context, actorID, workspaceID, id string) error {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, workspaceID, access.ActionEditTemplate); err != nil {
		return err
	}
	ref := core.EntityRef{WorkspaceID: workspaceID, Type: core.EntityTemplate, ID: id}
	if err := c.store.DeleteTemplate(workspaceID, id); err != nil {
		return err
	}
	if err := c.remove(ctx, ref); err != nil {
		return err
	}
	c.publish(topicSet{events.TopicTemplates: {}})
	return nil
}

// Templates lists the workspace's templates.
func (c *Coordinator) Templates(actorID, workspaceID string) ([]core.Template, error) {
	if _, err := c.authorize(actorID, workspaceID, access.ActionRead); err != nil {
		return nil, err
	}
	return c.store.Templates(workspaceID)
}

// ApplyTemplates instantiates every template of the workspace as a despesa
// in the given month. One logical operation: however many despesas it
// creates, each touched topic is published once.
func (c *Coordinator) ApplyTemplates(ctx context.Context, actorID, workspaceID string, month core.MonthID) ([]core.Despesa, error) {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, workspaceID, access.ActionApplyTemplates); err != nil {
		return nil, err
	}
	if err := month.Validate(); err != nil {
		return nil, err
	}

	templates, err := c.store.Templates(workspaceID)
	if err != nil {
		return nil, err
	}

	var created []core.Despesa
	for _, t := range templates {
		d := core.Despesa{
			ID:             uuid.NewString(),
			WorkspaceID:    workspaceID,
			MonthID:        month,
			Nome:           t.Nome,
			ValorPlanejado: t.ValorPlanejado,
			Categoria:      t.Categoria,
		}
		if err := c.store.PutDespesa(d); err != nil {
			return nil, err
		}
		if _, err := c.upsert(ctx, d); err != nil {
			return nil, err
		}
		created = append(created, d)
	}

	topics := topicSet{}
	if len(created) > 0 {
		topics.add(events.TopicExpenses)
		if err := c.recompute(ctx, workspaceID, month, topics); err != nil {
			return nil, err
		}
	}
	c.publish(topics)
	return created, nil
}
