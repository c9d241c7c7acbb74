package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"orcamento/internal/core"
	"orcamento/internal/events"
	"orcamento/internal/remote"
	"orcamento/internal/storage"
)

// ApplyRemoteDelta overwrites local state with an authoritative remote
// record, recomputes affected months and republishes. Both the change-stream
// consumer and conflict adoption funnel through here. Returning an error
// means the delta could not be applied yet (for example a compra arriving
// before its cartao) and should be redelivered.
func (c *Coordinator) ApplyRemoteDelta(ctx context.Context, env remote.Envelope) error {
	lock := c.wsLock(env.Ref.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	topics := topicSet{}
	var err error
	if env.Deleted {
		err = c.applyRemoteDelete(ctx, env, topics)
	} else {
		err = c.applyRemoteUpsert(ctx, env, topics)
	}
	if err != nil {
		return err
	}
	c.publish(topics)
	return nil
}

func (c *Coordinator) applyRemoteUpsert(ctx context.Context, env remote.Envelope, topics topicSet) error {
	switch env.Ref.Type {
	case core.EntityWorkspace:
		var ws core.Workspace
		if err := json.Unmarshal(env.Payload, &ws); err != nil {
			return fmt.Errorf("decode remote workspace: %w", err)
		}
		c.store.PutWorkspace(ws)
		topics.add(events.TopicWorkspaces)

	case core.EntityMonth:
		var m core.Month
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return fmt.Errorf("decode remote month: %w", err)
		}
		if err := c.store.PutMonth(m); err != nil {
			return err
		}
		if err := c.recompute(ctx, m.WorkspaceID, m.ID, topics); err != nil {
			return err
		}

	case core.EntityDespesa:
		var d core.Despesa
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return fmt.Errorf("decode remote despesa: %w", err)
		}
		if err := c.store.PutDespesa(d); err != nil {
			return err
		}
		topics.add(events.TopicExpenses)
		if err := c.recompute(ctx, d.WorkspaceID, d.MonthID, topics); err != nil {
			return err
		}

	case core.EntityCartao:
		var card core.Cartao
		if err := json.Unmarshal(env.Payload, &card); err != nil {
			return fmt.Errorf("decode remote cartao: %w", err)
		}
		if err := c.store.PutCartao(card); err != nil {
			return err
		}
		topics.add(events.TopicCards)

	case core.EntityCompra:
		var p core.Compra
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode remote compra: %w", err)
		}
		if err := c.store.PutCompra(p); err != nil {
			return err
		}
		topics.add(events.TopicPurchases)
		if err := c.recompute(ctx, p.WorkspaceID, p.AnchorMonth, topics); err != nil {
			return err
		}

	case core.EntityTemplate:
		var t core.Template
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return fmt.Errorf("decode remote template: %w", err)
		}
		if err := c.store.PutTemplate(t); err != nil {
			return err
		}
		topics.add(events.TopicTemplates)

	default:
		return fmt.Errorf("unknown entity type %q", env.Ref.Type)
	}

	// Cache mirrors the remote version so later local writes stack above it.
	return c.repo.PutEntity(ctx, storage.CachedEntity{
		Ref:     env.Ref,
		Version: env.Version,
		Payload: env.Payload,
	})
}

func (c *Coordinator) applyRemoteDelete(ctx context.Context, env remote.Envelope, topics topicSet) error {
	ws := env.Ref.WorkspaceID

	switch env.Ref.Type {
	case core.EntityWorkspace:
		if err := c.store.DeleteWorkspace(ws); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if err := c.repo.PurgeWorkspace(ctx, ws); err != nil {
			return err
		}
		if c.totals != nil {
			c.totals.InvalidateWorkspace(ws)
		}
		for _, t := range publishOrder {
			topics.add(t)
		}
		return nil

	case core.EntityDespesa:
		d, err := c.store.GetDespesa(ws, env.Ref.ID)
		if err == nil {
			if err := c.store.DeleteDespesa(ws, env.Ref.ID); err != nil {
				return err
			}
			topics.add(events.TopicExpenses)
			if err := c.recompute(ctx, ws, d.MonthID, topics); err != nil {
				return err
			}
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}

	case core.EntityCartao:
		// Anchor months of the cartao's compras, collected before the
		// cascade destroys them, so their totals drop the installments.
		compras, err := c.store.Compras(ws)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		anchors := make(map[core.MonthID]struct{})
		for _, p := range compras {
			if p.CartaoID == env.Ref.ID {
				anchors[p.AnchorMonth] = struct{}{}
			}
		}

		removed, err := c.store.DeleteCartao(ws, env.Ref.ID)
		if err == nil {
			topics.add(events.TopicCards)
			if len(removed) > 0 {
				topics.add(events.TopicPurchases)
			}
			for _, compraID := range removed {
				ref := core.EntityRef{WorkspaceID: ws, Type: core.EntityCompra, ID: compraID}
				if err := c.repo.DeleteEntity(ctx, ref); err != nil {
					return err
				}
			}
			for anchor := range anchors {
				if err := c.recompute(ctx, ws, anchor, topics); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}

	case core.EntityCompra:
		p, err := c.store.GetCompra(ws, env.Ref.ID)
		if err == nil {
			if err := c.store.DeleteCompra(ws, env.Ref.ID); err != nil {
				return err
			}
			topics.add(events.TopicPurchases)
			if err := c.recompute(ctx, ws, p.AnchorMonth, topics); err != nil {
				return err
			}
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}

	case core.EntityTemplate:
		if err := c.store.DeleteTemplate(ws, env.Ref.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		topics.add(events.TopicTemplates)

	case core.EntityMonth:
		// Months only disappear through the workspace cascade.
		slog.WarnContext(ctx, "Ignoring remote month tombstone", "ref", env.Ref.String())

	default:
		return fmt.Errorf("unknown entity type %q", env.Ref.Type)
	}

	return c.repo.DeleteEntity(ctx, env.Ref)
}

// Hydrate rebuilds the in-memory store from the durable cache at startup.
// Parent records load before children so referential checks hold.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	workspaces, err := c.repo.ScanAll(ctx, core.EntityWorkspace)
	if err != nil {
		return err
	}
	for _, rec := range workspaces {
		var ws core.Workspace
		if err := json.Unmarshal(rec.Payload, &ws); err != nil {
			return fmt.Errorf("hydrate workspace %s: %w", rec.Ref, err)
		}
		c.store.PutWorkspace(ws)
	}

	for _, rec := range workspaces {
		if err := c.hydrateWorkspace(ctx, rec.Ref.WorkspaceID); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "Hydrated local cache", "workspaces", len(workspaces))
	return nil
}

func (c *Coordinator) hydrateWorkspace(ctx context.Context, workspaceID string) error {
	load := func(t core.EntityType, put func(payload []byte) error) error {
		recs, err := c.repo.Scan(ctx, workspaceID, t)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := put(rec.Payload); err != nil {
				return fmt.Errorf("hydrate %s: %w", rec.Ref, err)
			}
		}
		return nil
	}

	if err := load(core.EntityMonth, func(payload []byte) error {
		var m core.Month
		if err := json.Unmarshal(payload, &m); err != nil {
			return err
		}
		return c.store.PutMonth(m)
	}); err != nil {
		return err
	}
	if err := load(core.EntityDespesa, func(payload []byte) error {
		var d core.Despesa
		if err := json.Unmarshal(payload, &d); err != nil {
			return err
		}
		return c.store.PutDespesa(d)
	}); err != nil {
		return err
	}
	if err := load(core.EntityCartao, func(payload []byte) error {
		var card core.Cartao
		if err := json.Unmarshal(payload, &card); err != nil {
			return err
		}
		return c.store.PutCartao(card)
	}); err != nil {
		return err
	}
	if err := load(core.EntityCompra, func(payload []byte) error {
		var p core.Compra
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return c.store.PutCompra(p)
	}); err != nil {
		return err
	}
	return load(core.EntityTemplate, func(payload []byte) error {
		var t core.Template
		if err := json.Unmarshal(payload, &t); err != nil {
			return err
		}
		return c.store.PutTemplate(t)
	})
}
