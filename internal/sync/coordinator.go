// Package sync owns the cache-and-sync coordinator: every mutation flows
// through it in local-first order (authorize, validate, apply to the store
// and the durable cache, recompute, publish, enqueue the remote push), and
// it is the only writer of the push queue. Reads are served from local state
// and never block on the network.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"orcamento/internal/access"
	"orcamento/internal/cache"
	"orcamento/internal/core"
	"orcamento/internal/events"
	"orcamento/internal/ledger"
	"orcamento/internal/storage"
	"orcamento/internal/store"
)

// Coordinator serializes mutations per workspace and keeps the in-memory
// store, the SQLite cache, the push queue and the event bus consistent with
// each other. Workspace A never waits on workspace B.
type Coordinator struct {
	store  *store.Store
	agg    *ledger.Aggregator
	repo   *storage.SQLiteRepository
	bus    *events.Bus
	totals *cache.TotalsCache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCoordinator wires the coordinator over its collaborators. The totals
// cache may be nil; reads then always recompute.
func NewCoordinator(st *store.Store, agg *ledger.Aggregator, repo *storage.SQLiteRepository, bus *events.Bus, totals *cache.TotalsCache) *Coordinator {
	return &Coordinator{
		store:  st,
		agg:    agg,
		repo:   repo,
		bus:    bus,
		totals: totals,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (c *Coordinator) wsLock(workspaceID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[workspaceID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[workspaceID] = l
	}
	return l
}

// topicSet collects the topics one logical operation touched so each is
// published exactly once, in a fixed order.
type topicSet map[events.Topic]struct{}

func (s topicSet) add(t events.Topic) { s[t] = struct{}{} }

var publishOrder = []events.Topic{
	events.TopicWorkspaces,
	events.TopicMonths,
	events.TopicExpenses,
	events.TopicCards,
	events.TopicPurchases,
	events.TopicTemplates,
}

func (c *Coordinator) publish(topics topicSet) {
	for _, t := range publishOrder {
		if _, ok := topics[t]; ok {
			c.bus.Publish(t)
		}
	}
}

type cacheable interface {
	Ref() core.EntityRef
}

// nextVersion returns the version the next local write of ref should carry:
// one past the cached version, or 1 for an unseen entity.
func (c *Coordinator) nextVersion(ctx context.Context, ref core.EntityRef) (int64, error) {
	cached, err := c.repo.GetEntity(ctx, ref)
	if errors.Is(err, core.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return cached.Version + 1, nil
}

// upsert persists one entity to the durable cache and enqueues its remote
// push. Returns the version the write was stamped with.
func (c *Coordinator) upsert(ctx context.Context, e cacheable) (int64, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", e.Ref(), err)
	}
	ref := e.Ref()
	version, err := c.nextVersion(ctx, ref)
	if err != nil {
		return 0, err
	}
	if err := c.repo.PutEntity(ctx, storage.CachedEntity{Ref: ref, Version: version, Payload: payload}); err != nil {
		return 0, err
	}
	if _, err := c.repo.Enqueue(ctx, storage.PushItem{Ref: ref, Version: version, Payload: payload}); err != nil {
		return 0, err
	}
	return version, nil
}

// remove deletes one entity from the durable cache and enqueues a tombstone.
func (c *Coordinator) remove(ctx context.Context, ref core.EntityRef) error {
	version, err := c.nextVersion(ctx, ref)
	if err != nil {
		return err
	}
	if err := c.repo.DeleteEntity(ctx, ref); err != nil {
		return err
	}
	if _, err := c.repo.Enqueue(ctx, storage.PushItem{Ref: ref, Version: version, Deleted: true}); err != nil {
		return err
	}
	return nil
}

// persistLocal writes an entity to the durable cache without queueing a
// remote push. Used for derived records such as recomputed months.
func (c *Coordinator) persistLocal(ctx context.Context, e cacheable) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Ref(), err)
	}
	ref := e.Ref()
	version, err := c.nextVersion(ctx, ref)
	if err != nil {
		return err
	}
	return c.repo.PutEntity(ctx, storage.CachedEntity{Ref: ref, Version: version, Payload: payload})
}

// recompute reaggregates a month, persists the changed month records locally
// and marks the months topic. Rollover can rewrite any downstream month, so
// the whole workspace's totals cache is invalidated.
func (c *Coordinator) recompute(ctx context.Context, workspaceID string, month core.MonthID, topics topicSet) error {
	if _, err := c.agg.Totals(workspaceID, month); err != nil {
		return err
	}
	months, err := c.store.Months(workspaceID)
	if err != nil {
		return err
	}
	for _, m := range months {
		if err := c.persistLocal(ctx, m); err != nil {
			return err
		}
	}
	if c.totals != nil {
		c.totals.InvalidateWorkspace(workspaceID)
	}
	topics.add(events.TopicMonths)
	return nil
}

// authorize loads the workspace and checks the actor against the action.
// Every mutation calls it before touching any state.
func (c *Coordinator) authorize(actorID, workspaceID string, action access.Action) (core.Workspace, error) {
	ws, err := c.store.GetWorkspace(workspaceID)
	if err != nil {
		return core.Workspace{}, err
	}
	if err := access.Authorize(actorID, ws, action); err != nil {
		return core.Workspace{}, err
	}
	return ws, nil
}

// CreateWorkspace creates a workspace owned by ownerID.
func (c *Coordinator) CreateWorkspace(ctx context.Context, ownerID, name string) (core.Workspace, error) {
	ws := core.Workspace{
		ID:      uuid.NewString(),
		Name:    name,
		OwnerID: ownerID,
		Members: []core.Member{{UserID: ownerID, Role: core.RoleOwner}},
	}
	if err := ws.Validate(); err != nil {
		return core.Workspace{}, err
	}

	lock := c.wsLock(ws.ID)
	lock.Lock()
	defer lock.Unlock()

	c.store.PutWorkspace(ws)
	if _, err := c.upsert(ctx, ws); err != nil {
		return core.Workspace{}, err
	}
	c.publish(topicSet{events.TopicWorkspaces: {}})
	return ws, nil
}

// RenameWorkspace sets a new workspace name. Owner only.
func (c *Coordinator) RenameWorkspace(ctx context.Context, actorID, workspaceID, name string) (core.Workspace, error) {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	ws, err := c.authorize(actorID, workspaceID, access.ActionRenameWorkspace)
	if err != nil {
		return core.Workspace{}, err
	}
	ws.Name = name
	if err := ws.Validate(); err != nil {
		return core.Workspace{}, err
	}

	c.store.PutWorkspace(ws)
	if _, err := c.upsert(ctx, ws); err != nil {
		return core.Workspace{}, err
	}
	c.publish(topicSet{events.TopicWorkspaces: {}})
	return ws, nil
}

// SetMemberRole adds a member or changes an existing member's role. Owner
// only. Granting RoleOwner fails validation: ownership does not transfer.
func (c *Coordinator) SetMemberRole(ctx context.Context, actorID, workspaceID, userID string, role core.Role) (core.Workspace, error) {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	ws, err := c.authorize(actorID, workspaceID, access.ActionManageMembers)
	if err != nil {
		return core.Workspace{}, err
	}

	found := false
	for i, m := range ws.Members {
		if m.UserID == userID {
			ws.Members[i].Role = role
			found = true
			break
		}
	}
	if !found {
		ws.Members = append(ws.Members, core.Member{UserID: userID, Role: role})
	}
	if err := ws.Validate(); err != nil {
		return core.Workspace{}, err
	}

	c.store.PutWorkspace(ws)
	if _, err := c.upsert(ctx, ws); err != nil {
		return core.Workspace{}, err
	}
	c.publish(topicSet{events.TopicWorkspaces: {}})
	return ws, nil
}

// RemoveMember drops a member from the workspace. Owner only; removing the
// owner fails validation.
func (c *Coordinator) RemoveMember(ctx context.Context, actorID, workspaceID, userID string) (core.Workspace, error) {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	ws, err := c.authorize(actorID, workspaceID, access.ActionManageMembers)
	if err != nil {
		return core.Workspace{}, err
	}

	kept := ws.Members[:0:0]
	for _, m := range ws.Members {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(ws.Members) {
		return core.Workspace{}, fmt.Errorf("member %s: %w", userID, core.ErrNotFound)
	}
	ws.Members = kept
	if err := ws.Validate(); err != nil {
		return core.Workspace{}, err
	}

	c.store.PutWorkspace(ws)
	if _, err := c.upsert(ctx, ws); err != nil {
		return core.Workspace{}, err
	}
	c.publish(topicSet{events.TopicWorkspaces: {}})
	return ws, nil
}

// DeleteWorkspace removes the workspace and cascades to every child record.
// Owner only. A single workspace tombstone is pushed; the remote cascades on
// its side.
func (c *Coordinator) DeleteWorkspace(ctx context.Context, actorID, workspaceID string) error {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	ws, err := c.authorize(actorID, workspaceID, access.ActionDeleteWorkspace)
	if err != nil {
		return err
	}

	version, err := c.nextVersion(ctx, ws.Ref())
	if err != nil {
		return err
	}
	if err := c.store.DeleteWorkspace(workspaceID); err != nil {
		return err
	}
	// Purge drops pending pushes too, so the tombstone goes in after.
	if err := c.repo.PurgeWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	if _, err := c.repo.Enqueue(ctx, storage.PushItem{Ref: ws.Ref(), Version: version, Deleted: true}); err != nil {
		return err
	}
	if c.totals != nil {
		c.totals.InvalidateWorkspace(workspaceID)
	}

	all := topicSet{}
	for _, t := range publishOrder {
		all.add(t)
	}
	c.publish(all)
	return nil
}

// SetSaldoInicial pins a month's opening balance and recomputes from there.
func (c *Coordinator) SetSaldoInicial(ctx context.Context, actorID, workspaceID string, month core.MonthID, saldo core.Money) (core.MonthTotals, error) {
	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.authorize(actorID, workspaceID, access.ActionSetSaldo); err != nil {
		return core.MonthTotals{}, err
	}
	if err := month.Validate(); err != nil {
		return core.MonthTotals{}, err
	}

	totals, err := c.agg.SetSaldoInicial(workspaceID, month, saldo)
	if err != nil {
		return core.MonthTotals{}, err
	}

	topics := topicSet{}
	if err := c.recompute(ctx, workspaceID, month, topics); err != nil {
		return core.MonthTotals{}, err
	}
	// The pinned month is a user write, so it is pushed remotely as well.
	m, err := c.store.GetMonth(workspaceID, month)
	if err != nil {
		return core.MonthTotals{}, err
	}
	if _, err := c.upsert(ctx, m); err != nil {
		return core.MonthTotals{}, err
	}
	c.publish(topics)
	return totals, nil
}

// Totals returns a month's aggregation, materializing the month lazily on
// first address. Served from the totals cache when fresh.
func (c *Coordinator) Totals(ctx context.Context, actorID, workspaceID string, month core.MonthID) (core.MonthTotals, error) {
	if _, err := c.authorize(actorID, workspaceID, access.ActionRead); err != nil {
		return core.MonthTotals{}, err
	}
	if c.totals != nil {
		if t, ok := c.totals.Get(workspaceID, month); ok {
			return t, nil
		}
	}

	lock := c.wsLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	totals, err := c.agg.Totals(workspaceID, month)
	if err != nil {
		return core.MonthTotals{}, err
	}
	if c.totals != nil {
		c.totals.Put(workspaceID, month, totals)
	}
	return totals, nil
}

// Workspace returns the workspace record. Any member may read it.
func (c *Coordinator) Workspace(actorID, workspaceID string) (core.Workspace, error) {
	return c.authorize(actorID, workspaceID, access.ActionRead)
}

// WorkspacesFor lists the workspaces actorID is a member of.
func (c *Coordinator) WorkspacesFor(actorID string) []core.Workspace {
	var out []core.Workspace
	for _, ws := range c.store.Workspaces() {
		if _, ok := ws.MemberRole(actorID); ok {
			out = append(out, ws)
		}
	}
	return out
}

// Months lists the materialized months of a workspace.
func (c *Coordinator) Months(actorID, workspaceID string) ([]core.Month, error) {
	if _, err := c.authorize(actorID, workspaceID, access.ActionRead); err != nil {
		return nil, err
	}
	return c.store.Months(workspaceID)
}
