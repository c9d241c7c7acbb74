package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"orcamento/internal/core"
)

// Reconciler replays a workspace's queued pushes in enqueue order when
// connectivity comes back. Concurrent requests for the same workspace are
// coalesced through singleflight, and a generation counter detects passes
// that were already in flight when a new request arrived: their result is
// stale, so the caller runs a fresh pass instead of trusting it.
type Reconciler struct {
	pusher *Pusher

	sf   singleflight.Group
	mu   sync.Mutex
	gens map[string]int64
}

// NewReconciler creates a reconciler that pushes through the same outcome
// handling as the background pusher.
func NewReconciler(pusher *Pusher) *Reconciler {
	return &Reconciler{
		pusher: pusher,
		gens:   make(map[string]int64),
	}
}

func (r *Reconciler) bumpGen(workspaceID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[workspaceID]++
	return r.gens[workspaceID]
}

func (r *Reconciler) currentGen(workspaceID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[workspaceID]
}

// Reconcile replays every queued push of the workspace in order. It returns
// core.ErrNetworkUnavailable when the backend is still unreachable; the
// queue is left intact for the next attempt.
func (r *Reconciler) Reconcile(ctx context.Context, workspaceID string) error {
	for {
		want := r.bumpGen(workspaceID)

		served, err, _ := r.sf.Do(workspaceID, func() (interface{}, error) {
			gen := r.currentGen(workspaceID)
			return gen, r.replay(ctx, workspaceID)
		})
		if err != nil {
			return err
		}
		// A pass that started before this request may have missed writes
		// enqueued since; run again until a pass covers our generation.
		if g, ok := served.(int64); ok && g >= want {
			return nil
		}
	}
}

func (r *Reconciler) replay(ctx context.Context, workspaceID string) error {
	items, err := r.pusher.repo.PendingForWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Reconciling workspace",
		"workspace_id", workspaceID, "queued", len(items))

	for _, item := range items {
		online, err := r.pusher.pushItem(ctx, item)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", item.Ref, err)
		}
		if !online {
			return fmt.Errorf("reconcile %s: %w", workspaceID, core.ErrNetworkUnavailable)
		}
	}
	return nil
}
