// Package memory is an in-process remote backend used by tests and local
// development. It keeps versioned envelopes per ref and can simulate
// connectivity loss, stale-version conflicts and explicit rejections.
package memory

import (
	"context"
	"fmt"
	"sync"

	"orcamento/internal/core"
	"orcamento/internal/remote"
)

// Backend implements remote.Backend in memory.
type Backend struct {
	mu      sync.Mutex
	records map[string]remote.Envelope
	offline bool
	rejects map[string]string // ref string -> rejection reason
	pushes  int
}

var _ remote.Backend = (*Backend)(nil)

// New creates an empty, online backend.
func New() *Backend {
	return &Backend{
		records: make(map[string]remote.Envelope),
		rejects: make(map[string]string),
	}
}

// SetOffline toggles simulated connectivity loss.
func (b *Backend) SetOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = offline
}

// RejectNext makes every push for the ref fail with the given reason until
// cleared with an empty reason.
func (b *Backend) RejectNext(ref core.EntityRef, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reason == "" {
		delete(b.rejects, ref.String())
		return
	}
	b.rejects[ref.String()] = reason
}

// Seed installs an authoritative record directly, bypassing push semantics.
func (b *Backend) Seed(env remote.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[env.Ref.String()] = env
}

// Push implements remote.Backend. A push with a version lower than the
// stored record is stale and answers with a conflict carrying the
// authoritative value; an equal version is an idempotent replay and is
// accepted without effect.
func (b *Backend) Push(ctx context.Context, env remote.Envelope) (remote.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return remote.Outcome{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offline {
		return remote.NetworkError(), nil
	}
	b.pushes++
	key := env.Ref.String()
	if reason, reject := b.rejects[key]; reject {
		return remote.Rejected(reason), nil
	}
	if stored, ok := b.records[key]; ok {
		if env.Version < stored.Version {
			return remote.Conflict(stored), nil
		}
		if env.Version == stored.Version {
			return remote.Accepted(), nil // replay, already applied
		}
	}
	b.records[key] = env
	return remote.Accepted(), nil
}

// Fetch implements remote.Backend.
func (b *Backend) Fetch(ctx context.Context, ref core.EntityRef) (remote.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return remote.Envelope{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offline {
		return remote.Envelope{}, core.ErrNetworkUnavailable
	}
	env, ok := b.records[ref.String()]
	if !ok {
		return remote.Envelope{}, fmt.Errorf("%s: %w", ref, core.ErrNotFound)
	}
	return env, nil
}

// Record returns the stored envelope for assertions in tests.
func (b *Backend) Record(ref core.EntityRef) (remote.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	env, ok := b.records[ref.String()]
	return env, ok
}

// PushCount reports how many pushes reached the backend while online.
func (b *Backend) PushCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushes
}
