package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orcamento/internal/core"
	"orcamento/internal/remote"
	"orcamento/internal/storage"
)

// PusherConfig holds configuration for the push loop.
type PusherConfig struct {
	// PollInterval is how often to check for pending items (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of items to push per poll cycle (default: 25)
	BatchSize int

	// MaxRetries bounds retries of rejected pushes before the item is marked
	// failed (default: 3). Network errors never count toward this bound.
	MaxRetries int

	// BaseBackoff is the first retry delay; it doubles per attempt up to
	// MaxBackoff (defaults: 5s, 10m).
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// CleanupInterval is how often to drop old completed items (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

// DefaultPusherConfig returns sensible defaults.
func DefaultPusherConfig() PusherConfig {
	return PusherConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       25,
		MaxRetries:      3,
		BaseBackoff:     5 * time.Second,
		MaxBackoff:      10 * time.Minute,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// Pusher drains the durable push queue toward the remote backend and turns
// each outcome into queue state: accepted completes, conflict adopts the
// remote value locally, rejected retries up to the bound, network errors
// leave the item queued.
type Pusher struct {
	repo    *storage.SQLiteRepository
	backend remote.Backend
	coord   *Coordinator
	config  PusherConfig

	// OnConflict, when set, receives the non-fatal diagnostic raised after a
	// conflicted push overwrote local state with the remote value.
	OnConflict func(*remote.ConflictError)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPusher creates a pusher over the queue, the backend and the
// coordinator that adopts conflicting remote values.
func NewPusher(repo *storage.SQLiteRepository, backend remote.Backend, coord *Coordinator, config PusherConfig) *Pusher {
	return &Pusher{
		repo:    repo,
		backend: backend,
		coord:   coord,
		config:  config,
	}
}

// Start begins the push loop. Returns an error if already running.
func (p *Pusher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pusher is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Items stuck in processing from a previous crash go back to pending.
	if err := p.repo.ResetStaleProcessing(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale processing items", "error", err)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Push loop started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop gracefully stops the loop and waits for completion.
func (p *Pusher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Push loop stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Push loop stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning reports whether the loop is active.
func (p *Pusher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pusher) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.processBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

// processBatch pushes one batch of due items. An offline backend ends the
// batch early; everything not yet pushed simply stays queued.
func (p *Pusher) processBatch(ctx context.Context) {
	items, err := p.repo.DequeueBatch(ctx, int64(p.config.BatchSize))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue push batch", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.DebugContext(ctx, "Pushing batch", "count", len(items))

	for _, item := range items {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		online, err := p.pushItem(ctx, item)
		if err != nil {
			slog.ErrorContext(ctx, "Push item handling failed",
				"id", item.ID, "ref", item.Ref.String(), "error", err)
			continue
		}
		if !online {
			return
		}
	}
}

// pushItem sends one queued write and applies its outcome. The returned bool
// is false when the backend is unreachable; the error covers local failures
// only.
func (p *Pusher) pushItem(ctx context.Context, item storage.PushItem) (bool, error) {
	if err := p.repo.MarkProcessing(ctx, item.ID); err != nil {
		return true, err
	}

	outcome, err := p.backend.Push(ctx, remote.Envelope{
		Ref:     item.Ref,
		Version: item.Version,
		Deleted: item.Deleted,
		Payload: item.Payload,
	})
	if err != nil {
		// Local failure such as context cancellation. Leave the item for the
		// stale-processing reset.
		return true, err
	}

	switch outcome.Status {
	case remote.StatusAccepted:
		if err := p.repo.MarkCompleted(ctx, item.ID); err != nil {
			return true, err
		}
		slog.DebugContext(ctx, "Push accepted", "ref", item.Ref.String(), "version", item.Version)
		return true, nil

	case remote.StatusConflict:
		return true, p.handleConflict(ctx, item, outcome.Remote)

	case remote.StatusRejected:
		return true, p.handleRejection(ctx, item, outcome.Reason)

	case remote.StatusNetworkError:
		// Still offline. The item stays queued with backoff so the next poll
		// does not hammer an unreachable backend.
		delay := p.backoff(item.Attempts)
		if err := p.repo.IncrementAttempt(ctx, item.ID, "network unavailable", time.Now().Add(delay)); err != nil {
			return true, err
		}
		slog.InfoContext(ctx, "Backend unreachable, push stays queued",
			"ref", item.Ref.String(), "retry_in", delay)
		return false, nil

	default:
		return true, fmt.Errorf("unknown push outcome %q", outcome.Status)
	}
}

// handleConflict overwrites local state with the authoritative remote value
// and surfaces the non-fatal diagnostic. The local mutation is not replayed.
func (p *Pusher) handleConflict(ctx context.Context, item storage.PushItem, remoteEnv *remote.Envelope) error {
	if remoteEnv == nil {
		fetched, err := p.backend.Fetch(ctx, item.Ref)
		switch {
		case errors.Is(err, core.ErrNotFound):
			fetched = remote.Envelope{Ref: item.Ref, Deleted: true}
		case errors.Is(err, core.ErrNetworkUnavailable):
			delay := p.backoff(item.Attempts)
			return p.repo.IncrementAttempt(ctx, item.ID, "conflict fetch: network unavailable", time.Now().Add(delay))
		case err != nil:
			return err
		}
		remoteEnv = &fetched
	}

	if err := p.coord.ApplyRemoteDelta(ctx, *remoteEnv); err != nil {
		return fmt.Errorf("adopt remote value for %s: %w", item.Ref, err)
	}
	if err := p.repo.MarkCompleted(ctx, item.ID); err != nil {
		return err
	}

	diag := &remote.ConflictError{Ref: item.Ref, Remote: *remoteEnv}
	slog.WarnContext(ctx, "Push conflict, adopted remote value",
		"ref", item.Ref.String(),
		"local_version", item.Version,
		"remote_version", remoteEnv.Version)
	if p.OnConflict != nil {
		p.OnConflict(diag)
	}
	return nil
}

// handleRejection retries with backoff up to the bound, then marks the item
// failed and logs the degraded-sync diagnostic. Local state is preserved.
func (p *Pusher) handleRejection(ctx context.Context, item storage.PushItem, reason string) error {
	rejected := &remote.RejectedError{Ref: item.Ref, Reason: reason}

	if item.Attempts+1 >= int64(p.config.MaxRetries) {
		if err := p.repo.MarkFailed(ctx, item.ID, reason); err != nil {
			return err
		}
		slog.ErrorContext(ctx, "Push failed permanently, local state kept as pending sync",
			"ref", item.Ref.String(),
			"attempts", item.Attempts+1,
			"error", rejected)
		return nil
	}

	delay := p.backoff(item.Attempts)
	if err := p.repo.IncrementAttempt(ctx, item.ID, reason, time.Now().Add(delay)); err != nil {
		return err
	}
	slog.WarnContext(ctx, "Push rejected, will retry",
		"ref", item.Ref.String(),
		"attempt", item.Attempts+1,
		"retry_in", delay,
		"reason", reason)
	return nil
}

// backoff returns the exponential delay for the next try after `attempts`
// completed tries.
func (p *Pusher) backoff(attempts int64) time.Duration {
	delay := p.config.BaseBackoff
	for i := int64(0); i < attempts && delay < p.config.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > p.config.MaxBackoff {
		delay = p.config.MaxBackoff
	}
	return delay
}

func (p *Pusher) cleanupCompleted(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupAge)
	if err := p.repo.CleanupCompleted(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed pushes", "error", err)
	}
}

// Stats exposes queue statistics.
func (p *Pusher) Stats(ctx context.Context) (storage.QueueStats, error) {
	return p.repo.Stats(ctx)
}

// RetryFailed resets permanently failed items for another round.
func (p *Pusher) RetryFailed(ctx context.Context) error {
	return p.repo.RetryFailed(ctx)
}
