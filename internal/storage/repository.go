// Package storage is the durable local side of the sync engine: a SQLite
// cache of entity records addressed by (workspaceId, entityType, entityId)
// and the ordered push queue that survives process restarts until flushed.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"orcamento/internal/core"

	_ "modernc.org/sqlite"
)

// Push queue item states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// CachedEntity is one row of the local entity cache.
type CachedEntity struct {
	Ref     core.EntityRef
	Version int64
	Payload []byte
}

// PushItem is one queued remote write. Items replay in id order, which is
// the order the mutations were made.
type PushItem struct {
	ID       int64
	Ref      core.EntityRef
	Version  int64
	Deleted  bool
	Payload  []byte
	Status   string
	Attempts int64
}

// QueueStats summarizes the push queue for diagnostics.
type QueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

// SQLiteRepository owns the cache database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the cache database at
// dbPath and runs pending migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// PutEntity inserts or replaces one cached entity record.
func (r *SQLiteRepository) PutEntity(ctx context.Context, e CachedEntity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entities (workspace_id, entity_type, entity_id, version, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, entity_type, entity_id)
		DO UPDATE SET version = excluded.version,
		              payload = excluded.payload,
		              updated_at = excluded.updated_at`,
		e.Ref.WorkspaceID, string(e.Ref.Type), e.Ref.ID, e.Version, string(e.Payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put entity %s: %w", e.Ref, err)
	}
	return nil
}

// GetEntity returns one cached entity record.
func (r *SQLiteRepository) GetEntity(ctx context.Context, ref core.EntityRef) (CachedEntity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT version, payload FROM entities
		WHERE workspace_id = ? AND entity_type = ? AND entity_id = ?`,
		ref.WorkspaceID, string(ref.Type), ref.ID)

	var e CachedEntity
	var payload string
	e.Ref = ref
	if err := row.Scan(&e.Version, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CachedEntity{}, fmt.Errorf("%s: %w", ref, core.ErrNotFound)
		}
		return CachedEntity{}, fmt.Errorf("get entity %s: %w", ref, err)
	}
	e.Payload = []byte(payload)
	return e, nil
}

// DeleteEntity removes one cached entity record. Missing rows are not an error.
func (r *SQLiteRepository) DeleteEntity(ctx context.Context, ref core.EntityRef) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM entities
		WHERE workspace_id = ? AND entity_type = ? AND entity_id = ?`,
		ref.WorkspaceID, string(ref.Type), ref.ID)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", ref, err)
	}
	return nil
}

// Scan returns every cached record of one entity type inside a workspace.
func (r *SQLiteRepository) Scan(ctx context.Context, workspaceID string, t core.EntityType) ([]CachedEntity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, version, payload FROM entities
		WHERE workspace_id = ? AND entity_type = ?
		ORDER BY entity_id`,
		workspaceID, string(t))
	if err != nil {
		return nil, fmt.Errorf("scan %s/%s: %w", workspaceID, t, err)
	}
	defer rows.Close()

	var out []CachedEntity
	for rows.Next() {
		e := CachedEntity{Ref: core.EntityRef{WorkspaceID: workspaceID, Type: t}}
		var payload string
		if err := rows.Scan(&e.Ref.ID, &e.Version, &payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ScanAll returns every cached record of one entity type across all
// workspaces. Startup hydration uses it to discover the workspace set.
func (r *SQLiteRepository) ScanAll(ctx context.Context, t core.EntityType) ([]CachedEntity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT workspace_id, entity_id, version, payload FROM entities
		WHERE entity_type = ?
		ORDER BY workspace_id, entity_id`,
		string(t))
	if err != nil {
		return nil, fmt.Errorf("scan all %s: %w", t, err)
	}
	defer rows.Close()

	var out []CachedEntity
	for rows.Next() {
		e := CachedEntity{Ref: core.EntityRef{Type: t}}
		var payload string
		if err := rows.Scan(&e.Ref.WorkspaceID, &e.Ref.ID, &e.Version, &payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeWorkspace removes every cached record and queued push of a workspace.
// Used by the workspace-delete cascade.
func (r *SQLiteRepository) PurgeWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM entities WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("purge entities for %s: %w", workspaceID, err)
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM push_queue WHERE workspace_id = ? AND status IN (?, ?)`,
		workspaceID, StatusPending, StatusProcessing); err != nil {
		return fmt.Errorf("purge queue for %s: %w", workspaceID, err)
	}
	return nil
}

// Enqueue appends a remote write to the durable push queue.
func (r *SQLiteRepository) Enqueue(ctx context.Context, item PushItem) (int64, error) {
	now := time.Now().UTC()
	deleted := 0
	if item.Deleted {
		deleted = 1
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO push_queue
			(workspace_id, entity_type, entity_id, version, deleted, payload,
			 status, attempts, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		item.Ref.WorkspaceID, string(item.Ref.Type), item.Ref.ID, item.Version,
		deleted, string(item.Payload), StatusPending, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue push for %s: %w", item.Ref, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue push id: %w", err)
	}

	slog.DebugContext(ctx, "Queued remote push",
		"queue_id", id,
		"ref", item.Ref.String(),
		"version", item.Version,
		"deleted", item.Deleted)
	return id, nil
}

func scanPushItems(rows *sql.Rows) ([]PushItem, error) {
	var out []PushItem
	for rows.Next() {
		var item PushItem
		var deleted int
		var payload sql.NullString
		if err := rows.Scan(&item.ID, &item.Ref.WorkspaceID, (*string)(&item.Ref.Type),
			&item.Ref.ID, &item.Version, &deleted, &payload, &item.Status, &item.Attempts); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		item.Deleted = deleted != 0
		if payload.Valid {
			item.Payload = []byte(payload.String)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

const pushItemColumns = `id, workspace_id, entity_type, entity_id, version, deleted, payload, status, attempts`

// DequeueBatch returns up to limit pending items whose backoff has elapsed,
// oldest first.
func (r *SQLiteRepository) DequeueBatch(ctx context.Context, limit int64) ([]PushItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pushItemColumns+` FROM push_queue
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?`,
		StatusPending, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	defer rows.Close()
	return scanPushItems(rows)
}

// PendingForWorkspace returns every unfinished push of a workspace in
// enqueue order, regardless of backoff. Reconciliation replays these.
func (r *SQLiteRepository) PendingForWorkspace(ctx context.Context, workspaceID string) ([]PushItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pushItemColumns+` FROM push_queue
		WHERE workspace_id = ? AND status IN (?, ?)
		ORDER BY id`,
		workspaceID, StatusPending, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("pending for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()
	return scanPushItems(rows)
}

// MarkProcessing claims a queue item.
func (r *SQLiteRepository) MarkProcessing(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, StatusProcessing, "")
}

// MarkCompleted finishes a queue item.
func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, StatusCompleted, "")
}

// MarkFailed parks a queue item permanently with its last error.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	return r.setStatus(ctx, id, StatusFailed, lastErr)
}

func (r *SQLiteRepository) setStatus(ctx context.Context, id int64, status, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE push_queue SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		status, lastErr, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark queue item %d %s: %w", id, status, err)
	}
	return nil
}

// IncrementAttempt records a failed attempt and schedules the retry.
func (r *SQLiteRepository) IncrementAttempt(ctx context.Context, id int64, lastErr string, nextAttempt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE push_queue
		SET status = ?, attempts = attempts + 1, last_error = ?,
		    next_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		StatusPending, lastErr, nextAttempt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("increment attempt for %d: %w", id, err)
	}
	return nil
}

// ResetStaleProcessing returns crashed-mid-flight items to pending. Called
// once at startup.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE push_queue SET status = ?, updated_at = ?
		WHERE status = ?`,
		StatusPending, time.Now().UTC(), StatusProcessing)
	if err != nil {
		return fmt.Errorf("reset stale processing: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Reset stale processing queue items", "count", n)
	}
	return nil
}

// RetryFailed returns permanently failed items to pending for another round.
func (r *SQLiteRepository) RetryFailed(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE push_queue
		SET status = ?, attempts = 0, next_attempt_at = ?, updated_at = ?
		WHERE status = ?`,
		StatusPending, now, now, StatusFailed)
	if err != nil {
		return fmt.Errorf("retry failed items: %w", err)
	}
	return nil
}

// CleanupCompleted drops completed items older than the cutoff.
func (r *SQLiteRepository) CleanupCompleted(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM push_queue WHERE status = ? AND updated_at < ?`,
		StatusCompleted, cutoff.UTC())
	if err != nil {
		return fmt.Errorf("cleanup completed items: %w", err)
	}
	return nil
}

// Stats counts queue items per state.
func (r *SQLiteRepository) Stats(ctx context.Context) (QueueStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM push_queue GROUP BY status`)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return QueueStats{}, fmt.Errorf("scan stats row: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
