// Package remote defines the narrow contracts the sync coordinator holds
// against the remote backend: push, fetch and the real-time change stream.
// The backend's own auth and storage are external collaborators; only these
// interfaces are consumed.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"orcamento/internal/core"
)

// Envelope carries one entity record across the sync boundary. Payload is the
// entity's JSON form; Deleted marks a tombstone. Version increases with every
// local mutation and lets the backend detect stale pushes.
type Envelope struct {
	Ref     core.EntityRef  `json:"ref"`
	Version int64           `json:"version"`
	Deleted bool            `json:"deleted,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutcomeStatus enumerates every way a push can end. The tagged variant
// replaces ad hoc string matching on error messages.
type OutcomeStatus string

const (
	StatusAccepted     OutcomeStatus = "accepted"
	StatusConflict     OutcomeStatus = "conflict"
	StatusRejected     OutcomeStatus = "rejected"
	StatusNetworkError OutcomeStatus = "network_error"
)

// Outcome is the result of pushing one envelope. Remote is set only for
// conflicts and holds the authoritative value; Reason only for rejections.
type Outcome struct {
	Status OutcomeStatus
	Remote *Envelope
	Reason string
}

// Accepted builds a success outcome.
func Accepted() Outcome {
	return Outcome{Status: StatusAccepted}
}

// Conflict builds a conflict outcome carrying the authoritative remote value.
func Conflict(remote Envelope) Outcome {
	return Outcome{Status: StatusConflict, Remote: &remote}
}

// Rejected builds a rejection outcome.
func Rejected(reason string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason}
}

// NetworkError builds the unreachable-backend outcome; the write stays queued.
func NetworkError() Outcome {
	return Outcome{Status: StatusNetworkError}
}

// Backend is the core-facing contract of the remote source of truth.
type Backend interface {
	// Push sends one entity state. All remote-side conditions are reported
	// through the Outcome; the error return is reserved for local failures
	// such as context cancellation.
	Push(ctx context.Context, env Envelope) (Outcome, error)
	// Fetch returns the authoritative record for a ref. Missing entities
	// surface as core.ErrNotFound, unreachable backends as
	// core.ErrNetworkUnavailable.
	Fetch(ctx context.Context, ref core.EntityRef) (Envelope, error)
}

// ConflictError surfaces a synced-with-conflict diagnostic: the local cache
// was overwritten with the authoritative remote value and the user's local
// mutation was not replayed.
type ConflictError struct {
	Ref    core.EntityRef
	Remote Envelope
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync conflict on %s: local value overwritten by remote version %d",
		e.Ref, e.Remote.Version)
}

// RejectedError is fatal for one specific write, raised after retries are
// exhausted. The local state is preserved and shown as pending sync.
type RejectedError struct {
	Ref    core.EntityRef
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote rejected %s: %s", e.Ref, e.Reason)
}
