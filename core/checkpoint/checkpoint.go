// Package checkpoint implements the Checkpointer contract (§4.8): durable,
// listable, rewindable storage of per-session DialogueState snapshots
// across four backend tiers (in-memory, embedded single-writer, relational,
// and KV cache) behind one interface and a swappable storage driver.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
)

// Snapshot is the unit the Checkpointer persists per transition: the
// serialized DialogueState plus enough control-flow metadata to resume a
// suspended graph run (§4.8).
type Snapshot struct {
	SessionID         string          `json:"session_id"`
	CheckpointID      string          `json:"checkpoint_id"`
	ParentID          string          `json:"parent_id,omitempty"`
	State             json.RawMessage `json:"state"`
	NextNode          string          `json:"next_node,omitempty"`
	PendingInterrupts json.RawMessage `json:"pending_interrupts,omitempty"`
	CreatedAt         float64         `json:"created_at"`
}

// ErrNotFound is returned by Load/Rewind when no checkpoint matches.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpointer is the storage contract every backend in this package
// implements (§4.8): load the latest snapshot, save a new one, list the
// history for audit/debugging, rewind to a prior checkpoint, and delete a
// session's history entirely (e.g. on explicit user data-deletion request).
type Checkpointer interface {
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	List(ctx context.Context, sessionID string) ([]*Snapshot, error)
	Rewind(ctx context.Context, sessionID, checkpointID string) (*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}
