package model

import "time"

// CheckpointKind separates the live and backfill progress cursors for a
// scope. The two kinds are independent rows so cursor monotonicity holds
// per kind even when both paths write the same scope concurrently.
type CheckpointKind string

const (
	CheckpointLive     CheckpointKind = "live"
	CheckpointBackfill CheckpointKind = "backfill"
)

// String returns the string representation of the checkpoint kind.
func (k CheckpointKind) String() string {
	return string(k)
}

// IsValid checks whether the kind is a known value.
func (k CheckpointKind) IsValid() bool {
	switch k {
	case CheckpointLive, CheckpointBackfill:
		return true
	}
	return false
}

// Checkpoint is the durable progress record for one (scope, kind) pair.
// Created lazily on first write for a scope and never deleted by the
// pipeline.
type Checkpoint struct {
	ScopeID string         `json:"scope_id"`
	Kind    CheckpointKind `json:"kind"`

	LastProcessedID string    `json:"last_processed_id,omitempty"`
	LastProcessedAt time.Time `json:"last_processed_at,omitempty"`
	TotalProcessed  int64     `json:"total_processed"`

	// BackfillInProgress is the durable mutual-exclusion flag for backfill
	// runs; it is flipped with a compare-and-swap so two processes sharing
	// the store cannot both start a run for the same scope.
	BackfillInProgress      bool       `json:"backfill_in_progress"`
	LastBackfillCompletedAt *time.Time `json:"last_backfill_completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
