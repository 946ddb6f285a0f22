// Package storage persists graph snapshots. A snapshot is the complete
// output of one pipeline run keyed by run id: the partition label array,
// the resolved object set and the derived connectivity edges. The in-memory
// store backs single-process runs and tests; the KV store persists runs to
// NATS JetStream for downstream consumers.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/types"
)

// Snapshot is one complete pipeline output
type Snapshot struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	// Labels is the object id per dense supervoxel index, in the same
	// ascending-id order the registry assigns.
	Supervoxels int              `json:"supervoxels"`
	Labels      []types.ObjectID `json:"labels"`

	Objects    []*types.AgglomeratedObject `json:"objects"`
	Edges      []types.ConnectivityEdge    `json:"edges"`
	Unresolved []types.ObjectID            `json:"unresolved,omitempty"`

	// Report carries the run report as produced by the pipeline, opaque
	// to the store.
	Report json.RawMessage `json:"report,omitempty"`
}

// Validate checks snapshot integrity before persistence
func (s *Snapshot) Validate() error {
	if s == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Snapshot", "Validate", "snapshot is nil")
	}
	if s.RunID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Snapshot", "Validate", "run id is empty")
	}
	if len(s.Labels) != s.Supervoxels {
		return errors.WrapFatal(errors.ErrPartitionViolated, "Snapshot", "Validate",
			"label array does not cover the supervoxel set")
	}
	return nil
}

// SnapshotStore persists and retrieves pipeline snapshots
type SnapshotStore interface {
	// Save persists a snapshot and marks it as the latest run
	Save(ctx context.Context, snapshot *Snapshot) error

	// Get retrieves a snapshot by run id. Missing runs wrap
	// errors.ErrSnapshotNotFound.
	Get(ctx context.Context, runID string) (*Snapshot, error)

	// Latest retrieves the most recently saved snapshot
	Latest(ctx context.Context) (*Snapshot, error)

	// List returns all stored run ids, oldest first
	List(ctx context.Context) ([]string, error)

	// Delete removes a snapshot. Deleting a missing run is not an error.
	Delete(ctx context.Context, runID string) error

	// Clear removes all snapshots
	Clear(ctx context.Context) error
}
