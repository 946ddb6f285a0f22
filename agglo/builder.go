// Package agglo implements the agglomeration graph builder: it merges raw
// supervoxels into agglomerated objects by computing connected components
// over contact edges that pass the configured affinity and contact-area
// thresholds.
package agglo

import (
	"context"
	"log/slog"

	"github.com/ada52/SyConn/config"
	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/registry"
	"github.com/ada52/SyConn/types"
)

// contextCheckInterval bounds how many edges are processed between
// cancellation checks.
const contextCheckInterval = 1 << 16

// Builder computes the initial partition of supervoxels into agglomerated
// objects.
type Builder struct {
	reg    *registry.Registry
	cfg    config.AggloConfig
	logger *slog.Logger
}

// NewBuilder creates a builder over a sealed registry
func NewBuilder(reg *registry.Registry, cfg config.AggloConfig) *Builder {
	return &Builder{
		reg:    reg,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Active reports whether an edge passes the merge policy: affinity at or
// above min_affinity and contact area at or above min_contact_area.
func (b *Builder) Active(e types.ContactEdge) bool {
	return e.Affinity >= b.cfg.MinAffinity && e.ContactArea >= b.cfg.MinContactArea
}

// Build computes connected components over active edges and returns the
// resulting partition. Edges are processed in ascending edge id, which
// fixes the union order and makes output deterministic across runs on
// identical input; affinity ties need no extra tie-break because the edge
// id order already decides them.
//
// Isolated supervoxels form singleton objects. Components whose total size
// exceeds max_object_size are flagged on derivation, never split here.
func (b *Builder) Build(ctx context.Context) (*Partition, error) {
	if !b.reg.Sealed() {
		return nil, errors.WrapInvalid(errors.ErrRegistryNotSealed, "Builder", "Build", "build partition")
	}

	ids := b.reg.IDs()
	edges := b.reg.Edges()
	uf := newUnionFind(len(ids))

	merged := 0
	active := 0
	for i, e := range edges {
		if i%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, errors.WrapTransient(ctx.Err(), "Builder", "Build", "context cancelled")
			default:
			}
		}

		if !b.Active(e) {
			continue
		}
		active++

		ia, ok := b.reg.Index(e.A)
		if !ok {
			return nil, errors.WrapFatal(errors.ErrUnregisteredSupervoxel, "Builder", "Build",
				"edge endpoint missing from registry index")
		}
		ib, ok := b.reg.Index(e.B)
		if !ok {
			return nil, errors.WrapFatal(errors.ErrUnregisteredSupervoxel, "Builder", "Build",
				"edge endpoint missing from registry index")
		}
		if uf.union(int32(ia), int32(ib)) {
			merged++
		}
	}

	partition, err := NewPartitionFromRoots(b.reg, uf.roots(), b.cfg.MaxObjectSize)
	if err != nil {
		return nil, err
	}

	b.logger.Info("agglomeration complete",
		"supervoxels", len(ids),
		"edges", len(edges),
		"active_edges", active,
		"merges", merged,
		"objects", partition.ObjectCount(),
	)
	return partition, nil
}
