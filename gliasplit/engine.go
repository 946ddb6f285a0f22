// Package gliasplit implements the glia-aware splitting engine. Objects
// that agglomeration merged across a neuron/glia boundary are detected
// from their per-node glia scores and split back apart by cutting the
// edges that bridge the two identities. Splitting only ever removes edges
// from an object's subgraph; it never merges.
package gliasplit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ada52/SyConn/agglo"
	"github.com/ada52/SyConn/classify"
	"github.com/ada52/SyConn/config"
	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/metric"
	"github.com/ada52/SyConn/registry"
	"github.com/ada52/SyConn/types"
)

// Reclassifier re-attaches labels to the objects a split round produced.
// The engine calls it after every relabel so that per-node glia scores
// reflect the new object boundaries before the next round.
type Reclassifier func(ctx context.Context, objects []*types.AgglomeratedObject) error

// Result is the outcome of a full splitting run
type Result struct {
	// Partition is the final partition after all split rounds
	Partition *agglo.Partition

	// Objects is the final object set, sorted by id, with classification
	// caches, states and split bookkeeping populated.
	Objects []*types.AgglomeratedObject

	// Unresolved lists objects still unstable when the run ended, either
	// because the iteration cap was reached or because no cut separated
	// their identities.
	Unresolved []types.ObjectID

	Rounds       int `json:"rounds"`
	ObjectsSplit int `json:"objects_split"`
}

// Engine drives the split loop over a partition
type Engine struct {
	reg     *registry.Registry
	builder *agglo.Builder
	cfg     config.GliaConfig

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine's logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics wires the engine to the pipeline's metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a splitting engine. The agglomeration thresholds are
// needed because a split only considers edges that were active at build
// time: inactive contacts never held the object together in the first
// place.
func NewEngine(reg *registry.Registry, gliaCfg config.GliaConfig, aggloCfg config.AggloConfig, opts ...Option) *Engine {
	e := &Engine{
		reg:     reg,
		builder: agglo.NewBuilder(reg, aggloCfg),
		cfg:     gliaCfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes split rounds until every object is stable, no further cut
// is possible, or the iteration cap is reached. The objects slice must
// carry fresh classification caches and labels must hold the matching
// per-node scores; reclassify is invoked on the children of every round.
func (e *Engine) Run(ctx context.Context, partition *agglo.Partition, objects []*types.AgglomeratedObject, labels *classify.LabelSet, reclassify Reclassifier) (*Result, error) {
	current := make(map[types.ObjectID]*types.AgglomeratedObject, len(objects))
	for _, obj := range objects {
		current[obj.ID] = obj
	}

	result := &Result{}
	worklist := objects

	for round := 1; len(worklist) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapTransient(err, "Engine", "Run", "split loop cancelled")
		}

		var unstable []*types.AgglomeratedObject
		for _, obj := range worklist {
			if e.Unstable(obj, labels) {
				obj.State = types.StateSplitPending
				unstable = append(unstable, obj)
			} else {
				obj.State = types.StateStable
			}
		}
		if len(unstable) == 0 {
			break
		}

		if round > e.cfg.MaxSplitIterations {
			for _, obj := range unstable {
				e.markUnresolved(obj, result, fmt.Sprintf(
					"still unstable after %d split iterations: %v",
					e.cfg.MaxSplitIterations, errors.ErrSplitCapReached))
			}
			break
		}

		result.Rounds++
		if e.metrics != nil {
			e.metrics.SplitRounds.Inc()
		}

		assignment := make(map[int]int32)
		nextKey := int32(0)
		var parents []*types.AgglomeratedObject
		for _, obj := range unstable {
			comps := e.components(obj, labels)
			if len(comps) <= 1 {
				// no active edge bridges the identities loosely enough to
				// cut; the object cannot be separated
				e.markUnresolved(obj, result,
					"unstable object has no separating cut")
				continue
			}
			for _, comp := range comps {
				for _, idx := range comp {
					assignment[idx] = nextKey
				}
				nextKey++
			}
			parents = append(parents, obj)
		}
		if len(parents) == 0 {
			break
		}

		next, err := partition.Relabel(assignment)
		if err != nil {
			return nil, err
		}
		partition = next

		// One pass over the label array derives all of this round's
		// children, regardless of how many parents were cut.
		childIDs := make([][]types.ObjectID, len(parents))
		var allIDs []types.ObjectID
		for i, parent := range parents {
			childIDs[i] = childIDsOf(partition, parent)
			allIDs = append(allIDs, childIDs[i]...)
		}
		children := partition.ObjectsSubset(allIDs)

		worklist = nil
		for i, parent := range parents {
			delete(current, parent.ID)
			for _, cid := range childIDs[i] {
				child := children[cid]
				child.SplitIterations = parent.SplitIterations + 1
				current[child.ID] = child
				worklist = append(worklist, child)
			}
			result.ObjectsSplit++
			if e.metrics != nil {
				e.metrics.ObjectsSplit.Inc()
			}
		}

		e.logger.Info("split round complete",
			"round", round,
			"objects_split", len(parents),
			"children", len(worklist))

		if err := reclassify(ctx, worklist); err != nil {
			return nil, err
		}
	}

	if e.metrics != nil {
		e.metrics.UnresolvedObjects.Set(float64(len(result.Unresolved)))
	}

	result.Partition = partition
	result.Objects = make([]*types.AgglomeratedObject, 0, len(current))
	for _, obj := range current {
		result.Objects = append(result.Objects, obj)
	}
	sort.Slice(result.Objects, func(i, j int) bool {
		return result.Objects[i].ID < result.Objects[j].ID
	})
	sort.Slice(result.Unresolved, func(i, j int) bool {
		return result.Unresolved[i] < result.Unresolved[j]
	})
	return result, nil
}

func (e *Engine) markUnresolved(obj *types.AgglomeratedObject, result *Result, warning string) {
	obj.State = types.StateUnresolved
	obj.Warnings = append(obj.Warnings, warning)
	result.Unresolved = append(result.Unresolved, obj.ID)
	e.logger.Warn("object left unresolved", "object_id", obj.ID, "reason", warning)
}

// Unstable reports whether an object mixes identities: both its glia-like
// mass fraction (nodes at or above the high threshold) and its neuron-like
// mass fraction (nodes at or below the low threshold) must reach the
// configured minimum fraction. Mass is voxel count.
func (e *Engine) Unstable(obj *types.AgglomeratedObject, labels *classify.LabelSet) bool {
	var gliaMass, neuronMass, totalMass float64
	for _, id := range obj.Members {
		sv, ok := e.reg.Supervoxel(id)
		if !ok {
			continue
		}
		mass := float64(sv.Size)
		totalMass += mass
		score := labels.GliaScoreOf(id)
		switch {
		case score >= e.cfg.HighThreshold:
			gliaMass += mass
		case score <= e.cfg.LowThreshold:
			neuronMass += mass
		}
	}
	if totalMass == 0 {
		return false
	}
	return gliaMass/totalMass >= e.cfg.MinFraction &&
		neuronMass/totalMass >= e.cfg.MinFraction
}

// components returns the connected components of the object's subgraph
// after cutting bridge edges. An edge survives the cut when it was active
// at build time and its endpoints' glia scores differ by at most the
// configured delta. Components are returned as dense supervoxel indices.
func (e *Engine) components(obj *types.AgglomeratedObject, labels *classify.LabelSet) [][]int {
	visited := make(map[types.SupervoxelID]bool, len(obj.Members))
	var comps [][]int

	for _, start := range obj.Members {
		if visited[start] {
			continue
		}
		var comp []int
		queue := []types.SupervoxelID{start}
		visited[start] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			idx, ok := e.reg.Index(id)
			if !ok {
				continue
			}
			comp = append(comp, idx)

			for _, eid := range e.reg.EdgesOf(id) {
				edge, ok := e.reg.Edge(eid)
				if !ok || !e.builder.Active(edge) {
					continue
				}
				other, ok := edge.Other(id)
				if !ok || visited[other] || !obj.Contains(other) {
					continue
				}
				diff := labels.GliaScoreOf(id) - labels.GliaScoreOf(other)
				if diff < 0 {
					diff = -diff
				}
				if diff > e.cfg.SplitEdgeDelta {
					continue
				}
				visited[other] = true
				queue = append(queue, other)
			}
		}
		comps = append(comps, comp)
	}
	return comps
}

// childIDsOf lists the objects now covering a split parent's members
func childIDsOf(partition *agglo.Partition, parent *types.AgglomeratedObject) []types.ObjectID {
	seen := make(map[types.ObjectID]bool)
	var children []types.ObjectID
	for _, id := range parent.Members {
		oid, ok := partition.ObjectIDOf(id)
		if !ok || seen[oid] {
			continue
		}
		seen[oid] = true
		children = append(children, oid)
	}
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	return children
}
