// Package registry implements the canonical store of supervoxel identities
// and their contact evidence. The registry is the immutable input arena of
// the pipeline: records are added during loading, the registry is sealed
// once, and every derived structure downstream (partitions, labels,
// connectivity) is recomputed from it rather than patched in place.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/types"
)

type pairKey struct {
	a, b types.SupervoxelID // a < b
}

// pendingContact is one merged-in-progress edge plus per-direction
// polarity tallies. Tallies accumulate commutatively, so the polarity
// resolved at seal time does not depend on contact arrival order.
type pendingContact struct {
	edge types.ContactEdge

	abArea, baArea   float64
	abCount, baCount int
}

func (p *pendingContact) tally(syn *types.SynapseEvidence) {
	if syn == nil {
		return
	}
	switch syn.Polarity {
	case types.PolarityAToB:
		p.abArea += syn.Area
		p.abCount++
	case types.PolarityBToA:
		p.baArea += syn.Area
		p.baCount++
	}
}

// resolvePolarity picks the direction with the larger synapse-area tally,
// falling back to record counts when areas tie. A full tie is unknown.
func (p *pendingContact) resolvePolarity() types.Polarity {
	switch {
	case p.abArea > p.baArea:
		return types.PolarityAToB
	case p.baArea > p.abArea:
		return types.PolarityBToA
	case p.abCount > p.baCount:
		return types.PolarityAToB
	case p.baCount > p.abCount:
		return types.PolarityBToA
	default:
		return types.PolarityUnknown
	}
}

// Registry holds supervoxels and merged contact edges. Safe for concurrent
// reads after Seal; loading is expected to be single-writer.
type Registry struct {
	mu     sync.RWMutex
	sealed bool

	supervoxels map[types.SupervoxelID]types.Supervoxel
	pending     map[pairKey]*pendingContact

	// Populated at seal time
	ids       []types.SupervoxelID // ascending
	index     map[types.SupervoxelID]int
	edges     []types.ContactEdge // ascending (A, B); slice index == EdgeID
	adjacency [][]types.EdgeID    // per dense supervoxel index
	totalSize int64
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		supervoxels: make(map[types.SupervoxelID]types.Supervoxel),
		pending:     make(map[pairKey]*pendingContact),
	}
}

// Add registers a supervoxel. Duplicate ids and malformed records are
// input inconsistencies and fail fatally.
func (r *Registry) Add(sv types.Supervoxel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.WrapInvalid(errors.ErrRegistrySealed, "Registry", "Add", "register supervoxel")
	}
	if err := sv.Validate(); err != nil {
		return err
	}
	if _, exists := r.supervoxels[sv.ID]; exists {
		return errors.WrapFatal(errors.ErrDuplicateSupervoxel, "Registry", "Add",
			fmt.Sprintf("supervoxel %d", sv.ID))
	}

	r.supervoxels[sv.ID] = sv
	return nil
}

// AddContact records a contact between two supervoxels. Parallel contacts
// between the same pair merge additively: areas and synapse evidence sum,
// affinity combines as the contact-area-weighted mean, and polarity is
// resolved at Seal from per-direction tallies. Referential
// validation against registered supervoxels happens at Seal, so contacts
// may arrive in any order relative to their endpoints.
func (r *Registry) AddContact(e types.ContactEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.WrapInvalid(errors.ErrRegistrySealed, "Registry", "AddContact", "register contact")
	}
	if err := e.Validate(); err != nil {
		return err
	}

	e = e.Canonical()
	key := pairKey{a: e.A, b: e.B}

	existing, ok := r.pending[key]
	if !ok {
		pc := &pendingContact{edge: e}
		pc.tally(e.Synapse)
		r.pending[key] = pc
		return nil
	}

	existing.edge = mergeContacts(existing.edge, e)
	existing.tally(e.Synapse)
	return nil
}

// mergeContacts combines two canonical edges over the same pair. Polarity
// is left to the direction tallies and resolved at Seal.
func mergeContacts(a, b types.ContactEdge) types.ContactEdge {
	merged := a

	totalArea := a.ContactArea + b.ContactArea
	if totalArea > 0 {
		merged.Affinity = (a.Affinity*a.ContactArea + b.Affinity*b.ContactArea) / totalArea
	} else {
		merged.Affinity = (a.Affinity + b.Affinity) / 2
	}
	merged.ContactArea = totalArea

	switch {
	case a.Synapse == nil:
		merged.Synapse = b.Synapse
	case b.Synapse == nil:
		merged.Synapse = a.Synapse
	default:
		syn := types.SynapseEvidence{
			Area:        a.Synapse.Area + b.Synapse.Area,
			Count:       a.Synapse.Count + b.Synapse.Count,
			Probability: a.Synapse.Probability,
		}
		if b.Synapse.Probability > syn.Probability {
			syn.Probability = b.Synapse.Probability
		}
		merged.Synapse = &syn
	}

	return merged
}

// Seal validates referential integrity, assigns deterministic edge ids and
// freezes the registry. A contact referencing an unregistered supervoxel
// is an input inconsistency and aborts the run.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.WrapInvalid(errors.ErrRegistrySealed, "Registry", "Seal", "seal registry")
	}

	for key := range r.pending {
		if _, ok := r.supervoxels[key.a]; !ok {
			return errors.WrapFatal(errors.ErrUnregisteredSupervoxel, "Registry", "Seal",
				fmt.Sprintf("contact %d-%d references %d", key.a, key.b, key.a))
		}
		if _, ok := r.supervoxels[key.b]; !ok {
			return errors.WrapFatal(errors.ErrUnregisteredSupervoxel, "Registry", "Seal",
				fmt.Sprintf("contact %d-%d references %d", key.a, key.b, key.b))
		}
	}

	// Dense supervoxel index in ascending id order
	r.ids = make([]types.SupervoxelID, 0, len(r.supervoxels))
	for id, sv := range r.supervoxels {
		r.ids = append(r.ids, id)
		r.totalSize += sv.Size
	}
	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	r.index = make(map[types.SupervoxelID]int, len(r.ids))
	for i, id := range r.ids {
		r.index[id] = i
	}

	// Edge ids ascend in canonical (A, B) order: identical input always
	// yields identical edge ordering, which downstream union-find relies
	// on for reproducibility.
	r.edges = make([]types.ContactEdge, 0, len(r.pending))
	for _, pc := range r.pending {
		e := pc.edge
		if e.Synapse != nil {
			syn := *e.Synapse
			syn.Polarity = pc.resolvePolarity()
			e.Synapse = &syn
		}
		r.edges = append(r.edges, e)
	}
	sort.Slice(r.edges, func(i, j int) bool {
		if r.edges[i].A != r.edges[j].A {
			return r.edges[i].A < r.edges[j].A
		}
		return r.edges[i].B < r.edges[j].B
	})
	for i := range r.edges {
		r.edges[i].ID = types.EdgeID(i)
	}

	r.adjacency = make([][]types.EdgeID, len(r.ids))
	for _, e := range r.edges {
		ia := r.index[e.A]
		ib := r.index[e.B]
		r.adjacency[ia] = append(r.adjacency[ia], e.ID)
		r.adjacency[ib] = append(r.adjacency[ib], e.ID)
	}

	r.pending = nil
	r.sealed = true
	return nil
}

// Sealed reports whether the registry has been sealed
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Count returns the number of registered supervoxels
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.supervoxels)
}

// EdgeCount returns the number of merged contact edges. Zero before Seal.
func (r *Registry) EdgeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.edges)
}

// TotalSize returns the summed voxel count of all supervoxels. Zero before
// Seal.
func (r *Registry) TotalSize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalSize
}

// Supervoxel returns the record for an id
func (r *Registry) Supervoxel(id types.SupervoxelID) (types.Supervoxel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sv, ok := r.supervoxels[id]
	return sv, ok
}

// IDs returns all supervoxel ids in ascending order. The returned slice is
// shared; callers must not mutate it. Nil before Seal.
func (r *Registry) IDs() []types.SupervoxelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids
}

// Index returns the dense index of a supervoxel id
func (r *Registry) Index(id types.SupervoxelID) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	return i, ok
}

// IDAt returns the supervoxel id at a dense index
func (r *Registry) IDAt(i int) types.SupervoxelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids[i]
}

// Edges returns all contact edges in ascending edge-id order. The returned
// slice is shared; callers must not mutate it. Nil before Seal.
func (r *Registry) Edges() []types.ContactEdge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.edges
}

// Edge returns the contact edge with the given id
func (r *Registry) Edge(id types.EdgeID) (types.ContactEdge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.edges) {
		return types.ContactEdge{}, false
	}
	return r.edges[id], true
}

// EdgesOf returns the edge ids incident to a supervoxel. The returned
// slice is shared; callers must not mutate it.
func (r *Registry) EdgesOf(id types.SupervoxelID) []types.EdgeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return nil
	}
	return r.adjacency[i]
}
