package agglo

import (
	"fmt"
	"sort"

	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/registry"
	"github.com/ada52/SyConn/types"
)

// Partition assigns every supervoxel to exactly one agglomerated object.
// It is a derived view over the registry: the authoritative state is a
// label array indexed by dense supervoxel index, and object structs are
// recomputed from it on demand rather than stored.
//
// Object ids are the smallest supervoxel id of each component, so two
// identical partitions always carry identical ids regardless of how they
// were produced.
type Partition struct {
	reg      *registry.Registry
	objectOf []types.ObjectID // per dense supervoxel index

	maxObjectSize int64 // oversize flag threshold; 0 disables
}

// NewPartitionFromRoots builds a partition from per-node component roots
// (dense indices), normalizing labels to min-member-id object ids.
func NewPartitionFromRoots(reg *registry.Registry, roots []int32, maxObjectSize int64) (*Partition, error) {
	ids := reg.IDs()
	if len(roots) != len(ids) {
		return nil, errors.WrapFatal(errors.ErrPartitionViolated, "Partition", "NewPartitionFromRoots",
			fmt.Sprintf("label array length %d, registry has %d supervoxels", len(roots), len(ids)))
	}

	// ids ascend with the dense index, so the first occurrence of a root
	// is its component's smallest member.
	minID := make(map[int32]types.ObjectID)
	objectOf := make([]types.ObjectID, len(ids))
	for i, root := range roots {
		oid, ok := minID[root]
		if !ok {
			oid = types.ObjectID(ids[i])
			minID[root] = oid
		}
		objectOf[i] = oid
	}

	return &Partition{
		reg:           reg,
		objectOf:      objectOf,
		maxObjectSize: maxObjectSize,
	}, nil
}

// Registry returns the underlying registry
func (p *Partition) Registry() *registry.Registry {
	return p.reg
}

// ObjectIDOf returns the object owning the given supervoxel
func (p *Partition) ObjectIDOf(id types.SupervoxelID) (types.ObjectID, bool) {
	i, ok := p.reg.Index(id)
	if !ok {
		return 0, false
	}
	return p.objectOf[i], true
}

// Labels returns the object id per dense supervoxel index. The returned
// slice is shared; callers must not mutate it.
func (p *Partition) Labels() []types.ObjectID {
	return p.objectOf
}

// ObjectCount returns the number of distinct objects
func (p *Partition) ObjectCount() int {
	seen := make(map[types.ObjectID]struct{})
	for _, oid := range p.objectOf {
		seen[oid] = struct{}{}
	}
	return len(seen)
}

// Objects derives the current object set, sorted by object id with members
// sorted ascending. Total sizes are summed from the registry; components
// exceeding the configured max object size are flagged, never split.
func (p *Partition) Objects() []*types.AgglomeratedObject {
	ids := p.reg.IDs()
	byID := make(map[types.ObjectID]*types.AgglomeratedObject)
	for i, oid := range p.objectOf {
		obj, ok := byID[oid]
		if !ok {
			obj = &types.AgglomeratedObject{ID: oid, State: types.StateStable}
			byID[oid] = obj
		}
		svID := ids[i]
		obj.Members = append(obj.Members, svID)
		if sv, ok := p.reg.Supervoxel(svID); ok {
			obj.TotalSize += sv.Size
		}
	}

	objects := make([]*types.AgglomeratedObject, 0, len(byID))
	for _, obj := range byID {
		// Members are appended in dense-index order, which ascends by id
		if p.maxObjectSize > 0 && obj.TotalSize > p.maxObjectSize {
			obj.Oversize = true
		}
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })
	return objects
}

// Object derives a single object by id, or nil when no supervoxel carries
// the label.
func (p *Partition) Object(oid types.ObjectID) *types.AgglomeratedObject {
	return p.ObjectsSubset([]types.ObjectID{oid})[oid]
}

// ObjectsSubset derives the named objects in a single pass over the label
// array, so deriving many objects costs the same as deriving one. Ids that
// label no supervoxel are absent from the result.
func (p *Partition) ObjectsSubset(oids []types.ObjectID) map[types.ObjectID]*types.AgglomeratedObject {
	want := make(map[types.ObjectID]*types.AgglomeratedObject, len(oids))
	for _, oid := range oids {
		want[oid] = nil
	}

	ids := p.reg.IDs()
	for i, label := range p.objectOf {
		obj, ok := want[label]
		if !ok {
			continue
		}
		if obj == nil {
			obj = &types.AgglomeratedObject{ID: label, State: types.StateStable}
			want[label] = obj
		}
		svID := ids[i]
		obj.Members = append(obj.Members, svID)
		if sv, ok := p.reg.Supervoxel(svID); ok {
			obj.TotalSize += sv.Size
		}
	}

	for oid, obj := range want {
		if obj == nil {
			delete(want, oid)
			continue
		}
		if p.maxObjectSize > 0 && obj.TotalSize > p.maxObjectSize {
			obj.Oversize = true
		}
	}
	return want
}

// Relabel returns a new partition with the given supervoxels reassigned.
// assignment maps dense supervoxel index to a new component key (any
// stable grouping value); ids are renormalized to min-member object ids.
// Supervoxels absent from assignment keep their current object.
func (p *Partition) Relabel(assignment map[int]int32) (*Partition, error) {
	// Compose current labels with the overrides, then renormalize through
	// a synthetic root array. Roots must be dense indices, so use each
	// group's first seen index.
	type groupKey struct {
		current types.ObjectID
		next    int32
	}
	firstIndex := make(map[groupKey]int32)
	roots := make([]int32, len(p.objectOf))
	for i, oid := range p.objectOf {
		key := groupKey{current: oid, next: -1}
		if override, ok := assignment[i]; ok {
			key.next = override
		}
		root, ok := firstIndex[key]
		if !ok {
			root = int32(i)
			firstIndex[key] = root
		}
		roots[i] = root
	}
	return NewPartitionFromRoots(p.reg, roots, p.maxObjectSize)
}

// CheckInvariant verifies that every supervoxel belongs to exactly one
// object. The label-array representation guarantees this structurally;
// the check guards against label values that name no object member (a
// bookkeeping bug, not an input error).
func (p *Partition) CheckInvariant() error {
	if len(p.objectOf) != len(p.reg.IDs()) {
		return errors.WrapFatal(errors.ErrPartitionViolated, "Partition", "CheckInvariant",
			fmt.Sprintf("%d labels for %d supervoxels", len(p.objectOf), len(p.reg.IDs())))
	}
	for i, oid := range p.objectOf {
		idx, ok := p.reg.Index(types.SupervoxelID(oid))
		if !ok {
			return errors.WrapFatal(errors.ErrPartitionViolated, "Partition", "CheckInvariant",
				fmt.Sprintf("object id %d is not a registered supervoxel", oid))
		}
		if p.objectOf[idx] != oid {
			return errors.WrapFatal(errors.ErrPartitionViolated, "Partition", "CheckInvariant",
				fmt.Sprintf("object id %d does not label its own representative (index %d)", oid, i))
		}
	}
	return nil
}
