package types

// ObjectID identifies an agglomerated object. Object ids are derived, not
// allocated: an object's id is the smallest supervoxel id among its
// members, so identical partitions always carry identical ids.
type ObjectID uint64

// ObjectState tracks an object through the glia-splitting state machine:
// stable -> split-pending -> stable, or unresolved when the iteration cap
// is reached before the object stabilizes.
type ObjectState int

// ObjectState constants
const (
	StateStable ObjectState = iota
	StateSplitPending
	StateUnresolved
)

// String returns the string representation of ObjectState
func (s ObjectState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateSplitPending:
		return "split-pending"
	case StateUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// AgglomeratedObject is one connected component of the agglomeration graph
// after threshold merging. Objects are derived views: they are recomputed
// from the registry and the current partition whenever the graph changes,
// never stored authoritatively.
//
// The aggregate label fields are caches populated by the classification
// layer; they are zero until the first classification pass over the
// object.
type AgglomeratedObject struct {
	ID      ObjectID       `json:"id"`
	Members []SupervoxelID `json:"members"` // sorted ascending

	TotalSize int64 `json:"total_size"` // summed voxel counts

	// Oversize marks components whose total size exceeded the configured
	// max_object_size at build time. The builder only flags; splitting
	// oversize objects is the glia engine's (or an operator's) call.
	Oversize bool `json:"oversize,omitempty"`

	// Cached aggregate labels
	CompartmentHistogram map[Compartment]float64 `json:"compartment_histogram,omitempty"` // voxel-size weighted
	CellTypeScores       CellTypeScores          `json:"cell_type_scores,omitempty"`
	GliaScore            float64                 `json:"glia_score"`
	Confidence           float64                 `json:"confidence"`

	State ObjectState `json:"state"`

	// SplitIterations counts how many split rounds touched this object's
	// ancestry; Warnings carries non-fatal annotations such as the split
	// cap being reached.
	SplitIterations int      `json:"split_iterations,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Contains reports whether the object holds the given supervoxel.
// Members are sorted, so this is a binary search.
func (o *AgglomeratedObject) Contains(id SupervoxelID) bool {
	lo, hi := 0, len(o.Members)
	for lo < hi {
		mid := (lo + hi) / 2
		if o.Members[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(o.Members) && o.Members[lo] == id
}

// DominantCompartment returns the compartment accounting for the largest
// share of the object's mass, or CompartmentUnknown for an empty histogram.
func (o *AgglomeratedObject) DominantCompartment() Compartment {
	best := CompartmentUnknown
	bestMass := 0.0
	for _, comp := range Compartments {
		if mass := o.CompartmentHistogram[comp]; mass > bestMass {
			best = comp
			bestMass = mass
		}
	}
	return best
}

// IsGlia reports whether the object's resolved identity is glial under the
// given high threshold.
func (o *AgglomeratedObject) IsGlia(gliaHighThreshold float64) bool {
	return o.GliaScore >= gliaHighThreshold
}
