package types

// ConnectivityEdge is the directed relation between two resolved neuron
// objects, aggregated from per-contact synapse evidence. Edges are terminal
// outputs: immutable once emitted for a given graph snapshot and fully
// recomputed on any upstream change.
type ConnectivityEdge struct {
	PreID  ObjectID `json:"pre_id"`
	PostID ObjectID `json:"post_id"`

	SynapseCount     int     `json:"synapse_count"`
	TotalSynapseArea float64 `json:"total_synapse_area"`
	MeanConfidence   float64 `json:"mean_confidence"`

	// Directed is false when no polarity signal resolved the pair; the
	// edge is then recorded symmetrically (one entry per direction).
	Directed bool `json:"directed"`
}

// PairKey identifies an unordered object pair during aggregation
type PairKey struct {
	Lo ObjectID
	Hi ObjectID
}

// MakePairKey returns the canonical key for two object ids
func MakePairKey(a, b ObjectID) PairKey {
	if a <= b {
		return PairKey{Lo: a, Hi: b}
	}
	return PairKey{Lo: b, Hi: a}
}
