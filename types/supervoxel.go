// Package types contains shared domain types used across the SyConn pipeline
package types

import (
	"fmt"

	"github.com/ada52/SyConn/errors"
)

// SupervoxelID identifies a single supervoxel, the minimal atomic segmented
// unit produced by upstream EM segmentation.
type SupervoxelID uint64

// EdgeID identifies a contact edge. Ids are dense and assigned in canonical
// (min, max) endpoint order when the registry is sealed, which is what makes
// edge-ordered processing deterministic across runs.
type EdgeID uint32

// Supervoxel is the immutable record of one supervoxel as registered from
// upstream extraction. Mesh and skeleton handles are opaque to the core;
// they are carried through for classifier collaborators and downstream
// tooling.
type Supervoxel struct {
	ID   SupervoxelID `json:"id"`
	Size int64        `json:"size"` // voxel count

	// Opaque artifact handles (e.g. object-store keys). May be empty.
	MeshHandle     string `json:"mesh_handle,omitempty"`
	SkeletonHandle string `json:"skeleton_handle,omitempty"`
}

// Validate ensures the supervoxel record is well formed
func (sv Supervoxel) Validate() error {
	if sv.Size < 0 {
		return errors.WrapFatal(errors.ErrNegativeQuantity, "Supervoxel", "Validate",
			fmt.Sprintf("supervoxel %d has negative size %d", sv.ID, sv.Size))
	}
	return nil
}

// Polarity is the direction signal carried by synapse evidence. It is an
// external collaborator output; the core never fabricates it.
type Polarity int

// Polarity constants. AToB means the first (lower-id) endpoint of the
// canonical edge is presynaptic.
const (
	PolarityUnknown Polarity = iota
	PolarityAToB
	PolarityBToA
)

// String returns the string representation of Polarity
func (p Polarity) String() string {
	switch p {
	case PolarityAToB:
		return "a_to_b"
	case PolarityBToA:
		return "b_to_a"
	default:
		return "unknown"
	}
}

// SynapseEvidence is the per-contact synapse signal attached to a contact
// edge by upstream synapse detection.
type SynapseEvidence struct {
	Probability float64  `json:"probability"` // in [0,1]
	Area        float64  `json:"area"`        // summed synaptic junction area
	Count       int      `json:"count"`       // number of detected synapses
	Polarity    Polarity `json:"polarity"`
}

// Validate ensures the evidence is well formed
func (se SynapseEvidence) Validate() error {
	if se.Probability < 0 || se.Probability > 1 {
		return errors.WrapFatal(errors.ErrScoreOutOfRange, "SynapseEvidence", "Validate",
			fmt.Sprintf("synapse probability %f outside [0,1]", se.Probability))
	}
	if se.Area < 0 || se.Count < 0 {
		return errors.WrapFatal(errors.ErrNegativeQuantity, "SynapseEvidence", "Validate",
			"synapse area and count must be non-negative")
	}
	return nil
}

// ContactEdge is the undirected relation between two supervoxels. A and B
// are stored in canonical order (A < B). Multiple raw contacts between the
// same pair never coexist: the registry merges them additively on
// construction.
type ContactEdge struct {
	ID EdgeID `json:"id"`

	A SupervoxelID `json:"a"`
	B SupervoxelID `json:"b"`

	ContactArea float64 `json:"contact_area"`
	Affinity    float64 `json:"affinity"` // P(same object), in [0,1]

	Synapse *SynapseEvidence `json:"synapse,omitempty"`
}

// Canonical returns the edge with endpoints in (min, max) order, flipping
// synapse polarity when the endpoints swap.
func (e ContactEdge) Canonical() ContactEdge {
	if e.A <= e.B {
		return e
	}
	e.A, e.B = e.B, e.A
	if e.Synapse != nil {
		flipped := *e.Synapse
		switch flipped.Polarity {
		case PolarityAToB:
			flipped.Polarity = PolarityBToA
		case PolarityBToA:
			flipped.Polarity = PolarityAToB
		}
		e.Synapse = &flipped
	}
	return e
}

// Other returns the opposite endpoint of the edge, or false when id is not
// an endpoint.
func (e ContactEdge) Other(id SupervoxelID) (SupervoxelID, bool) {
	switch id {
	case e.A:
		return e.B, true
	case e.B:
		return e.A, true
	default:
		return 0, false
	}
}

// HasSynapse reports whether the edge carries non-zero synapse evidence
func (e ContactEdge) HasSynapse() bool {
	return e.Synapse != nil && e.Synapse.Count > 0
}

// Validate ensures the contact edge is well formed
func (e ContactEdge) Validate() error {
	if e.A == e.B {
		return errors.WrapFatal(errors.ErrSelfContact, "ContactEdge", "Validate",
			fmt.Sprintf("contact references supervoxel %d on both sides", e.A))
	}
	if e.Affinity < 0 || e.Affinity > 1 {
		return errors.WrapFatal(errors.ErrScoreOutOfRange, "ContactEdge", "Validate",
			fmt.Sprintf("affinity %f outside [0,1] on edge %d-%d", e.Affinity, e.A, e.B))
	}
	if e.ContactArea < 0 {
		return errors.WrapFatal(errors.ErrNegativeQuantity, "ContactEdge", "Validate",
			fmt.Sprintf("negative contact area on edge %d-%d", e.A, e.B))
	}
	if e.Synapse != nil {
		if err := e.Synapse.Validate(); err != nil {
			return err
		}
	}
	return nil
}
