package types

import (
	"fmt"

	"github.com/ada52/SyConn/errors"
)

// Compartment is a sub-cellular region label
type Compartment string

// Compartment constants
const (
	CompartmentAxon     Compartment = "axon"
	CompartmentDendrite Compartment = "dendrite"
	CompartmentSoma     Compartment = "soma"
	CompartmentSpine    Compartment = "spine"
	CompartmentUnknown  Compartment = "unknown"
)

// Compartments lists all valid compartment labels in a fixed order, used
// for deterministic iteration over histograms.
var Compartments = []Compartment{
	CompartmentAxon,
	CompartmentDendrite,
	CompartmentSoma,
	CompartmentSpine,
	CompartmentUnknown,
}

// Valid reports whether the compartment is one of the known labels
func (c Compartment) Valid() bool {
	switch c {
	case CompartmentAxon, CompartmentDendrite, CompartmentSoma,
		CompartmentSpine, CompartmentUnknown:
		return true
	default:
		return false
	}
}

// CellType is a morphological cell class
type CellType string

// CellType constants. The set follows the classes distinguished by the
// upstream cell-type classifiers for the target datasets.
const (
	CellTypeExcitatory  CellType = "excitatory_axon"
	CellTypeMSN         CellType = "msn"
	CellTypePallidal    CellType = "pallidal"
	CellTypeInterneuron CellType = "interneuron"
	CellTypeGlia        CellType = "glia"
	CellTypeUnknown     CellType = "unknown"
)

// CellTypes lists all valid cell types in a fixed order
var CellTypes = []CellType{
	CellTypeExcitatory,
	CellTypeMSN,
	CellTypePallidal,
	CellTypeInterneuron,
	CellTypeGlia,
	CellTypeUnknown,
}

// CellTypeScores maps each cell type to a classifier score
type CellTypeScores map[CellType]float64

// Best returns the cell type with the highest score. Ties and empty score
// sets resolve to CellTypeUnknown.
func (s CellTypeScores) Best() CellType {
	best := CellTypeUnknown
	bestScore := 0.0
	tie := false
	for _, ct := range CellTypes {
		score, ok := s[ct]
		if !ok {
			continue
		}
		if score > bestScore {
			best = ct
			bestScore = score
			tie = false
		} else if score == bestScore && bestScore > 0 {
			tie = true
		}
	}
	if tie {
		return CellTypeUnknown
	}
	return best
}

// ClassifierSource identifies which collaborator produced a result
type ClassifierSource string

// ClassifierSource constants
const (
	SourceSkeleton  ClassifierSource = "skeleton"
	SourceMultiview ClassifierSource = "multiview"
)

// ClassificationResult is one collaborator's label set for an object.
// Compartment labels and glia scores are per constituent supervoxel;
// cell-type scores and the object glia score are object level. Results are
// attached by the classification layer, never fabricated by the core.
type ClassificationResult struct {
	ObjectID ObjectID         `json:"object_id"`
	Source   ClassifierSource `json:"source"`

	// Per-node labels. Either map may be nil for collaborators that only
	// score at the object level (the multiview classifier).
	Compartments   map[SupervoxelID]Compartment `json:"compartments,omitempty"`
	NodeGliaScores map[SupervoxelID]float64     `json:"node_glia_scores,omitempty"`

	CellTypeScores CellTypeScores `json:"cell_type_scores,omitempty"`
	GliaScore      float64        `json:"glia_score"`
	Confidence     float64        `json:"confidence"`
}

// Validate ensures all scores are in range
func (r ClassificationResult) Validate() error {
	if r.GliaScore < 0 || r.GliaScore > 1 {
		return errors.WrapFatal(errors.ErrScoreOutOfRange, "ClassificationResult", "Validate",
			fmt.Sprintf("glia score %f outside [0,1] for object %d", r.GliaScore, r.ObjectID))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.WrapFatal(errors.ErrScoreOutOfRange, "ClassificationResult", "Validate",
			fmt.Sprintf("confidence %f outside [0,1] for object %d", r.Confidence, r.ObjectID))
	}
	for id, score := range r.NodeGliaScores {
		if score < 0 || score > 1 {
			return errors.WrapFatal(errors.ErrScoreOutOfRange, "ClassificationResult", "Validate",
				fmt.Sprintf("node glia score %f outside [0,1] for supervoxel %d", score, id))
		}
	}
	for id, comp := range r.Compartments {
		if !comp.Valid() {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "ClassificationResult", "Validate",
				fmt.Sprintf("unknown compartment %q for supervoxel %d", comp, id))
		}
	}
	return nil
}

// NeutralResult returns the neutral label set attached when a collaborator
// fails soft: unknown compartments, 0.5 glia score, zero confidence.
func NeutralResult(objectID ObjectID, source ClassifierSource) ClassificationResult {
	return ClassificationResult{
		ObjectID:   objectID,
		Source:     source,
		GliaScore:  0.5,
		Confidence: 0,
	}
}
