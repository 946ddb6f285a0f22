// Package classify implements the classification attachment layer: it
// invokes external classifier collaborators per agglomerated object and
// combines their outputs into resolved per-node and per-object labels.
// The core never fabricates classifications; collaborators that fail
// yield neutral labels and a logged soft failure.
package classify

import (
	"context"

	"github.com/ada52/SyConn/types"
)

// SkeletonClassifier scores an object from its skeleton representation.
// Implementations typically return per-node compartment labels and glia
// scores along with object-level cell-type scores.
type SkeletonClassifier interface {
	Classify(ctx context.Context, objectID types.ObjectID, nodeIDs []types.SupervoxelID) (types.ClassificationResult, error)
}

// MultiviewClassifier scores an object from rendered 2D projections.
// Multiview results are object level only.
type MultiviewClassifier interface {
	ClassifyMultiview(ctx context.Context, objectID types.ObjectID) (types.ClassificationResult, error)
}
