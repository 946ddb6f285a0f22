package connectivity

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/types"
)

// Dense renders the matrix as an n-by-n adjacency matrix over the given
// object ordering, with entry (i, j) holding the total synapse area from
// object order[i] onto object order[j]. Undirected pairs contribute to
// both entries. Downstream analyses (motif counting, spectral embedding)
// consume this form.
func (m *Matrix) Dense(order []types.ObjectID) (*mat.Dense, error) {
	index := make(map[types.ObjectID]int, len(order))
	for i, oid := range order {
		index[oid] = i
	}

	dense := mat.NewDense(len(order), len(order), nil)
	for _, edge := range m.Edges {
		i, okPre := index[edge.PreID]
		j, okPost := index[edge.PostID]
		if !okPre || !okPost {
			return nil, errors.WrapInvalid(errors.ErrUnregisteredSupervoxel, "Matrix", "Dense",
				fmt.Sprintf("edge %d->%d references an object outside the ordering", edge.PreID, edge.PostID))
		}
		dense.Set(i, j, dense.At(i, j)+edge.TotalSynapseArea)
	}
	return dense, nil
}

// SynapseCountMatrix is Dense over synapse counts instead of areas
func (m *Matrix) SynapseCountMatrix(order []types.ObjectID) (*mat.Dense, error) {
	index := make(map[types.ObjectID]int, len(order))
	for i, oid := range order {
		index[oid] = i
	}

	dense := mat.NewDense(len(order), len(order), nil)
	for _, edge := range m.Edges {
		i, okPre := index[edge.PreID]
		j, okPost := index[edge.PostID]
		if !okPre || !okPost {
			return nil, errors.WrapInvalid(errors.ErrUnregisteredSupervoxel, "Matrix", "SynapseCountMatrix",
				fmt.Sprintf("edge %d->%d references an object outside the ordering", edge.PreID, edge.PostID))
		}
		dense.Set(i, j, dense.At(i, j)+float64(edge.SynapseCount))
	}
	return dense, nil
}
