package gliasplit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ada52/SyConn/agglo"
	"github.com/ada52/SyConn/classify"
	"github.com/ada52/SyConn/config"
	"github.com/ada52/SyConn/registry"
	"github.com/ada52/SyConn/types"
)

func buildRegistry(t *testing.T, sizes map[types.SupervoxelID]int64, edges []types.ContactEdge) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for id, size := range sizes {
		require.NoError(t, reg.Add(types.Supervoxel{ID: id, Size: size}))
	}
	for _, e := range edges {
		require.NoError(t, reg.AddContact(e))
	}
	require.NoError(t, reg.Seal())
	return reg
}

func buildPartition(t *testing.T, reg *registry.Registry, aggloCfg config.AggloConfig) (*agglo.Partition, []*types.AgglomeratedObject) {
	t.Helper()
	partition, err := agglo.NewBuilder(reg, aggloCfg).Build(context.Background())
	require.NoError(t, err)
	return partition, partition.Objects()
}

func labelSet(scores map[types.SupervoxelID]float64) *classify.LabelSet {
	labels := classify.NewLabelSet()
	for id, score := range scores {
		labels.Set(id, types.CompartmentUnknown, score)
	}
	return labels
}

// noReclassify keeps the existing labels; per-node glia scores do not
// depend on object boundaries in these fixtures.
func noReclassify(_ context.Context, _ []*types.AgglomeratedObject) error {
	return nil
}

func defaultConfigs() (config.GliaConfig, config.AggloConfig) {
	return config.GliaConfig{
		HighThreshold:      0.7,
		LowThreshold:       0.3,
		MinFraction:        0.2,
		SplitEdgeDelta:     0.2,
		MaxSplitIterations: 10,
	}, config.AggloConfig{MinAffinity: 0.5, MinContactArea: 10}
}

func TestUnstableDetection(t *testing.T) {
	gliaCfg, aggloCfg := defaultConfigs()
	reg := buildRegistry(t, map[types.SupervoxelID]int64{1: 60, 2: 40}, nil)
	e := NewEngine(reg, gliaCfg, aggloCfg)

	obj := &types.AgglomeratedObject{ID: 1, Members: []types.SupervoxelID{1, 2}, TotalSize: 100}

	tests := []struct {
		name     string
		scores   map[types.SupervoxelID]float64
		unstable bool
	}{
		{
			name:     "mixed identities",
			scores:   map[types.SupervoxelID]float64{1: 0.9, 2: 0.1},
			unstable: true,
		},
		{
			name:     "all glia",
			scores:   map[types.SupervoxelID]float64{1: 0.9, 2: 0.8},
			unstable: false,
		},
		{
			name:     "all neuron",
			scores:   map[types.SupervoxelID]float64{1: 0.1, 2: 0.2},
			unstable: false,
		},
		{
			name:     "ambiguous middle band only",
			scores:   map[types.SupervoxelID]float64{1: 0.5, 2: 0.5},
			unstable: false,
		},
		{
			name:     "glia mass below min fraction",
			scores:   map[types.SupervoxelID]float64{1: 0.1, 2: 0.5},
			unstable: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unstable, e.Unstable(obj, labelSet(tt.scores)))
		})
	}
}

func TestRunSplitsMixedObject(t *testing.T) {
	// The worked example: an object where 60% of the mass scores glia-like
	// and 40% neuron-like splits into exactly two sub-objects along the
	// bridge edge whose endpoints' scores straddle the boundary.
	gliaCfg, aggloCfg := defaultConfigs()
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 30, 2: 30, 3: 20, 4: 20},
		[]types.ContactEdge{
			{A: 1, B: 2, ContactArea: 50, Affinity: 0.9}, // glia side
			{A: 2, B: 3, ContactArea: 50, Affinity: 0.9}, // bridge
			{A: 3, B: 4, ContactArea: 50, Affinity: 0.9}, // neuron side
		})
	partition, objects := buildPartition(t, reg, aggloCfg)
	require.Len(t, objects, 1)

	labels := labelSet(map[types.SupervoxelID]float64{
		1: 0.9, 2: 0.85, 3: 0.15, 4: 0.1,
	})

	e := NewEngine(reg, gliaCfg, aggloCfg)
	result, err := e.Run(context.Background(), partition, objects, labels, noReclassify)
	require.NoError(t, err)

	require.Len(t, result.Objects, 2)
	assert.Equal(t, []types.SupervoxelID{1, 2}, result.Objects[0].Members)
	assert.Equal(t, []types.SupervoxelID{3, 4}, result.Objects[1].Members)
	assert.Equal(t, types.ObjectID(1), result.Objects[0].ID)
	assert.Equal(t, types.ObjectID(3), result.Objects[1].ID)

	assert.Equal(t, 1, result.Rounds)
	assert.Equal(t, 1, result.ObjectsSplit)
	assert.Empty(t, result.Unresolved)
	for _, obj := range result.Objects {
		assert.Equal(t, types.StateStable, obj.State)
		assert.Equal(t, 1, obj.SplitIterations)
	}
	require.NoError(t, result.Partition.CheckInvariant())
}

func TestRunStableObjectUntouched(t *testing.T) {
	gliaCfg, aggloCfg := defaultConfigs()
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 50, 2: 50},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 50, Affinity: 0.9}})
	partition, objects := buildPartition(t, reg, aggloCfg)

	labels := labelSet(map[types.SupervoxelID]float64{1: 0.1, 2: 0.2})

	e := NewEngine(reg, gliaCfg, aggloCfg)
	result, err := e.Run(context.Background(), partition, objects, labels, noReclassify)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Rounds)
	assert.Equal(t, 0, result.ObjectsSplit)
	require.Len(t, result.Objects, 1)
	assert.Equal(t, types.StateStable, result.Objects[0].State)
	assert.Equal(t, []types.SupervoxelID{1, 2}, result.Objects[0].Members)
}

func TestRunInseparableObjectUnresolved(t *testing.T) {
	// Mixed identities but the connecting edge's endpoints score within
	// the delta, so no cut exists: the object stays whole and is reported
	// unresolved rather than silently accepted.
	gliaCfg, aggloCfg := defaultConfigs()
	gliaCfg.SplitEdgeDelta = 0.9
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 50, 2: 50},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 50, Affinity: 0.9}})
	partition, objects := buildPartition(t, reg, aggloCfg)

	labels := labelSet(map[types.SupervoxelID]float64{1: 0.9, 2: 0.1})

	e := NewEngine(reg, gliaCfg, aggloCfg)
	result, err := e.Run(context.Background(), partition, objects, labels, noReclassify)
	require.NoError(t, err)

	require.Len(t, result.Objects, 1)
	obj := result.Objects[0]
	assert.Equal(t, types.StateUnresolved, obj.State)
	assert.NotEmpty(t, obj.Warnings)
	assert.Equal(t, []types.ObjectID{1}, result.Unresolved)
}

func TestRunIterationCap(t *testing.T) {
	// A split whose children remain unstable exhausts the iteration cap.
	// Node scores sit exactly at the thresholds on both sides of every
	// edge, so each child keeps mixing identities but has no further cut.
	gliaCfg, aggloCfg := defaultConfigs()
	gliaCfg.MaxSplitIterations = 1
	gliaCfg.SplitEdgeDelta = 0.9

	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 50, 2: 50},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 50, Affinity: 0.9}})
	partition, objects := buildPartition(t, reg, aggloCfg)

	labels := labelSet(map[types.SupervoxelID]float64{1: 0.9, 2: 0.1})

	e := NewEngine(reg, gliaCfg, aggloCfg)
	result, err := e.Run(context.Background(), partition, objects, labels, noReclassify)
	require.NoError(t, err)

	// The object is inseparable in round one, before the cap is hit
	require.Len(t, result.Unresolved, 1)
	assert.Equal(t, types.StateUnresolved, result.Objects[0].State)
}

func TestRunCapReachedWarning(t *testing.T) {
	// A chain that splits once and leaves a still-unstable child when the
	// cap allows only a single round.
	gliaCfg, aggloCfg := defaultConfigs()
	gliaCfg.MaxSplitIterations = 1

	// 1(0.9)-2(0.1): separable. After the split both children are
	// singletons and stable, so instead make the neuron side itself
	// mixed: 1(0.9) | 2(0.1)-3(0.85) with the 2-3 edge inside the delta.
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 50, 2: 50, 3: 50},
		[]types.ContactEdge{
			{A: 1, B: 2, ContactArea: 50, Affinity: 0.9},
			{A: 2, B: 3, ContactArea: 50, Affinity: 0.9},
		})
	partition, objects := buildPartition(t, reg, aggloCfg)

	gliaCfg.SplitEdgeDelta = 0.75 // cuts 1-2 (diff 0.8), keeps 2-3 (diff 0.75)
	labels := labelSet(map[types.SupervoxelID]float64{1: 0.9, 2: 0.1, 3: 0.85})

	e := NewEngine(reg, gliaCfg, aggloCfg)
	result, err := e.Run(context.Background(), partition, objects, labels, noReclassify)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Rounds)
	require.Len(t, result.Objects, 2)

	// Child {2,3} is still mixed but the cap forbids another round
	require.Len(t, result.Unresolved, 1)
	assert.Equal(t, types.ObjectID(2), result.Unresolved[0])
	unresolved := result.Objects[1]
	assert.Equal(t, []types.SupervoxelID{2, 3}, unresolved.Members)
	assert.Equal(t, types.StateUnresolved, unresolved.State)
	assert.NotEmpty(t, unresolved.Warnings)
}

func TestRunReclassifiesChildren(t *testing.T) {
	gliaCfg, aggloCfg := defaultConfigs()
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 50, 2: 50},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 50, Affinity: 0.9}})
	partition, objects := buildPartition(t, reg, aggloCfg)

	labels := labelSet(map[types.SupervoxelID]float64{1: 0.9, 2: 0.1})

	var reclassified []types.ObjectID
	reclassify := func(_ context.Context, objs []*types.AgglomeratedObject) error {
		for _, obj := range objs {
			reclassified = append(reclassified, obj.ID)
		}
		return nil
	}

	e := NewEngine(reg, gliaCfg, aggloCfg)
	result, err := e.Run(context.Background(), partition, objects, labels, reclassify)
	require.NoError(t, err)

	assert.Equal(t, []types.ObjectID{1, 2}, reclassified)
	assert.Equal(t, 1, result.ObjectsSplit)
}

func TestRunCancelled(t *testing.T) {
	gliaCfg, aggloCfg := defaultConfigs()
	reg := buildRegistry(t, map[types.SupervoxelID]int64{1: 50}, nil)
	partition, objects := buildPartition(t, reg, aggloCfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(reg, gliaCfg, aggloCfg)
	_, err := e.Run(ctx, partition, objects, classify.NewLabelSet(), noReclassify)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
