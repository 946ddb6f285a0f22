package agglo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ada52/SyConn/config"
	pkgerrors "github.com/ada52/SyConn/errors"
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

func defaultAggloConfig() config.AggloConfig {
	return config.AggloConfig{MinAffinity: 0.5, MinContactArea: 10}
}

func TestBuildMergesAboveThresholds(t *testing.T) {
	// A-B pass both thresholds, B-C fails affinity: {A,B} merge, C stays
	// separate (the worked example of the pipeline contract).
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 100, 2: 100, 3: 100},
		[]types.ContactEdge{
			{A: 1, B: 2, ContactArea: 100, Affinity: 0.9},
			{A: 2, B: 3, ContactArea: 100, Affinity: 0.1},
		})

	partition, err := NewBuilder(reg, defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)

	objects := partition.Objects()
	require.Len(t, objects, 2)
	assert.Equal(t, []types.SupervoxelID{1, 2}, objects[0].Members)
	assert.Equal(t, []types.SupervoxelID{3}, objects[1].Members)
	assert.Equal(t, types.ObjectID(1), objects[0].ID)
	assert.Equal(t, types.ObjectID(3), objects[1].ID)
	assert.Equal(t, int64(200), objects[0].TotalSize)
}

func TestBuildContactAreaThreshold(t *testing.T) {
	// High affinity but tiny shared surface stays inactive
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 10, 2: 10},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 2, Affinity: 0.99}})

	partition, err := NewBuilder(reg, defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, partition.ObjectCount())
}

func TestBuildIsolatedSingletons(t *testing.T) {
	reg := buildRegistry(t, map[types.SupervoxelID]int64{7: 5, 8: 6, 9: 7}, nil)

	partition, err := NewBuilder(reg, defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)

	objects := partition.Objects()
	require.Len(t, objects, 3)
	for _, obj := range objects {
		assert.Len(t, obj.Members, 1)
		assert.Equal(t, types.ObjectID(obj.Members[0]), obj.ID)
	}
}

func TestBuildOversizeFlag(t *testing.T) {
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 600, 2: 600},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 100, Affinity: 0.9}})

	cfg := defaultAggloConfig()
	cfg.MaxObjectSize = 1000
	partition, err := NewBuilder(reg, cfg).Build(context.Background())
	require.NoError(t, err)

	objects := partition.Objects()
	require.Len(t, objects, 1)
	// Flagged, not split
	assert.True(t, objects[0].Oversize)
	assert.Len(t, objects[0].Members, 2)
}

func TestBuildRequiresSealedRegistry(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Add(types.Supervoxel{ID: 1, Size: 10}))

	_, err := NewBuilder(reg, defaultAggloConfig()).Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrRegistryNotSealed)
}

func TestBuildDeterminism(t *testing.T) {
	edges := []types.ContactEdge{
		{A: 1, B: 2, ContactArea: 50, Affinity: 0.7},
		{A: 2, B: 3, ContactArea: 50, Affinity: 0.7},
		{A: 4, B: 5, ContactArea: 50, Affinity: 0.7},
		{A: 3, B: 4, ContactArea: 50, Affinity: 0.3},
	}
	sizes := map[types.SupervoxelID]int64{1: 1, 2: 1, 3: 1, 4: 1, 5: 1}

	first, err := NewBuilder(buildRegistry(t, sizes, edges), defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)

	// Same input, reversed insertion order
	reversed := []types.ContactEdge{edges[3], edges[2], edges[1], edges[0]}
	second, err := NewBuilder(buildRegistry(t, sizes, reversed), defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Labels(), second.Labels())
}

func TestBuildCancelled(t *testing.T) {
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 1, 2: 1},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 50, Affinity: 0.9}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(reg, defaultAggloConfig()).Build(ctx)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestPartitionInvariant(t *testing.T) {
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 1, 2: 1, 3: 1},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 50, Affinity: 0.9}})

	partition, err := NewBuilder(reg, defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, partition.CheckInvariant())

	// Every supervoxel appears in exactly one object
	seen := make(map[types.SupervoxelID]int)
	for _, obj := range partition.Objects() {
		for _, member := range obj.Members {
			seen[member]++
		}
	}
	require.Len(t, seen, reg.Count())
	for id, count := range seen {
		assert.Equal(t, 1, count, "supervoxel %d", id)
	}
}

func TestPartitionObjectLookup(t *testing.T) {
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 10, 2: 20, 3: 30},
		[]types.ContactEdge{{A: 1, B: 2, ContactArea: 50, Affinity: 0.9}})

	partition, err := NewBuilder(reg, defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)

	oid, ok := partition.ObjectIDOf(2)
	require.True(t, ok)
	assert.Equal(t, types.ObjectID(1), oid)

	_, ok = partition.ObjectIDOf(99)
	assert.False(t, ok)

	obj := partition.Object(1)
	require.NotNil(t, obj)
	assert.Equal(t, []types.SupervoxelID{1, 2}, obj.Members)
	assert.Equal(t, int64(30), obj.TotalSize)

	assert.Nil(t, partition.Object(42))
}

func TestPartitionObjectsSubset(t *testing.T) {
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 10, 2: 20, 3: 30, 4: 40},
		[]types.ContactEdge{
			{A: 1, B: 2, ContactArea: 50, Affinity: 0.9},
			{A: 3, B: 4, ContactArea: 50, Affinity: 0.9},
		})

	partition, err := NewBuilder(reg, defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)

	subset := partition.ObjectsSubset([]types.ObjectID{1, 3, 42})
	require.Len(t, subset, 2, "unknown ids are absent, not nil entries")

	require.NotNil(t, subset[1])
	assert.Equal(t, []types.SupervoxelID{1, 2}, subset[1].Members)
	assert.Equal(t, int64(30), subset[1].TotalSize)

	require.NotNil(t, subset[3])
	assert.Equal(t, []types.SupervoxelID{3, 4}, subset[3].Members)
	assert.Equal(t, int64(70), subset[3].TotalSize)
}

func TestRelabelSplitsObject(t *testing.T) {
	reg := buildRegistry(t,
		map[types.SupervoxelID]int64{1: 10, 2: 10, 3: 10},
		[]types.ContactEdge{
			{A: 1, B: 2, ContactArea: 50, Affinity: 0.9},
			{A: 2, B: 3, ContactArea: 50, Affinity: 0.9},
		})

	partition, err := NewBuilder(reg, defaultAggloConfig()).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, partition.ObjectCount())

	// Pull supervoxel 3 (dense index 2) into its own component
	split, err := partition.Relabel(map[int]int32{2: 1})
	require.NoError(t, err)
	require.NoError(t, split.CheckInvariant())

	objects := split.Objects()
	require.Len(t, objects, 2)
	assert.Equal(t, []types.SupervoxelID{1, 2}, objects[0].Members)
	assert.Equal(t, []types.SupervoxelID{3}, objects[1].Members)

	// Original partition untouched
	assert.Equal(t, 1, partition.ObjectCount())
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind(4)
	assert.True(t, uf.union(0, 1))
	assert.False(t, uf.union(1, 0))
	assert.True(t, uf.union(2, 3))
	assert.True(t, uf.union(0, 3))

	roots := uf.roots()
	assert.Equal(t, roots[0], roots[1])
	assert.Equal(t, roots[1], roots[2])
	assert.Equal(t, roots[2], roots[3])
}
