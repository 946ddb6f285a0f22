package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ada52/SyConn/config"
	pkgerrors "github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/export"
	"github.com/ada52/SyConn/registry"
	"github.com/ada52/SyConn/storage"
	"github.com/ada52/SyConn/types"
)

// scoreClassifier labels each node with a fixed glia score and derives the
// object score as the plain mean over members.
type scoreClassifier struct {
	nodeGlia map[types.SupervoxelID]float64
}

func (c *scoreClassifier) Classify(_ context.Context, objectID types.ObjectID, nodeIDs []types.SupervoxelID) (types.ClassificationResult, error) {
	res := types.ClassificationResult{
		ObjectID:       objectID,
		Source:         types.SourceSkeleton,
		Compartments:   make(map[types.SupervoxelID]types.Compartment, len(nodeIDs)),
		NodeGliaScores: make(map[types.SupervoxelID]float64, len(nodeIDs)),
		Confidence:     0.9,
	}
	sum := 0.0
	for _, id := range nodeIDs {
		score := c.nodeGlia[id]
		res.NodeGliaScores[id] = score
		res.Compartments[id] = types.CompartmentAxon
		sum += score
	}
	if len(nodeIDs) > 0 {
		res.GliaScore = sum / float64(len(nodeIDs))
	}
	return res, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Classify.SmoothingSweeps = 0
	cfg.Workers.ClassifyWorkers = 2
	cfg.Workers.DeriveWorkers = 2
	cfg.Workers.QueueSize = 64
	return cfg
}

// fixtureRegistry builds two merged neuron supervoxel pairs plus a mixed
// object that must split:
//
//	object {1,2}: neuron-like throughout
//	object {3,4}: node 3 glia-like, node 4 neuron-like (splits apart)
//
// with synapse-bearing inactive contacts 2-4 (neuron-neuron) and
// 1-3 (lands on the glia fragment after the split).
func fixtureRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for id, size := range map[types.SupervoxelID]int64{1: 100, 2: 100, 3: 100, 4: 100} {
		require.NoError(t, reg.Add(types.Supervoxel{ID: id, Size: size}))
	}
	for _, e := range []types.ContactEdge{
		{A: 1, B: 2, ContactArea: 100, Affinity: 0.9},
		{A: 3, B: 4, ContactArea: 100, Affinity: 0.9},
		{A: 2, B: 4, ContactArea: 20, Affinity: 0.1,
			Synapse: &types.SynapseEvidence{Count: 2, Area: 1.5, Probability: 0.9, Polarity: types.PolarityAToB}},
		{A: 1, B: 3, ContactArea: 20, Affinity: 0.1,
			Synapse: &types.SynapseEvidence{Count: 1, Area: 0.5, Probability: 0.8, Polarity: types.PolarityAToB}},
	} {
		require.NoError(t, reg.AddContact(e))
	}
	require.NoError(t, reg.Seal())
	return reg
}

func fixtureClassifier() *scoreClassifier {
	return &scoreClassifier{nodeGlia: map[types.SupervoxelID]float64{
		1: 0.1, 2: 0.1, 3: 0.9, 4: 0.1,
	}}
}

func TestRunWithRegistryEndToEnd(t *testing.T) {
	store := storage.NewMemoryStore()
	p, err := New(testConfig(), fixtureClassifier(), nil, WithStore(store))
	require.NoError(t, err)

	result, err := p.RunWithRegistry(context.Background(), fixtureRegistry(t))
	require.NoError(t, err)

	// {1,2} stable, {3,4} split into {3} and {4}
	require.Len(t, result.Objects, 3)
	assert.Equal(t, []types.SupervoxelID{1, 2}, result.Objects[0].Members)
	assert.Equal(t, []types.SupervoxelID{3}, result.Objects[1].Members)
	assert.Equal(t, []types.SupervoxelID{4}, result.Objects[2].Members)

	report := result.Report
	assert.Equal(t, 4, report.Supervoxels)
	assert.Equal(t, 4, report.ContactEdges)
	assert.Equal(t, 3, report.Objects)
	assert.Equal(t, 1, report.SplitRounds)
	assert.Equal(t, 1, report.ObjectsSplit)
	assert.Empty(t, report.Unresolved)
	assert.NotEmpty(t, report.RunID)
	assert.Contains(t, report.PhaseDurations, PhaseBuild)
	assert.Contains(t, report.PhaseDurations, PhaseSplit)

	// The 2-4 contact resolves to a directed neuron-neuron edge; the 1-3
	// contact lands on the glia fragment and is excluded.
	require.Len(t, result.Matrix.Edges, 1)
	edge := result.Matrix.Edges[0]
	assert.Equal(t, types.ObjectID(1), edge.PreID)
	assert.Equal(t, types.ObjectID(4), edge.PostID)
	assert.True(t, edge.Directed)
	assert.Equal(t, 2, edge.SynapseCount)
	assert.Equal(t, 1, result.Matrix.ExcludedGlia)

	// Snapshot persisted under the run id
	snap, err := store.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Supervoxels)
	assert.Len(t, snap.Objects, 3)
	assert.NotEmpty(t, snap.Report)
	assert.Len(t, snap.Edges, 1)
}

func TestRunExportsArtifacts(t *testing.T) {
	dir := t.TempDir()
	writer, err := export.NewWriter(dir, nil)
	require.NoError(t, err)

	p, err := New(testConfig(), fixtureClassifier(), nil, WithExportWriter(writer))
	require.NoError(t, err)

	_, err = p.RunWithRegistry(context.Background(), fixtureRegistry(t))
	require.NoError(t, err)

	for _, name := range []string{export.ObjectsFile, export.ConnectivityFile, export.ReportFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "missing artifact %s", name)
	}
}

func TestRunLoadsInputFiles(t *testing.T) {
	dir := t.TempDir()
	svPath := filepath.Join(dir, "supervoxels.jsonl")
	contactPath := filepath.Join(dir, "contacts.jsonl")

	require.NoError(t, os.WriteFile(svPath, []byte(
		`{"id":1,"size":100}
{"id":2,"size":100}
`), 0o644))
	require.NoError(t, os.WriteFile(contactPath, []byte(
		`{"id_a":1,"id_b":2,"contact_area":100,"affinity_score":0.9}
`), 0o644))

	cfg := testConfig()
	cfg.IO.SupervoxelPath = svPath
	cfg.IO.ContactPath = contactPath

	p, err := New(cfg, fixtureClassifier(), nil)
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Objects, 1)
	assert.Equal(t, []types.SupervoxelID{1, 2}, result.Objects[0].Members)
	assert.Contains(t, result.Report.PhaseDurations, PhaseLoad)
}

func TestRunUnresolvedFailsWithoutBestEffort(t *testing.T) {
	// Inseparable mixed object: identities differ but the internal edge's
	// endpoints sit within the split delta.
	cfg := testConfig()
	cfg.Glia.SplitEdgeDelta = 0.9

	reg := registry.New()
	for id, size := range map[types.SupervoxelID]int64{1: 100, 2: 100} {
		require.NoError(t, reg.Add(types.Supervoxel{ID: id, Size: size}))
	}
	require.NoError(t, reg.AddContact(types.ContactEdge{A: 1, B: 2, ContactArea: 100, Affinity: 0.9,
		Synapse: &types.SynapseEvidence{Count: 1, Area: 0.5, Probability: 0.8}}))
	require.NoError(t, reg.Seal())

	classifier := &scoreClassifier{nodeGlia: map[types.SupervoxelID]float64{1: 0.9, 2: 0.1}}

	p, err := New(cfg, classifier, nil)
	require.NoError(t, err)
	_, err = p.RunWithRegistry(context.Background(), reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrUnresolvedGlia)

	// best-effort mode completes and reports the skip
	cfg.Connectivity.BestEffort = true
	p, err = New(cfg, classifier, nil)
	require.NoError(t, err)
	result, err := p.RunWithRegistry(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{1}, result.Report.Unresolved)
	assert.Empty(t, result.Matrix.Edges)
}

func TestRunCancelled(t *testing.T) {
	p, err := New(testConfig(), fixtureClassifier(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.RunWithRegistry(ctx, fixtureRegistry(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, fixtureClassifier(), nil)
	require.Error(t, err)

	_, err = New(testConfig(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrClassifierUnavailable)

	bad := testConfig()
	bad.Glia.MinFraction = 0.9
	_, err = New(bad, fixtureClassifier(), nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}
