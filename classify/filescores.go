package classify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/stat"

	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/types"
)

// NodeScoreRecord is the JSON-lines input shape for one precomputed
// per-supervoxel classifier score. These files are produced by an
// upstream inference stage over skeleton node views.
type NodeScoreRecord struct {
	ID          types.SupervoxelID   `json:"id"`
	Compartment types.Compartment    `json:"compartment"`
	GliaScore   float64              `json:"glia_score"`
	Confidence  float64              `json:"confidence"`
	CellTypes   types.CellTypeScores `json:"cell_type_scores,omitempty"`
}

// FileClassifier serves precomputed per-node scores loaded from a
// JSON-lines file. It implements SkeletonClassifier; objects containing
// supervoxels with no score on file fail soft and receive neutral labels
// from the attacher.
type FileClassifier struct {
	scores map[types.SupervoxelID]NodeScoreRecord
}

// LoadNodeScores reads JSON-lines node score records from r
func LoadNodeScores(r io.Reader) (*FileClassifier, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	scores := make(map[types.SupervoxelID]NodeScoreRecord)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec NodeScoreRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, errors.WrapInvalid(err, "FileClassifier", "LoadNodeScores",
				fmt.Sprintf("parse record %d", count+1))
		}
		if rec.Compartment == "" {
			rec.Compartment = types.CompartmentUnknown
		}
		scores[rec.ID] = rec
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapInvalid(err, "FileClassifier", "LoadNodeScores", "scan input")
	}
	return &FileClassifier{scores: scores}, nil
}

// LoadNodeScoreFile loads node scores from a JSON-lines file on disk
func LoadNodeScoreFile(path string) (*FileClassifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "FileClassifier", "LoadNodeScoreFile", "open score file")
	}
	defer func() { _ = f.Close() }()
	return LoadNodeScores(f)
}

// Len returns the number of scored supervoxels
func (c *FileClassifier) Len() int {
	return len(c.scores)
}

// Classify assembles an object result from the stored per-node scores.
// A node with no score on file is a classifier failure for the whole
// object; the attacher substitutes neutral labels.
func (c *FileClassifier) Classify(_ context.Context, objectID types.ObjectID, nodeIDs []types.SupervoxelID) (types.ClassificationResult, error) {
	result := types.ClassificationResult{
		ObjectID:       objectID,
		Source:         types.SourceSkeleton,
		Compartments:   make(map[types.SupervoxelID]types.Compartment, len(nodeIDs)),
		NodeGliaScores: make(map[types.SupervoxelID]float64, len(nodeIDs)),
	}

	gliaScores := make([]float64, 0, len(nodeIDs))
	confidences := make([]float64, 0, len(nodeIDs))
	cellTypes := make(types.CellTypeScores)

	for _, id := range nodeIDs {
		rec, ok := c.scores[id]
		if !ok {
			return types.ClassificationResult{}, errors.WrapTransient(errors.ErrClassifierUnavailable,
				"FileClassifier", "Classify",
				fmt.Sprintf("no score on file for supervoxel %d", id))
		}
		result.Compartments[id] = rec.Compartment
		result.NodeGliaScores[id] = rec.GliaScore
		gliaScores = append(gliaScores, rec.GliaScore)
		confidences = append(confidences, rec.Confidence)
		for ct, score := range rec.CellTypes {
			cellTypes[ct] += score
		}
	}

	if len(gliaScores) > 0 {
		result.GliaScore = stat.Mean(gliaScores, nil)
		result.Confidence = stat.Mean(confidences, nil)
	}
	if len(cellTypes) > 0 {
		for ct := range cellTypes {
			cellTypes[ct] /= float64(len(nodeIDs))
		}
		result.CellTypeScores = cellTypes
	}

	if err := result.Validate(); err != nil {
		return types.ClassificationResult{}, err
	}
	return result, nil
}
