package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/types"
)

// SupervoxelRecord is the JSON-lines input shape for one supervoxel. The
// bit layout of the upstream artifacts is owned by the extraction stage;
// the core only requires this mapping iterable.
type SupervoxelRecord struct {
	ID             types.SupervoxelID `json:"id"`
	Size           int64              `json:"size"`
	MeshHandle     string             `json:"mesh_handle,omitempty"`
	SkeletonHandle string             `json:"skeleton_handle,omitempty"`
	Contacts       []ContactRecord    `json:"contacts,omitempty"`
}

// ContactRecord is the JSON-lines input shape for one raw contact
type ContactRecord struct {
	IDA         types.SupervoxelID `json:"id_a"`
	IDB         types.SupervoxelID `json:"id_b"`
	ContactArea float64            `json:"contact_area"`
	Affinity    float64            `json:"affinity_score"`

	Synapse *SynapseRecord `json:"synapse_evidence,omitempty"`
}

// SynapseRecord is the JSON-lines input shape for synapse evidence
type SynapseRecord struct {
	Probability float64 `json:"probability"`
	Area        float64 `json:"area"`
	Count       int     `json:"count"`
	Polarity    string  `json:"polarity,omitempty"` // "a_to_b", "b_to_a" or absent
}

func (c ContactRecord) toEdge() types.ContactEdge {
	edge := types.ContactEdge{
		A:           c.IDA,
		B:           c.IDB,
		ContactArea: c.ContactArea,
		Affinity:    c.Affinity,
	}
	if c.Synapse != nil {
		syn := types.SynapseEvidence{
			Probability: c.Synapse.Probability,
			Area:        c.Synapse.Area,
			Count:       c.Synapse.Count,
		}
		switch c.Synapse.Polarity {
		case "a_to_b":
			syn.Polarity = types.PolarityAToB
		case "b_to_a":
			syn.Polarity = types.PolarityBToA
		}
		edge.Synapse = &syn
	}
	return edge
}

// LoadSupervoxels reads JSON-lines supervoxel records into the registry.
// Inline contact records are registered alongside their supervoxel.
func LoadSupervoxels(r io.Reader, reg *Registry) (int, error) {
	scanner := newLineScanner(r)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec SupervoxelRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return count, errors.WrapInvalid(err, "Loader", "LoadSupervoxels",
				fmt.Sprintf("parse record %d", count+1))
		}
		if err := reg.Add(types.Supervoxel{
			ID:             rec.ID,
			Size:           rec.Size,
			MeshHandle:     rec.MeshHandle,
			SkeletonHandle: rec.SkeletonHandle,
		}); err != nil {
			return count, err
		}
		for _, contact := range rec.Contacts {
			if err := reg.AddContact(contact.toEdge()); err != nil {
				return count, err
			}
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, errors.WrapInvalid(err, "Loader", "LoadSupervoxels", "scan input")
	}
	return count, nil
}

// LoadContacts reads JSON-lines contact records into the registry
func LoadContacts(r io.Reader, reg *Registry) (int, error) {
	scanner := newLineScanner(r)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ContactRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return count, errors.WrapInvalid(err, "Loader", "LoadContacts",
				fmt.Sprintf("parse record %d", count+1))
		}
		if err := reg.AddContact(rec.toEdge()); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, errors.WrapInvalid(err, "Loader", "LoadContacts", "scan input")
	}
	return count, nil
}

// LoadFiles loads supervoxel and contact files into a fresh sealed
// registry. contactPath may be empty when contacts are inlined in the
// supervoxel records.
func LoadFiles(supervoxelPath, contactPath string) (*Registry, error) {
	reg := New()

	svFile, err := os.Open(supervoxelPath)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFiles", "open supervoxel file")
	}
	defer func() { _ = svFile.Close() }()

	if _, err := LoadSupervoxels(svFile, reg); err != nil {
		return nil, err
	}

	if contactPath != "" {
		contactFile, err := os.Open(contactPath)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "LoadFiles", "open contact file")
		}
		defer func() { _ = contactFile.Close() }()

		if _, err := LoadContacts(contactFile, reg); err != nil {
			return nil, err
		}
	}

	if err := reg.Seal(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Contact records for large volumes can exceed the default scanner buffer
func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return scanner
}
