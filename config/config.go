// Package config defines the pipeline configuration surface and its
// validation rules. Configuration is a single JSON document; all core
// thresholds named by the pipeline contract live in AggloConfig,
// GliaConfig and ConnectivityConfig.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/ada52/SyConn/errors"
)

// Polarity policy constants for connectivity derivation
const (
	PolarityPolicyEvidence    = "evidence"    // majority vote over per-contact polarity signals
	PolarityPolicyCompartment = "compartment" // pre = axon-dominant endpoint
	PolarityPolicySymmetric   = "symmetric"   // always record both directions
)

// Storage mode constants
const (
	StorageModeMemory = "memory" // in-memory snapshot store
	StorageModeKV     = "kv"     // NATS JetStream KV snapshot store
)

// Config represents the complete pipeline configuration
type Config struct {
	Agglo        AggloConfig        `json:"agglomeration"`
	Classify     ClassifyConfig     `json:"classification"`
	Glia         GliaConfig         `json:"glia"`
	Connectivity ConnectivityConfig `json:"connectivity"`
	Workers      WorkerConfig       `json:"workers"`
	Storage      StorageConfig      `json:"storage"`
	Metrics      MetricsConfig      `json:"metrics"`
	IO           IOConfig           `json:"io"`
}

// AggloConfig holds thresholds for the agglomeration graph builder
type AggloConfig struct {
	// MinAffinity is the minimum predicted same-object probability for an
	// edge to be active.
	MinAffinity float64 `json:"min_affinity"`

	// MinContactArea is the minimum shared surface for an edge to be active
	MinContactArea float64 `json:"min_contact_area"`

	// MaxObjectSize flags (never splits) components whose summed voxel
	// count exceeds it. Zero disables the flag.
	MaxObjectSize int64 `json:"max_object_size"`
}

// ClassifyConfig holds settings for the classification attachment layer
type ClassifyConfig struct {
	// SmoothingSweeps bounds the majority-vote smoothing of per-node
	// compartment labels over intra-object neighbors. Zero disables
	// smoothing.
	SmoothingSweeps int `json:"smoothing_sweeps"`
}

// GliaConfig holds thresholds for the glia splitting engine
type GliaConfig struct {
	// HighThreshold marks a supervoxel glia-like when its glia score
	// reaches it.
	HighThreshold float64 `json:"glia_high_threshold"`

	// LowThreshold marks a supervoxel neuron-like when its glia score is
	// at or below it.
	LowThreshold float64 `json:"glia_low_threshold"`

	// MinFraction is the minimum mass fraction each identity must hold
	// for an object to be flagged unstable.
	MinFraction float64 `json:"glia_min_fraction"`

	// SplitEdgeDelta keeps an intra-object edge during a split only when
	// the endpoints' glia scores differ by at most this much.
	SplitEdgeDelta float64 `json:"split_edge_delta"`

	// MaxSplitIterations bounds the split loop. Objects still unstable at
	// the cap are reported as unresolved, not silently accepted.
	MaxSplitIterations int `json:"max_split_iterations"`
}

// ConnectivityConfig holds settings for connectivity matrix derivation
type ConnectivityConfig struct {
	// PolarityPolicy resolves pre/post direction: "evidence",
	// "compartment" or "symmetric".
	PolarityPolicy string `json:"polarity_policy"`

	// BestEffort derives a matrix even when unresolved objects remain,
	// skipping and counting them instead of failing.
	BestEffort bool `json:"best_effort"`
}

// WorkerConfig sizes the parallel phases
type WorkerConfig struct {
	ClassifyWorkers int `json:"classify_workers"`
	DeriveWorkers   int `json:"derive_workers"`
	QueueSize       int `json:"queue_size"`
}

// StorageConfig selects and configures the snapshot store
type StorageConfig struct {
	Mode   string `json:"mode"` // "memory" or "kv"
	URL    string `json:"url,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}

// MetricsConfig configures the prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// IOConfig names the input artifacts and output directory
type IOConfig struct {
	SupervoxelPath string `json:"supervoxel_path"`
	ContactPath    string `json:"contact_path"`

	// NodeScorePath points at precomputed per-supervoxel classifier
	// scores. Empty when classifiers are wired programmatically.
	NodeScorePath string `json:"node_score_path,omitempty"`

	OutputDir string `json:"output_dir"`
}

// Default returns a configuration with production defaults. Thresholds
// mirror the values used for the pipeline's target datasets.
func Default() *Config {
	return &Config{
		Agglo: AggloConfig{
			MinAffinity:    0.5,
			MinContactArea: 10,
			MaxObjectSize:  0,
		},
		Classify: ClassifyConfig{
			SmoothingSweeps: 2,
		},
		Glia: GliaConfig{
			HighThreshold:      0.7,
			LowThreshold:       0.3,
			MinFraction:        0.2,
			SplitEdgeDelta:     0.2,
			MaxSplitIterations: 10,
		},
		Connectivity: ConnectivityConfig{
			PolarityPolicy: PolarityPolicyEvidence,
		},
		Workers: WorkerConfig{
			ClassifyWorkers: runtime.NumCPU(),
			DeriveWorkers:   runtime.NumCPU(),
			QueueSize:       4096,
		},
		Storage: StorageConfig{
			Mode:   StorageModeMemory,
			Bucket: "SYCONN_SNAPSHOTS",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// Load reads and validates a configuration file, applying defaults for
// absent sections.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := unitRange("min_affinity", c.Agglo.MinAffinity); err != nil {
		return err
	}
	if c.Agglo.MinContactArea < 0 {
		return invalid("Validate", "min_contact_area cannot be negative")
	}
	if c.Agglo.MaxObjectSize < 0 {
		return invalid("Validate", "max_object_size cannot be negative")
	}

	if c.Classify.SmoothingSweeps < 0 {
		return invalid("Validate", "smoothing_sweeps cannot be negative")
	}

	if err := unitRange("glia_high_threshold", c.Glia.HighThreshold); err != nil {
		return err
	}
	if err := unitRange("glia_low_threshold", c.Glia.LowThreshold); err != nil {
		return err
	}
	if c.Glia.LowThreshold >= c.Glia.HighThreshold {
		return invalid("Validate", "glia_low_threshold must be below glia_high_threshold")
	}
	if c.Glia.MinFraction <= 0 || c.Glia.MinFraction > 0.5 {
		return invalid("Validate", "glia_min_fraction must be in (0, 0.5]")
	}
	if err := unitRange("split_edge_delta", c.Glia.SplitEdgeDelta); err != nil {
		return err
	}
	if c.Glia.MaxSplitIterations <= 0 {
		return invalid("Validate", "max_split_iterations must be positive")
	}

	switch c.Connectivity.PolarityPolicy {
	case PolarityPolicyEvidence, PolarityPolicyCompartment, PolarityPolicySymmetric:
	default:
		return invalid("Validate", fmt.Sprintf(
			"polarity_policy must be one of: %s, %s, %s",
			PolarityPolicyEvidence, PolarityPolicyCompartment, PolarityPolicySymmetric))
	}

	if c.Workers.ClassifyWorkers < 0 || c.Workers.DeriveWorkers < 0 || c.Workers.QueueSize < 0 {
		return invalid("Validate", "worker counts and queue size cannot be negative")
	}

	switch c.Storage.Mode {
	case StorageModeMemory:
	case StorageModeKV:
		if c.Storage.URL == "" {
			return invalid("Validate", "storage url is required for kv mode")
		}
		if c.Storage.Bucket == "" {
			return invalid("Validate", "storage bucket is required for kv mode")
		}
	default:
		return invalid("Validate", fmt.Sprintf("storage mode must be %q or %q",
			StorageModeMemory, StorageModeKV))
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid("Validate", fmt.Sprintf("invalid metrics port: %d", c.Metrics.Port))
	}

	return nil
}

func unitRange(name string, v float64) error {
	if v < 0 || v > 1 {
		return invalid("Validate", fmt.Sprintf("%s must be in [0,1], got %f", name, v))
	}
	return nil
}

func invalid(method, msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", method, msg)
}
