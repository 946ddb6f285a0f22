// Package syconn provides a supervoxel agglomeration and connectivity
// inference engine for volume electron microscopy segmentation.
//
// # Pipeline
//
// syconn turns a flat set of segmentation supervoxels and their contact
// sites into agglomerated cellular objects with attached classifier
// labels and a directed object-level connectivity matrix:
//
//	┌─────────────────────────────────────┐
//	│            Registry                 │  Supervoxels, contact
//	│   (load, seal, dense edge index)    │  edges, synapse evidence
//	└──────────────────┬──────────────────┘
//	                   ↓
//	┌─────────────────────────────────────┐
//	│          Agglomeration              │  Union-find over active
//	│   (affinity + contact thresholds)   │  edges → Partition
//	└──────────────────┬──────────────────┘
//	                   ↓
//	┌─────────────────────────────────────┐
//	│         Classification              │  Skeleton + multiview
//	│  (per-node compartments, glia)      │  collaborators → LabelSet
//	└──────────────────┬──────────────────┘
//	                   ↓
//	┌─────────────────────────────────────┐
//	│          Glia splitting             │  Cut mixed objects on
//	│  (score deltas, reclassify loop)    │  glia score boundaries
//	└──────────────────┬──────────────────┘
//	                   ↓
//	┌─────────────────────────────────────┐
//	│          Connectivity               │  Synapse evidence →
//	│  (polarity policies, glia filter)   │  directed matrix
//	└─────────────────────────────────────┘
//
// Every stage is deterministic for a given input and configuration:
// object identities derive from minimum member supervoxel ids, edge ids
// are assigned in canonical order at seal time, and connectivity edges
// are emitted in sorted order regardless of worker scheduling.
//
// # Packages
//
// Core:
//   - types: Supervoxels, contact edges, objects, classification results
//   - registry: Sealed supervoxel/edge registry and JSON-lines loaders
//   - agglo: Union-find builder and the label Partition
//   - classify: Classifier attachment, label resolution, smoothing
//   - gliasplit: Unstable-object detection and the split loop
//   - connectivity: Synapse accumulation and matrix derivation
//   - pipeline: Phase orchestration from load through persist
//
// Infrastructure:
//   - config: JSON configuration and validation
//   - errors: Structured error handling with severity classification
//   - metric: Prometheus metrics and the metrics endpoint
//   - storage: Run snapshots (in-memory or NATS JetStream KV)
//   - export: JSON-lines artifact writers
//   - natsclient: NATS connection management
//   - pkg/worker: Generic instrumented worker pools
//
// # Usage
//
// Programmatic runs wire classifiers and options directly:
//
//	cfg := config.Default()
//	cfg.IO.SupervoxelPath = "supervoxels.jsonl"
//	cfg.IO.OutputDir = "out"
//
//	p, _ := pipeline.New(cfg, skeletonClassifier, multiviewClassifier,
//	    pipeline.WithLogger(logger),
//	    pipeline.WithStore(store),
//	)
//	result, err := p.Run(ctx)
//
// The syconn binary serves the common batch case: precomputed per-node
// classifier scores on disk, artifacts written to an output directory.
//
//	syconn --supervoxels=supervoxels.jsonl --contacts=contacts.jsonl \
//	    --scores=node_scores.jsonl --output=out
//
// # Design Principles
//
// The core never fabricates labels: classification comes from external
// collaborators, and a collaborator failure yields neutral labels plus
// a counted soft failure rather than an invented score. Objects that
// cannot be stabilized within the split iteration cap are reported as
// unresolved; deriving connectivity over unresolved objects is an error
// unless best-effort mode is requested explicitly.
//
// Testability follows from explicit dependencies: collaborators,
// stores and writers are interfaces or injected values, and
// integration tests run against real NATS via testcontainers.
package syconn
