// Package pipeline orchestrates a full run: load inputs, build the
// agglomeration partition, attach classifications, split glia merges,
// derive connectivity, then export and persist the snapshot. Phases are
// separated by barriers; a later phase never observes a partially updated
// earlier phase.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ada52/SyConn/agglo"
	"github.com/ada52/SyConn/classify"
	"github.com/ada52/SyConn/config"
	"github.com/ada52/SyConn/connectivity"
	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/export"
	"github.com/ada52/SyConn/gliasplit"
	"github.com/ada52/SyConn/metric"
	"github.com/ada52/SyConn/registry"
	"github.com/ada52/SyConn/storage"
	"github.com/ada52/SyConn/types"
)

// Phase names used in logs and metrics
const (
	PhaseLoad     = "load"
	PhaseBuild    = "build"
	PhaseClassify = "classify"
	PhaseSplit    = "split"
	PhaseDerive   = "derive"
	PhaseExport   = "export"
	PhasePersist  = "persist"
)

// Report summarizes one pipeline run
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Supervoxels  int `json:"supervoxels"`
	ContactEdges int `json:"contact_edges"`

	Objects         int `json:"objects"`
	OversizeObjects int `json:"oversize_objects"`

	SplitRounds  int              `json:"split_rounds"`
	ObjectsSplit int              `json:"objects_split"`
	Unresolved   []types.ObjectID `json:"unresolved,omitempty"`

	ConnectivityEdges int `json:"connectivity_edges"`
	ExcludedGlia      int `json:"excluded_glia"`
	SkippedUnresolved int `json:"skipped_unresolved"`

	SoftFailures map[types.ClassifierSource]int64 `json:"soft_failures,omitempty"`

	PhaseDurations map[string]string `json:"phase_durations"`
}

// Result carries the full in-memory outcome of a run alongside its report
type Result struct {
	Report    *Report
	Partition *agglo.Partition
	Objects   []*types.AgglomeratedObject
	Labels    *classify.LabelSet
	Matrix    *connectivity.Matrix
}

// Pipeline wires the processing stages together
type Pipeline struct {
	cfg       *config.Config
	skeleton  classify.SkeletonClassifier
	multiview classify.MultiviewClassifier

	store  storage.SnapshotStore
	writer *export.Writer

	logger          *slog.Logger
	metrics         *metric.Metrics
	metricsRegistry *metric.MetricsRegistry
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithStore sets the snapshot store; without one, runs are not persisted
func WithStore(store storage.SnapshotStore) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithExportWriter sets the artifact writer; without one, no files are
// written.
func WithExportWriter(writer *export.Writer) Option {
	return func(p *Pipeline) { p.writer = writer }
}

// WithMetricsRegistry wires all stages to the metrics registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(p *Pipeline) {
		p.metricsRegistry = registry
		p.metrics = registry.CoreMetrics()
	}
}

// New creates a pipeline. At least one classifier collaborator must be
// provided; the multiview classifier may be nil.
func New(cfg *config.Config, skeleton classify.SkeletonClassifier, multiview classify.MultiviewClassifier, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pipeline", "New", "config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if skeleton == nil && multiview == nil {
		return nil, errors.WrapInvalid(errors.ErrClassifierUnavailable, "Pipeline", "New",
			"at least one classifier is required")
	}

	p := &Pipeline{
		cfg:       cfg,
		skeleton:  skeleton,
		multiview: multiview,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run loads the configured input files and processes them end to end
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	var reg *registry.Registry
	report := newReport()

	err := p.phase(report, PhaseLoad, func() error {
		var err error
		reg, err = registry.LoadFiles(p.cfg.IO.SupervoxelPath, p.cfg.IO.ContactPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p.run(ctx, reg, report)
}

// RunWithRegistry processes an already sealed registry end to end.
// Library callers that assemble inputs programmatically enter here.
func (p *Pipeline) RunWithRegistry(ctx context.Context, reg *registry.Registry) (*Result, error) {
	if !reg.Sealed() {
		return nil, errors.WrapInvalid(errors.ErrRegistryNotSealed, "Pipeline", "RunWithRegistry",
			"registry must be sealed")
	}
	return p.run(ctx, reg, newReport())
}

func newReport() *Report {
	return &Report{
		RunID:          uuid.New().String(),
		StartedAt:      time.Now().UTC(),
		PhaseDurations: make(map[string]string),
		SoftFailures:   make(map[types.ClassifierSource]int64),
	}
}

func (p *Pipeline) run(ctx context.Context, reg *registry.Registry, report *Report) (*Result, error) {
	logger := p.logger.With("run_id", report.RunID)
	logger.Info("pipeline starting",
		"supervoxels", reg.Count(),
		"contact_edges", reg.EdgeCount())

	report.Supervoxels = reg.Count()
	report.ContactEdges = reg.EdgeCount()
	if p.metrics != nil {
		p.metrics.SupervoxelsTotal.Set(float64(reg.Count()))
		p.metrics.ContactEdgesTotal.Set(float64(reg.EdgeCount()))
	}

	// Build
	var partition *agglo.Partition
	err := p.phase(report, PhaseBuild, func() error {
		var err error
		partition, err = agglo.NewBuilder(reg, p.cfg.Agglo).WithLogger(logger).Build(ctx)
		if err != nil {
			return err
		}
		return partition.CheckInvariant()
	})
	if err != nil {
		return nil, err
	}
	objects := partition.Objects()

	// Classify
	attacherOpts := []classify.AttacherOption{classify.WithLogger(logger)}
	if p.metricsRegistry != nil {
		attacherOpts = append(attacherOpts, classify.WithMetrics(p.metricsRegistry))
	}
	attacher, err := classify.NewAttacher(reg, p.skeleton, p.multiview, p.cfg, attacherOpts...)
	if err != nil {
		return nil, err
	}

	var labels *classify.LabelSet
	err = p.phase(report, PhaseClassify, func() error {
		attached, classifyReport, err := attacher.AttachAll(ctx, objects)
		if err != nil {
			return err
		}
		labels = attached
		mergeSoftFailures(report, classifyReport)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Split
	engineOpts := []gliasplit.Option{gliasplit.WithLogger(logger)}
	if p.metrics != nil {
		engineOpts = append(engineOpts, gliasplit.WithMetrics(p.metrics))
	}
	engine := gliasplit.NewEngine(reg, p.cfg.Glia, p.cfg.Agglo, engineOpts...)

	reclassify := func(ctx context.Context, changed []*types.AgglomeratedObject) error {
		splitReport, err := attacher.AttachInto(ctx, changed, labels)
		if err != nil {
			return err
		}
		mergeSoftFailures(report, splitReport)
		return nil
	}

	var splitResult *gliasplit.Result
	err = p.phase(report, PhaseSplit, func() error {
		var err error
		splitResult, err = engine.Run(ctx, partition, objects, labels, reclassify)
		if err != nil {
			return err
		}
		return splitResult.Partition.CheckInvariant()
	})
	if err != nil {
		return nil, err
	}
	partition = splitResult.Partition
	objects = splitResult.Objects

	report.Objects = len(objects)
	report.SplitRounds = splitResult.Rounds
	report.ObjectsSplit = splitResult.ObjectsSplit
	report.Unresolved = splitResult.Unresolved
	for _, obj := range objects {
		if obj.Oversize {
			report.OversizeObjects++
		}
	}
	if p.metrics != nil {
		p.metrics.ObjectsTotal.Set(float64(report.Objects))
		p.metrics.OversizeObjects.Set(float64(report.OversizeObjects))
	}

	// Derive
	deriverOpts := []connectivity.Option{connectivity.WithLogger(logger)}
	if p.metricsRegistry != nil {
		deriverOpts = append(deriverOpts, connectivity.WithMetrics(p.metricsRegistry))
	}

	var matrix *connectivity.Matrix
	err = p.phase(report, PhaseDerive, func() error {
		var err error
		matrix, err = connectivity.NewDeriver(reg, p.cfg, deriverOpts...).Derive(ctx, partition, objects)
		return err
	})
	if err != nil {
		return nil, err
	}
	report.ConnectivityEdges = len(matrix.Edges)
	report.ExcludedGlia = matrix.ExcludedGlia
	report.SkippedUnresolved = matrix.SkippedUnresolved

	report.FinishedAt = time.Now().UTC()

	// Export
	if p.writer != nil {
		err = p.phase(report, PhaseExport, func() error {
			g, _ := errgroup.WithContext(ctx)
			g.Go(func() error {
				_, err := p.writer.WriteObjects(objects)
				return err
			})
			g.Go(func() error {
				_, err := p.writer.WriteConnectivity(matrix.Edges)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}
			// the report includes export timing for the data files, so it
			// is written last
			_, err := p.writer.WriteReport(report)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	// Persist
	if p.store != nil {
		err = p.phase(report, PhasePersist, func() error {
			reportJSON, err := json.Marshal(report)
			if err != nil {
				return errors.WrapInvalid(err, "Pipeline", "Run", "marshal run report")
			}
			return p.store.Save(ctx, &storage.Snapshot{
				RunID:       report.RunID,
				CreatedAt:   report.FinishedAt,
				Supervoxels: reg.Count(),
				Labels:      partition.Labels(),
				Objects:     objects,
				Edges:       matrix.Edges,
				Unresolved:  splitResult.Unresolved,
				Report:      reportJSON,
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Info("pipeline finished",
		"objects", report.Objects,
		"connectivity_edges", report.ConnectivityEdges,
		"unresolved", len(report.Unresolved),
		"duration", report.FinishedAt.Sub(report.StartedAt).String())

	return &Result{
		Report:    report,
		Partition: partition,
		Objects:   objects,
		Labels:    labels,
		Matrix:    matrix,
	}, nil
}

// phase runs one pipeline stage with timing, metrics and a cancellation
// check at its boundary.
func (p *Pipeline) phase(report *Report, name string, fn func() error) error {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.SetPhaseStatus(name, 1)
	}
	p.logger.Debug("phase starting", "phase", name)

	err := fn()

	d := time.Since(start)
	report.PhaseDurations[name] = d.String()
	if p.metrics != nil {
		p.metrics.ObservePhase(name, d)
		p.metrics.SetPhaseStatus(name, 0)
	}
	if err != nil {
		p.logger.Error("phase failed", "phase", name, "duration", d.String(), "error", err)
		return err
	}
	p.logger.Info("phase complete", "phase", name, "duration", d.String())
	return nil
}

func mergeSoftFailures(report *Report, classifyReport *classify.Report) {
	for source, n := range classifyReport.SoftFailures {
		report.SoftFailures[source] += n
	}
}
