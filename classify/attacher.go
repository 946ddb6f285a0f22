package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ada52/SyConn/config"
	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/metric"
	"github.com/ada52/SyConn/pkg/worker"
	"github.com/ada52/SyConn/registry"
	"github.com/ada52/SyConn/types"
)

const defaultDrainTimeout = time.Hour

// LabelSet holds the resolved per-supervoxel labels for the current
// partition. It is rebuilt by each classification pass and consumed by the
// glia splitting engine.
type LabelSet struct {
	mu           sync.RWMutex
	compartments map[types.SupervoxelID]types.Compartment
	gliaScores   map[types.SupervoxelID]float64
}

// NewLabelSet returns an empty label set
func NewLabelSet() *LabelSet {
	return &LabelSet{
		compartments: make(map[types.SupervoxelID]types.Compartment),
		gliaScores:   make(map[types.SupervoxelID]float64),
	}
}

// CompartmentOf returns the resolved compartment for a supervoxel,
// CompartmentUnknown when the node was never classified.
func (l *LabelSet) CompartmentOf(id types.SupervoxelID) types.Compartment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.compartments[id]; ok {
		return c
	}
	return types.CompartmentUnknown
}

// GliaScoreOf returns the resolved glia score for a supervoxel, the
// neutral 0.5 when the node was never classified.
func (l *LabelSet) GliaScoreOf(id types.SupervoxelID) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.gliaScores[id]; ok {
		return s
	}
	return 0.5
}

// Len returns the number of labelled supervoxels
func (l *LabelSet) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.compartments)
}

// Set records the resolved labels for one supervoxel
func (l *LabelSet) Set(id types.SupervoxelID, comp types.Compartment, gliaScore float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.compartments[id] = comp
	l.gliaScores[id] = gliaScore
}

func (l *LabelSet) set(nodes []types.SupervoxelID, comps map[types.SupervoxelID]types.Compartment, glia map[types.SupervoxelID]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range nodes {
		l.compartments[id] = comps[id]
		l.gliaScores[id] = glia[id]
	}
}

// Report summarizes a classification pass
type Report struct {
	ObjectsClassified int                              `json:"objects_classified"`
	SoftFailures      map[types.ClassifierSource]int64 `json:"soft_failures,omitempty"`

	mu sync.Mutex
}

func (r *Report) recordSoftFailure(source types.ClassifierSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SoftFailures == nil {
		r.SoftFailures = make(map[types.ClassifierSource]int64)
	}
	r.SoftFailures[source]++
}

// Attacher invokes the classifier collaborators for each object and
// resolves their outputs into cached object aggregates and a LabelSet.
// Objects are processed in parallel; each worker touches only its own
// object, so no locking is needed on the object side.
type Attacher struct {
	reg       *registry.Registry
	skeleton  SkeletonClassifier
	multiview MultiviewClassifier

	cfg          config.ClassifyConfig
	workers      config.WorkerConfig
	drainTimeout time.Duration

	logger          *slog.Logger
	metrics         *metric.Metrics
	metricsRegistry *metric.MetricsRegistry
}

// AttacherOption configures an Attacher
type AttacherOption func(*Attacher)

// WithLogger sets the attacher's logger
func WithLogger(logger *slog.Logger) AttacherOption {
	return func(a *Attacher) { a.logger = logger }
}

// WithMetrics wires the attacher and its worker pool to the pipeline's
// metrics registry.
func WithMetrics(registry *metric.MetricsRegistry) AttacherOption {
	return func(a *Attacher) {
		a.metricsRegistry = registry
		a.metrics = registry.CoreMetrics()
	}
}

// WithDrainTimeout overrides the phase barrier timeout
func WithDrainTimeout(d time.Duration) AttacherOption {
	return func(a *Attacher) { a.drainTimeout = d }
}

// NewAttacher creates an attacher over a sealed registry. Either
// collaborator may be nil; at least one must be set.
func NewAttacher(reg *registry.Registry, skeleton SkeletonClassifier, multiview MultiviewClassifier, cfg *config.Config, opts ...AttacherOption) (*Attacher, error) {
	if skeleton == nil && multiview == nil {
		return nil, errors.WrapInvalid(errors.ErrClassifierUnavailable,
			"Attacher", "NewAttacher", "at least one classifier is required")
	}
	if !reg.Sealed() {
		return nil, errors.WrapInvalid(errors.ErrRegistryNotSealed,
			"Attacher", "NewAttacher", "registry must be sealed before classification")
	}

	a := &Attacher{
		reg:          reg,
		skeleton:     skeleton,
		multiview:    multiview,
		cfg:          cfg.Classify,
		workers:      cfg.Workers,
		drainTimeout: defaultDrainTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AttachAll classifies every object in the slice, mutating the objects'
// cached aggregate labels in place, and returns the resolved per-node
// label set. Collaborator failures degrade to neutral labels and are
// counted; only infrastructure failures (cancellation, pool errors) abort
// the pass.
func (a *Attacher) AttachAll(ctx context.Context, objects []*types.AgglomeratedObject) (*LabelSet, *Report, error) {
	labels := NewLabelSet()
	report, err := a.AttachInto(ctx, objects, labels)
	if err != nil {
		return nil, nil, err
	}
	return labels, report, nil
}

// AttachInto classifies the given objects into an existing label set,
// overwriting labels for their member supervoxels. The split loop uses it
// to re-classify only the objects a split round changed.
func (a *Attacher) AttachInto(ctx context.Context, objects []*types.AgglomeratedObject, labels *LabelSet) (*Report, error) {
	report := &Report{ObjectsClassified: len(objects)}

	var poolOpts []worker.Option[*types.AgglomeratedObject]
	if a.metricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[*types.AgglomeratedObject](
			a.metricsRegistry, "syconn_classify"))
	}

	pool := worker.NewPool(a.workers.ClassifyWorkers, a.workers.QueueSize,
		func(ctx context.Context, obj *types.AgglomeratedObject) error {
			a.attachObject(ctx, obj, labels, report)
			return nil
		}, poolOpts...)

	if err := pool.Start(ctx); err != nil {
		return nil, errors.WrapFatal(err, "Attacher", "AttachInto", "start worker pool")
	}

	for _, obj := range objects {
		if err := pool.Submit(ctx, obj); err != nil {
			pool.Drain(a.drainTimeout)
			return nil, errors.WrapTransient(err, "Attacher", "AttachInto", "submit object")
		}
	}

	if err := pool.Drain(a.drainTimeout); err != nil {
		return nil, errors.WrapTransient(err, "Attacher", "AttachInto", "drain worker pool")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Attacher", "AttachInto", "classification cancelled")
	}

	a.logger.Info("classification pass complete",
		"objects", len(objects),
		"soft_failures", report.SoftFailures)

	return report, nil
}

// attachObject runs both collaborators for one object and resolves their
// results into the object's cached aggregates and the shared label set.
func (a *Attacher) attachObject(ctx context.Context, obj *types.AgglomeratedObject, labels *LabelSet, report *Report) {
	var results []types.ClassificationResult

	if a.skeleton != nil {
		res := a.callCollaborator(obj, types.SourceSkeleton, report, func() (types.ClassificationResult, error) {
			return a.skeleton.Classify(ctx, obj.ID, obj.Members)
		})
		results = append(results, res)
	}
	if a.multiview != nil {
		res := a.callCollaborator(obj, types.SourceMultiview, report, func() (types.ClassificationResult, error) {
			return a.multiview.ClassifyMultiview(ctx, obj.ID)
		})
		results = append(results, res)
	}

	comps, glia := a.resolveNodes(obj, results)
	if a.cfg.SmoothingSweeps > 0 {
		comps = a.smooth(obj, comps)
	}

	a.aggregate(obj, results, comps)
	labels.set(obj.Members, comps, glia)
}

// callCollaborator invokes one classifier, substituting the neutral result
// on error or on an out-of-range result. The pipeline must finish even
// when a collaborator is misbehaving.
func (a *Attacher) callCollaborator(obj *types.AgglomeratedObject, source types.ClassifierSource, report *Report, call func() (types.ClassificationResult, error)) types.ClassificationResult {
	if a.metrics != nil {
		a.metrics.ClassifierCalls.WithLabelValues(string(source)).Inc()
	}

	res, err := call()
	if err == nil {
		err = res.Validate()
	}
	if err != nil {
		a.logger.Warn("classifier soft failure, attaching neutral labels",
			"object_id", obj.ID,
			"source", string(source),
			"error", err)
		if a.metrics != nil {
			a.metrics.ClassifierSoftFailures.WithLabelValues(string(source)).Inc()
		}
		report.recordSoftFailure(source)
		return types.NeutralResult(obj.ID, source)
	}
	return res
}

// resolveNodes combines per-node labels across collaborator results. For
// each node, the compartment from the highest-confidence result that
// labelled it wins; an exact confidence tie between conflicting labels
// resolves to CompartmentUnknown. Node glia scores are confidence-weighted
// means, falling back to the object-level glia score for nodes no
// collaborator scored.
func (a *Attacher) resolveNodes(obj *types.AgglomeratedObject, results []types.ClassificationResult) (map[types.SupervoxelID]types.Compartment, map[types.SupervoxelID]float64) {
	comps := make(map[types.SupervoxelID]types.Compartment, len(obj.Members))
	glia := make(map[types.SupervoxelID]float64, len(obj.Members))

	objGlia := weightedObjectScore(results, func(r types.ClassificationResult) (float64, bool) {
		return r.GliaScore, true
	})

	for _, id := range obj.Members {
		label := types.CompartmentUnknown
		bestConf := -1.0
		for _, res := range results {
			c, ok := res.Compartments[id]
			if !ok {
				continue
			}
			switch {
			case res.Confidence > bestConf:
				label = c
				bestConf = res.Confidence
			case res.Confidence == bestConf && c != label:
				label = types.CompartmentUnknown
			}
		}
		comps[id] = label

		score := weightedObjectScore(results, func(r types.ClassificationResult) (float64, bool) {
			s, ok := r.NodeGliaScores[id]
			return s, ok
		})
		if score < 0 {
			score = objGlia
		}
		glia[id] = score
	}

	return comps, glia
}

// smooth runs majority-vote sweeps over each node's intra-object contact
// neighbors, damping isolated mislabels along skeleton-like paths. Each
// sweep is synchronous: votes are read from the previous sweep's labels.
// Ties keep the node's current label.
func (a *Attacher) smooth(obj *types.AgglomeratedObject, comps map[types.SupervoxelID]types.Compartment) map[types.SupervoxelID]types.Compartment {
	current := comps
	for sweep := 0; sweep < a.cfg.SmoothingSweeps; sweep++ {
		next := make(map[types.SupervoxelID]types.Compartment, len(current))
		changed := false
		for _, id := range obj.Members {
			votes := map[types.Compartment]int{current[id]: 1}
			for _, eid := range a.reg.EdgesOf(id) {
				edge, ok := a.reg.Edge(eid)
				if !ok {
					continue
				}
				other, ok := edge.Other(id)
				if !ok || !obj.Contains(other) {
					continue
				}
				votes[current[other]]++
			}

			label := current[id]
			best := votes[label]
			for _, comp := range types.Compartments {
				if votes[comp] > best {
					label = comp
					best = votes[comp]
				}
			}
			next[id] = label
			if label != current[id] {
				changed = true
			}
		}
		current = next
		if !changed {
			break
		}
	}
	return current
}

// aggregate updates the object's cached label aggregates from the resolved
// node labels and the collaborator results.
func (a *Attacher) aggregate(obj *types.AgglomeratedObject, results []types.ClassificationResult, comps map[types.SupervoxelID]types.Compartment) {
	hist := make(map[types.Compartment]float64, len(types.Compartments))
	for _, id := range obj.Members {
		sv, ok := a.reg.Supervoxel(id)
		if !ok {
			continue
		}
		hist[comps[id]] += float64(sv.Size)
	}
	obj.CompartmentHistogram = hist

	obj.CellTypeScores = combineCellTypeScores(results)

	if score := weightedObjectScore(results, func(r types.ClassificationResult) (float64, bool) {
		return r.GliaScore, true
	}); score >= 0 {
		obj.GliaScore = score
	}

	confs := make([]float64, 0, len(results))
	for _, res := range results {
		confs = append(confs, res.Confidence)
	}
	if len(confs) > 0 {
		obj.Confidence = stat.Mean(confs, nil)
	}
}

// combineCellTypeScores merges object-level cell-type scores across
// collaborators as confidence-weighted means per cell type.
func combineCellTypeScores(results []types.ClassificationResult) types.CellTypeScores {
	combined := make(types.CellTypeScores)
	for _, ct := range types.CellTypes {
		score := weightedObjectScore(results, func(r types.ClassificationResult) (float64, bool) {
			s, ok := r.CellTypeScores[ct]
			return s, ok
		})
		if score >= 0 {
			combined[ct] = score
		}
	}
	if len(combined) == 0 {
		return nil
	}
	return combined
}

// weightedObjectScore computes the confidence-weighted mean of one score
// over the results that carry it. When every contributing result has zero
// confidence the mean degrades to unweighted, so neutral results still
// yield the neutral score instead of NaN. Returns -1 when no result
// carries the score.
func weightedObjectScore(results []types.ClassificationResult, pick func(types.ClassificationResult) (float64, bool)) float64 {
	var values, weights []float64
	totalWeight := 0.0
	for _, res := range results {
		v, ok := pick(res)
		if !ok {
			continue
		}
		values = append(values, v)
		weights = append(weights, res.Confidence)
		totalWeight += res.Confidence
	}
	if len(values) == 0 {
		return -1
	}
	if totalWeight == 0 {
		return stat.Mean(values, nil)
	}
	return stat.Mean(values, weights)
}

// String implements fmt.Stringer for logging
func (r *Report) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("classified %d objects (%d soft failures)",
		r.ObjectsClassified, totalFailures(r.SoftFailures))
}

func totalFailures(m map[types.ClassifierSource]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}
