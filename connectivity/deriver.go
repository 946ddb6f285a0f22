// Package connectivity derives the wiring diagram: per-contact synapse
// evidence is aggregated into directed edges between resolved neuron
// objects. Aggregation is a commutative reduce over contact edges, so the
// result is independent of processing order; glia objects are excluded
// entirely rather than appearing as implausible partners.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ada52/SyConn/agglo"
	"github.com/ada52/SyConn/config"
	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/metric"
	"github.com/ada52/SyConn/pkg/worker"
	"github.com/ada52/SyConn/registry"
	"github.com/ada52/SyConn/types"
)

const defaultDrainTimeout = time.Hour

// Matrix is the derived connectivity for one graph snapshot. Edges are
// sorted by (pre, post) id; undirected pairs appear once per direction
// with Directed false.
type Matrix struct {
	Edges []types.ConnectivityEdge `json:"edges"`

	// ExcludedGlia counts contacts dropped because an endpoint object
	// resolved as glia; SkippedUnresolved counts contacts dropped in
	// best-effort mode because an endpoint object never stabilized.
	ExcludedGlia      int `json:"excluded_glia"`
	SkippedUnresolved int `json:"skipped_unresolved"`

	// DiscardedPairs counts pairs dropped by the polarity policy
	// (dendrite-to-dendrite contacts under the compartment policy).
	DiscardedPairs int `json:"discarded_pairs"`

	// AxonAxonPairs counts pairs where both endpoints are axon-dominant
	// under the compartment policy. These are kept, but tracked
	// separately because they usually indicate en-passant contacts.
	AxonAxonPairs int `json:"axon_axon_pairs"`
}

// pairEvidence accumulates synapse evidence for one unordered object
// pair. All fields combine by addition, so accumulation commutes.
// Polarity votes are weighted by synapse area so a single large contact
// outweighs many small ones.
type pairEvidence struct {
	count   int
	area    float64
	probSum float64
	probN   int

	votesLoHi float64
	votesHiLo float64
}

type accumulator struct {
	mu    sync.Mutex
	pairs map[types.PairKey]*pairEvidence

	excludedGlia      int
	skippedUnresolved int
	synapses          int64
}

func (a *accumulator) add(key types.PairKey, syn types.SynapseEvidence, votesLoHi, votesHiLo float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev, ok := a.pairs[key]
	if !ok {
		ev = &pairEvidence{}
		a.pairs[key] = ev
	}
	ev.count += syn.Count
	ev.area += syn.Area
	ev.probSum += syn.Probability
	ev.probN++
	ev.votesLoHi += votesLoHi
	ev.votesHiLo += votesHiLo
	a.synapses += int64(syn.Count)
}

func (a *accumulator) exclude(glia bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if glia {
		a.excludedGlia++
	} else {
		a.skippedUnresolved++
	}
}

// Deriver aggregates synapse-bearing contacts into a connectivity matrix
type Deriver struct {
	reg *registry.Registry

	cfg     config.ConnectivityConfig
	gliaCfg config.GliaConfig
	workers config.WorkerConfig

	drainTimeout time.Duration

	logger          *slog.Logger
	metrics         *metric.Metrics
	metricsRegistry *metric.MetricsRegistry
}

// Option configures a Deriver
type Option func(*Deriver)

// WithLogger sets the deriver's logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deriver) { d.logger = logger }
}

// WithMetrics wires the deriver and its worker pool to the pipeline's
// metrics registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(d *Deriver) {
		d.metricsRegistry = registry
		d.metrics = registry.CoreMetrics()
	}
}

// WithDrainTimeout overrides the phase barrier timeout
func WithDrainTimeout(t time.Duration) Option {
	return func(d *Deriver) { d.drainTimeout = t }
}

// NewDeriver creates a connectivity deriver over a sealed registry
func NewDeriver(reg *registry.Registry, cfg *config.Config, opts ...Option) *Deriver {
	d := &Deriver{
		reg:          reg,
		cfg:          cfg.Connectivity,
		gliaCfg:      cfg.Glia,
		workers:      cfg.Workers,
		drainTimeout: defaultDrainTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Derive aggregates all synapse-bearing contacts between distinct objects
// into connectivity edges. Unresolved objects fail the derivation unless
// best-effort mode is configured, in which case their contacts are skipped
// and counted. Glia objects never appear in the output.
func (d *Deriver) Derive(ctx context.Context, partition *agglo.Partition, objects []*types.AgglomeratedObject) (*Matrix, error) {
	byID := make(map[types.ObjectID]*types.AgglomeratedObject, len(objects))
	for _, obj := range objects {
		byID[obj.ID] = obj
		if obj.State == types.StateUnresolved && !d.cfg.BestEffort {
			return nil, errors.WrapFatal(errors.ErrUnresolvedGlia, "Deriver", "Derive",
				fmt.Sprintf("object %d is unresolved; enable best_effort to derive anyway", obj.ID))
		}
	}

	acc := &accumulator{pairs: make(map[types.PairKey]*pairEvidence)}

	var poolOpts []worker.Option[types.ContactEdge]
	if d.metricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[types.ContactEdge](
			d.metricsRegistry, "syconn_derive"))
	}
	pool := worker.NewPool(d.workers.DeriveWorkers, d.workers.QueueSize,
		func(_ context.Context, edge types.ContactEdge) error {
			d.accumulate(partition, byID, acc, edge)
			return nil
		}, poolOpts...)

	if err := pool.Start(ctx); err != nil {
		return nil, errors.WrapFatal(err, "Deriver", "Derive", "start worker pool")
	}
	for _, edge := range d.reg.Edges() {
		if !edge.HasSynapse() {
			continue
		}
		if err := pool.Submit(ctx, edge); err != nil {
			pool.Drain(d.drainTimeout)
			return nil, errors.WrapTransient(err, "Deriver", "Derive", "submit contact")
		}
	}
	if err := pool.Drain(d.drainTimeout); err != nil {
		return nil, errors.WrapTransient(err, "Deriver", "Derive", "drain worker pool")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Deriver", "Derive", "derivation cancelled")
	}

	matrix := d.resolve(acc, byID)

	if d.metrics != nil {
		d.metrics.ConnectivityEdges.Set(float64(len(matrix.Edges)))
		d.metrics.SynapsesAccumulated.Add(float64(acc.synapses))
	}
	d.logger.Info("connectivity derived",
		"edges", len(matrix.Edges),
		"excluded_glia", matrix.ExcludedGlia,
		"skipped_unresolved", matrix.SkippedUnresolved,
		"policy", d.cfg.PolarityPolicy)

	return matrix, nil
}

// accumulate folds one synapse-bearing contact into the pair accumulator
func (d *Deriver) accumulate(partition *agglo.Partition, byID map[types.ObjectID]*types.AgglomeratedObject, acc *accumulator, edge types.ContactEdge) {
	oa, okA := partition.ObjectIDOf(edge.A)
	ob, okB := partition.ObjectIDOf(edge.B)
	if !okA || !okB || oa == ob {
		// intra-object synapses carry no wiring information
		return
	}

	objA, objB := byID[oa], byID[ob]
	if objA == nil || objB == nil {
		return
	}
	if objA.State == types.StateUnresolved || objB.State == types.StateUnresolved {
		acc.exclude(false)
		return
	}
	if objA.IsGlia(d.gliaCfg.HighThreshold) || objB.IsGlia(d.gliaCfg.HighThreshold) {
		acc.exclude(true)
		return
	}

	key := types.MakePairKey(oa, ob)
	votesLoHi, votesHiLo := 0.0, 0.0
	weight := edge.Synapse.Area
	switch edge.Synapse.Polarity {
	case types.PolarityAToB:
		if oa == key.Lo {
			votesLoHi = weight
		} else {
			votesHiLo = weight
		}
	case types.PolarityBToA:
		if ob == key.Lo {
			votesLoHi = weight
		} else {
			votesHiLo = weight
		}
	}
	acc.add(key, *edge.Synapse, votesLoHi, votesHiLo)
}

// resolve turns accumulated pair evidence into directed edges under the
// configured polarity policy, sorted by (pre, post).
func (d *Deriver) resolve(acc *accumulator, byID map[types.ObjectID]*types.AgglomeratedObject) *Matrix {
	matrix := &Matrix{
		ExcludedGlia:      acc.excludedGlia,
		SkippedUnresolved: acc.skippedUnresolved,
	}

	keys := make([]types.PairKey, 0, len(acc.pairs))
	for key := range acc.pairs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Lo != keys[j].Lo {
			return keys[i].Lo < keys[j].Lo
		}
		return keys[i].Hi < keys[j].Hi
	})

	for _, key := range keys {
		ev := acc.pairs[key]
		meanConf := 0.0
		if ev.probN > 0 {
			meanConf = ev.probSum / float64(ev.probN)
		}

		emit := func(pre, post types.ObjectID, directed bool) {
			matrix.Edges = append(matrix.Edges, types.ConnectivityEdge{
				PreID:            pre,
				PostID:           post,
				SynapseCount:     ev.count,
				TotalSynapseArea: ev.area,
				MeanConfidence:   meanConf,
				Directed:         directed,
			})
		}

		switch d.cfg.PolarityPolicy {
		case config.PolarityPolicySymmetric:
			emit(key.Lo, key.Hi, false)
			emit(key.Hi, key.Lo, false)

		case config.PolarityPolicyCompartment:
			loAxon := axonFraction(byID[key.Lo])
			hiAxon := axonFraction(byID[key.Hi])
			if loAxon >= 0.5 && hiAxon >= 0.5 {
				matrix.AxonAxonPairs++
			}
			switch {
			case loAxon == 0 && hiAxon == 0:
				// dendrite-to-dendrite contact, discarded
				matrix.DiscardedPairs++
			case loAxon > hiAxon:
				emit(key.Lo, key.Hi, true)
			case hiAxon > loAxon:
				emit(key.Hi, key.Lo, true)
			default:
				emit(key.Lo, key.Hi, false)
				emit(key.Hi, key.Lo, false)
			}

		default: // evidence
			switch {
			case ev.votesLoHi > ev.votesHiLo:
				emit(key.Lo, key.Hi, true)
			case ev.votesHiLo > ev.votesLoHi:
				emit(key.Hi, key.Lo, true)
			default:
				emit(key.Lo, key.Hi, false)
				emit(key.Hi, key.Lo, false)
			}
		}
	}

	// Undirected pairs emit twice; a final sort restores (pre, post) order
	sort.Slice(matrix.Edges, func(i, j int) bool {
		if matrix.Edges[i].PreID != matrix.Edges[j].PreID {
			return matrix.Edges[i].PreID < matrix.Edges[j].PreID
		}
		return matrix.Edges[i].PostID < matrix.Edges[j].PostID
	})
	return matrix
}

// axonFraction returns the share of an object's classified mass labelled
// axon. Zero for objects with no axon mass or no classification.
func axonFraction(obj *types.AgglomeratedObject) float64 {
	if obj == nil {
		return 0
	}
	var total float64
	for _, mass := range obj.CompartmentHistogram {
		total += mass
	}
	if total == 0 {
		return 0
	}
	return obj.CompartmentHistogram[types.CompartmentAxon] / total
}
