// Package metrics exposes Prometheus instrumentation for the pipeline.
// All Collector methods are safe on a nil receiver so callers can run
// without metrics wired.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every pipeline-level metric.
type Collector struct {
	stageCalls      *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	poolExhausted   prometheus.Counter
	retrievalRounds prometheus.Histogram
	graphNodes      prometheus.Gauge
	graphEdges      prometheus.Gauge
	runsCompleted   *prometheus.CounterVec
}

// NewCollector registers all metrics with the given registerer. A nil
// registerer uses the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		stageCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sciflow",
			Name:      "stage_calls_total",
			Help:      "Model calls issued per stage, by outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sciflow",
			Name:      "stage_call_duration_seconds",
			Help:      "Wall time of model calls per stage, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sciflow",
			Name:      "stage_retries_total",
			Help:      "In-place retries of transient call failures per stage.",
		}, []string{"stage"}),
		rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sciflow",
			Name:      "credential_rotations_total",
			Help:      "Credential failovers triggered by credential-class errors.",
		}, []string{"stage"}),
		poolExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sciflow",
			Name:      "credential_pool_exhausted_total",
			Help:      "Calls that found no usable credential.",
		}),
		retrievalRounds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sciflow",
			Name:      "retrieval_rounds",
			Help:      "Retrieve-reflect rounds used per retrieval request.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		graphNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sciflow",
			Name:      "concept_graph_nodes",
			Help:      "Nodes in the most recently ingested concept graph.",
		}),
		graphEdges: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sciflow",
			Name:      "concept_graph_edges",
			Help:      "Edges in the most recently ingested concept graph.",
		}),
		runsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sciflow",
			Name:      "runs_finished_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"status"}),
	}
}

func (c *Collector) ObserveStageCall(stage string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	c.stageCalls.WithLabelValues(stage, outcome).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) IncRetry(stage string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(stage).Inc()
}

func (c *Collector) IncRotation(stage string) {
	if c == nil {
		return
	}
	c.rotations.WithLabelValues(stage).Inc()
}

func (c *Collector) IncPoolExhausted() {
	if c == nil {
		return
	}
	c.poolExhausted.Inc()
}

func (c *Collector) ObserveRetrievalRounds(rounds int) {
	if c == nil {
		return
	}
	c.retrievalRounds.Observe(float64(rounds))
}

func (c *Collector) SetGraphSize(nodes, edges int) {
	if c == nil {
		return
	}
	c.graphNodes.Set(float64(nodes))
	c.graphEdges.Set(float64(edges))
}

func (c *Collector) IncRunFinished(status string) {
	if c == nil {
		return
	}
	c.runsCompleted.WithLabelValues(status).Inc()
}
