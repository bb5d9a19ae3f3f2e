package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tileview"

// Metrics groups the pipeline's collectors. All fields are safe for
// concurrent use.
type Metrics struct {
	TilesFinished   *prometheus.CounterVec
	SourceResults   *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	NetworkInFlight prometheus.Gauge
	NetworkQueued   prometheus.Gauge
	RenderDuration  prometheus.Histogram
	RenderQueue     prometheus.Gauge
	Busy            prometheus.Gauge
	TrackedTiles    prometheus.Gauge
	Reloads         prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TilesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_finished_total",
			Help:      "Tiles that reached the done state, by outcome.",
		}, []string{"outcome"}),
		SourceResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_results_total",
			Help:      "Fill attempts per source, by result.",
		}, []string{"source", "result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Tile cache lookups, by source and hit/miss.",
		}, []string{"source", "result"}),
		NetworkInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_inflight_requests",
			Help:      "Tile requests currently on the wire.",
		}),
		NetworkQueued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_queued_requests",
			Help:      "Tile requests waiting for a connection slot.",
		}),
		RenderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent rasterizing one tile.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		RenderQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_queue_length",
			Help:      "Work items waiting for a render worker.",
		}),
		Busy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_tiles",
			Help:      "Tracked tiles currently loading.",
		}),
		TrackedTiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_tiles",
			Help:      "Tiles tracked by viewport schedulers.",
		}),
		Reloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_reloads_total",
			Help:      "Dataset or style reloads that invalidated rendered tiles.",
		}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and
// callers that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
