package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the daemon's prometheus collectors. A nil *Metrics is valid
// everywhere one is accepted and disables instrumentation.
type Metrics struct {
	SyncCycles    *prometheus.CounterVec
	RecordsPulled prometheus.Counter
	RecordsPushed prometheus.Counter
	TicksSkipped  prometheus.Counter
	PeersVisible  prometheus.Gauge
	CycleDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SyncCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invsync",
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Completed sync cycles by result.",
		}, []string{"result"}),
		RecordsPulled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "invsync",
			Subsystem: "engine",
			Name:      "records_pulled_total",
			Help:      "Records pulled from peers and replayed locally.",
		}),
		RecordsPushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "invsync",
			Subsystem: "engine",
			Name:      "records_pushed_total",
			Help:      "Local records pushed to peers.",
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "invsync",
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Timer ticks skipped because a cycle was still in flight.",
		}),
		PeersVisible: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "invsync",
			Subsystem: "discovery",
			Name:      "peers_visible",
			Help:      "Peers currently visible on the LAN.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "invsync",
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of sync cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
