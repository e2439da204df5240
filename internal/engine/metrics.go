package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the engine's Prometheus instruments. A nil registerer keeps
// the instruments live but unexported, which is what tests want.
type metrics struct {
	cycles         prometheus.Counter
	uploaded       prometheus.Counter
	downloaded     prometheus.Counter
	conflicts      prometheus.Counter
	uploadErrors   prometheus.Counter
	downloadErrors prometheus.Counter
	syncing        prometheus.Gauge
	pendingDepth   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgesync",
			Name:      "cycles_total",
			Help:      "Completed sync cycles, successful or degraded.",
		}),
		uploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgesync",
			Name:      "records_uploaded_total",
			Help:      "Records confirmed accepted by the remote authority.",
		}),
		downloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgesync",
			Name:      "records_downloaded_total",
			Help:      "Remote records merged into the local store.",
		}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgesync",
			Name:      "conflicts_total",
			Help:      "Downloads whose resolution differed from the local value.",
		}),
		uploadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgesync",
			Name:      "upload_errors_total",
			Help:      "Cycles whose upload leg failed.",
		}),
		downloadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edgesync",
			Name:      "download_errors_total",
			Help:      "Cycles whose download leg failed.",
		}),
		syncing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgesync",
			Name:      "syncing",
			Help:      "1 while a sync cycle is running.",
		}),
		pendingDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgesync",
			Name:      "pending_records",
			Help:      "Records currently marked pending upload.",
		}),
	}
}
