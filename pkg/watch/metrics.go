package watch

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	openSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kcmodel_watch_open_subscriptions",
		Help: "Number of currently open watch subscriptions",
	})

	watchEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kcmodel_watch_events_total",
		Help: "Number of watch events received, broken down by kind and event type",
	}, []string{"kind", "type"})

	watchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kcmodel_watch_failures_total",
		Help: "Number of watch subscriptions that failed to open or ended abnormally",
	}, []string{"group", "version", "kind"})
)

func init() {
	metrics.Registry.MustRegister(openSubscriptions, watchEvents, watchFailures)
}
