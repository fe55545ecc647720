package resources

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	listCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kcmodel_provider_list_total",
		Help: "Number of list calls issued by resource providers, broken down by group, version, kind",
	}, []string{"group", "version", "kind"})

	listFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kcmodel_provider_list_failures_total",
		Help: "Number of failed list calls issued by resource providers, broken down by group, version, kind",
	}, []string{"group", "version", "kind"})

	cachedResources = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kcmodel_provider_cached_resources",
		Help: "Number of resources cached by the metered provider of a kind",
	}, []string{"group", "version", "kind"})
)

func init() {
	metrics.Registry.MustRegister(listCalls, listFailures, cachedResources)
}
