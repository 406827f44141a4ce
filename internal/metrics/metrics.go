// Package metrics defines the Prometheus collectors for the chunk lifecycle.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "servicechunks"

var (
	GuardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Writes blocked by the contamination guard",
		},
		[]string{"rule"},
	)

	QAOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qa_outcomes_total",
			Help:      "QA reviews by outcome",
		},
		[]string{"status"},
	)

	LifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Verification lifecycle changes",
		},
		[]string{"from", "to"},
	)

	CollaboratorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Calls to search sources and the oracle",
		},
		[]string{"source", "result"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	ConsensusConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_confidence",
			Help:      "Overall consensus confidence of scored search results",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	GenerationCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_cost_usd_total",
			Help:      "Estimated collaborator cost incurred by generation",
		},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "qa_cycle_duration_seconds",
			Help:      "QA cycle duration",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"status"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		},
		[]string{"method", "route", "code"},
	)

	CycleInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "qa_cycle_in_progress",
			Help:      "1 while a QA cycle is running",
		},
	)
)

// Collectors returns every collector of the package
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		GuardRejections,
		QAOutcomes,
		LifecycleTransitions,
		CollaboratorCalls,
		CacheLookups,
		ConsensusConfidence,
		GenerationCost,
		CycleDuration,
		CycleInProgress,
		HTTPRequests,
	}
}

// Register adds the package collectors plus Go runtime collectors to r.
// Collectors already registered with r are ignored.
func Register(r prometheus.Registerer) error {
	all := append(Collectors(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range all {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with every collector registered
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Handler serves the registry in the Prometheus exposition format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Result labels a collaborator call
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
