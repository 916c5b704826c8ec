package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

const unknownToolLabel = "_unknown"

// Metrics exposes dispatch counters in the Prometheus text format. It is a
// dispatch.CallObserver; admission gauges are read from stats on scrape.
type Metrics struct {
	registry  *prometheus.Registry
	responses *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics(stats func() dispatch.Stats) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "petalstat_calls_executing",
		Help: "Number of calls whose worker is currently running",
	}, func() float64 { return float64(stats().Executing) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "petalstat_calls_queued",
		Help: "Number of calls waiting for an execution slot",
	}, func() float64 { return float64(stats().Queued) })

	return &Metrics{
		registry: registry,
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "petalstat_responses_total",
			Help: "Total number of call responses by tool, transport and outcome",
		}, []string{"tool", "transport", "kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "petalstat_call_duration_seconds",
			Help:    "End-to-end call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"tool", "transport"}),
	}
}

// ObserveCall implements dispatch.CallObserver.
func (m *Metrics) ObserveCall(o dispatch.CallObservation) {
	kind := o.Kind
	if kind == "" {
		kind = "OK"
	}
	name := o.Tool
	if o.Kind == tool.KindUnknownTool {
		// Unknown names come from clients; keep label cardinality bounded.
		name = unknownToolLabel
	}
	m.responses.WithLabelValues(name, o.Transport, kind).Inc()
	m.duration.WithLabelValues(name, o.Transport).Observe(o.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var _ dispatch.CallObserver = (*Metrics)(nil)
