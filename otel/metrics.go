package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

// CallMetrics records dispatched calls into OpenTelemetry metrics.
type CallMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewCallMetrics creates the call instruments on meter.
func NewCallMetrics(meter metric.Meter) (*CallMetrics, error) {
	calls, err := meter.Int64Counter("petalstat.calls",
		metric.WithDescription("Number of dispatched calls"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("petalstat.call.failures",
		metric.WithDescription("Number of calls answered with an error envelope"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("petalstat.call.duration",
		metric.WithDescription("End-to-end call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &CallMetrics{
		calls:    calls,
		failures: failures,
		duration: duration,
	}, nil
}

// ObserveCall implements dispatch.CallObserver.
func (m *CallMetrics) ObserveCall(o dispatch.CallObservation) {
	ctx := context.Background()
	name := o.Tool
	if o.Kind == tool.KindUnknownTool {
		name = "_unknown"
	}
	attrs := metric.WithAttributes(
		attribute.String("tool_name", name),
		attribute.String("transport", o.Transport),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, o.Duration.Seconds(), attrs)
	if o.Kind != "" {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool_name", name),
			attribute.String("transport", o.Transport),
			attribute.String("kind", o.Kind),
		))
	}
}

var _ dispatch.CallObserver = (*CallMetrics)(nil)
