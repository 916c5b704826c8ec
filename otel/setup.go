package otel

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

const instrumentationName = "github.com/petal-labs/petalstat"

// Shutdown flushes and stops exporters started by SetupTracing.
type Shutdown func(ctx context.Context) error

// SetupTracing installs a global tracer provider exporting over OTLP/HTTP to
// endpoint. An empty endpoint leaves the global no-op provider in place.
func SetupTracing(ctx context.Context, endpoint, serviceName string) (Shutdown, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Instrument wires OpenTelemetry observers into the worker executor and
// returns the call observers to hand to the dispatcher. The returned cleanup
// resets the worker observer to a no-op.
func Instrument(meter metric.Meter, tracer trace.Tracer) ([]dispatch.CallObserver, func(), error) {
	workers, err := NewToolObserver(meter, tracer)
	if err != nil {
		return nil, nil, fmt.Errorf("creating worker observer: %w", err)
	}
	calls, err := NewCallMetrics(meter)
	if err != nil {
		return nil, nil, fmt.Errorf("creating call metrics: %w", err)
	}

	tool.SetObserver(workers)
	observers := []dispatch.CallObserver{calls, NewCallTracer(tracer)}
	return observers, func() { tool.SetObserver(nil) }, nil
}

// InstrumentGlobal is Instrument using the global meter and tracer providers.
func InstrumentGlobal() ([]dispatch.CallObserver, func(), error) {
	return Instrument(
		otel.GetMeterProvider().Meter(instrumentationName),
		otel.GetTracerProvider().Tracer(instrumentationName),
	)
}
