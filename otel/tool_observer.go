package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petalstat/tool"
)

// ToolObserver records worker executions into OpenTelemetry.
type ToolObserver struct {
	tracer trace.Tracer

	executions metric.Int64Counter
	failures   metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewToolObserver creates a worker observer bound to the provided meter/tracer.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	executions, err := meter.Int64Counter(
		"petalstat.worker.executions",
		metric.WithDescription("Number of worker process executions"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"petalstat.worker.failures",
		metric.WithDescription("Number of worker executions that did not succeed"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"petalstat.worker.duration",
		metric.WithDescription("Worker wall-clock duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		tracer:     tracer,
		executions: executions,
		failures:   failures,
		latency:    latency,
	}, nil
}

// ObserveExecution records one worker execution.
func (o *ToolObserver) ObserveExecution(observation tool.ExecutionObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.ToolName),
		attribute.String("category", observation.Category),
		attribute.String("outcome", string(observation.Outcome)),
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.executions.Add(ctx, 1, options)
	if observation.Outcome != tool.OutcomeSuccess {
		o.failures.Add(ctx, 1, options)
	}
	duration := time.Duration(observation.DurationMS) * time.Millisecond
	o.latency.Record(ctx, duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	end := time.Now()
	_, span := o.tracer.Start(ctx, "worker.execute",
		trace.WithAttributes(attrs...),
		trace.WithAttributes(
			attribute.Int("exit_code", observation.ExitCode),
			attribute.Int("pid", observation.PID),
		),
		trace.WithTimestamp(end.Add(-duration)),
	)
	if observation.Outcome != tool.OutcomeSuccess {
		span.SetStatus(codes.Error, string(observation.Outcome))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

var _ tool.Observer = (*ToolObserver)(nil)
