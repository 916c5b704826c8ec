// Package otel provides OpenTelemetry integration for petalstat calls and
// worker executions.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petalstat/dispatch"
)

// CallTracer turns finished call observations into spans. Spans are
// backdated to the call's start so their duration matches the call.
type CallTracer struct {
	tracer trace.Tracer
	now    func() time.Time
}

// NewCallTracer creates a CallTracer that uses tracer.
func NewCallTracer(tracer trace.Tracer) *CallTracer {
	return &CallTracer{tracer: tracer, now: time.Now}
}

// ObserveCall implements dispatch.CallObserver.
func (t *CallTracer) ObserveCall(o dispatch.CallObservation) {
	end := t.now()
	_, span := t.tracer.Start(context.Background(), "call:"+o.Tool,
		trace.WithAttributes(
			attribute.String("petalstat.call_id", fmt.Sprint(o.ID)),
			attribute.String("petalstat.tool", o.Tool),
			attribute.String("petalstat.category", o.Category),
			attribute.String("petalstat.transport", o.Transport),
			attribute.String("petalstat.phase", string(o.Phase)),
		),
		trace.WithTimestamp(end.Add(-o.Duration)),
	)

	if o.Kind != "" {
		span.SetAttributes(attribute.String("petalstat.error_kind", o.Kind))
		span.SetStatus(codes.Error, o.Kind)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

var _ dispatch.CallObserver = (*CallTracer)(nil)
