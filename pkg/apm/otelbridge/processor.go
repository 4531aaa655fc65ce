// OpenTelemetry bridge: a SpanProcessor that feeds finished spans into the
// APM batch accumulator, letting otel-instrumented applications deliver
// traces through any registered provider.
package otelbridge

import (
	"context"
	"time"

	"github.com/andrewh/apmkit/pkg/apm"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Processor converts ended spans into trace payloads. Register it on a
// TracerProvider with sdktrace.WithSpanProcessor.
type Processor struct {
	provider apm.Provider
	acc      *apm.Accumulator
}

// Compile-time check that Processor satisfies the SDK contract.
var _ sdktrace.SpanProcessor = (*Processor)(nil)

// New builds a Processor feeding the given provider's bucket.
func New(p apm.Provider, acc *apm.Accumulator) *Processor {
	return &Processor{provider: p, acc: acc}
}

// OnStart is a no-op; only completed spans are batched.
func (p *Processor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd queues the finished span and attempts a due batch send. It never
// blocks span completion on delivery problems: a failed send stays queued
// for the next interval.
func (p *Processor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.acc.AddTrace(p.provider.Name(), spanPayload(s))
	p.acc.SendIfDue(context.Background(), p.provider)
}

// ForceFlush sends whatever is queued regardless of the interval gate.
func (p *Processor) ForceFlush(ctx context.Context) error {
	return p.acc.ForceSend(ctx, p.provider).Err
}

// Shutdown drains the bucket before the process exits. A transport failure
// here is returned so the host can log that traces were dropped.
func (p *Processor) Shutdown(ctx context.Context) error {
	return p.acc.ForceSend(ctx, p.provider).Err
}

// spanPayload shapes a read-only span into a trace payload.
func spanPayload(s sdktrace.ReadOnlySpan) apm.TracePayload {
	sc := s.SpanContext()
	payload := apm.TracePayload{
		"type":        "otel.span",
		"name":        s.Name(),
		"trace_id":    sc.TraceID().String(),
		"span_id":     sc.SpanID().String(),
		"kind":        s.SpanKind().String(),
		"start_time":  s.StartTime().UTC().Format(time.RFC3339Nano),
		"duration_ms": float64(s.EndTime().Sub(s.StartTime())) / float64(time.Millisecond),
	}
	if parent := s.Parent(); parent.HasSpanID() {
		payload["parent_span_id"] = parent.SpanID().String()
	}
	if status := s.Status(); status.Code != codes.Unset {
		payload["status"] = status.Code.String()
		if status.Description != "" {
			payload["status_message"] = status.Description
		}
	}
	if attrs := s.Attributes(); len(attrs) > 0 {
		m := make(map[string]any, len(attrs))
		for _, kv := range attrs {
			m[string(kv.Key)] = kv.Value.AsInterface()
		}
		payload["attributes"] = m
	}
	return payload
}
