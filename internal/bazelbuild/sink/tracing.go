package sink

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/axl-run/axl/internal/bazelbuild"
)

var tracer = otel.Tracer("github.com/axl-run/axl/internal/bazelbuild/sink")

// Tracing is the mandatory sink spec.md §4.7 requires every build session to
// run alongside any declared sinks: it opens one span for the lifetime of
// the subscription and records one event per frame. It is deliberately
// payload-blind (spec.md §1 does not cover Bazel-specific event payload
// semantics, so this sink reports frame metadata rather than decoding
// build-event variants).
type Tracing struct {
	// SpanName overrides the default span name, mainly for tests.
	SpanName string
}

var _ bazelbuild.Sink = (*Tracing)(nil)

// Run opens a span for the lifetime of the subscription, adding one event per
// frame until the subscriber disconnects, then closes it (spec.md §4.9).
func (t *Tracing) Run(ctx context.Context, sub *bazelbuild.Subscriber[bazelbuild.RawEvent]) error {
	name := t.SpanName
	if name == "" {
		name = "bazel.build_events"
	}
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	var seq int64
	for {
		event, ok := sub.Recv()
		if !ok {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		seq++
		span.AddEvent("build_event", trace.WithAttributes(
			attribute.Int64("sequence_number", seq),
			attribute.Int("payload_bytes", len(event.Payload)),
			attribute.Bool("last_message", event.LastMessage),
		))
		if event.LastMessage {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
