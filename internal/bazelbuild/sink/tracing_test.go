package sink

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/axl-run/axl/internal/bazelbuild"
)

func withRecordedSpans(t *testing.T, fn func()) []sdktrace.ReadOnlySpan {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(prev)

	fn()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("provider.Shutdown() error: %v", err)
	}
	return exporter.GetSpans().Snapshots()
}

func TestTracingRunRecordsOneEventPerFrame(t *testing.T) {
	b := bazelbuild.NewBroadcaster[bazelbuild.RawEvent]()
	sub := b.Subscribe()

	spans := withRecordedSpans(t, func() {
		tr := &Tracing{SpanName: "test.span"}
		done := make(chan error, 1)
		go func() { done <- tr.Run(context.Background(), sub) }()

		b.Send(bazelbuild.RawEvent{Payload: []byte("one")})
		b.Send(bazelbuild.RawEvent{Payload: []byte("two"), LastMessage: true})

		if err := <-done; err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	})

	if len(spans) != 1 {
		t.Fatalf("recorded %d spans; want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "test.span" {
		t.Fatalf("span name = %q; want %q", span.Name(), "test.span")
	}
	if got := len(span.Events()); got != 2 {
		t.Fatalf("recorded %d span events; want 2", got)
	}
}

func TestTracingRunStopsOnBroadcasterClose(t *testing.T) {
	b := bazelbuild.NewBroadcaster[bazelbuild.RawEvent]()
	sub := b.Subscribe()

	spans := withRecordedSpans(t, func() {
		tr := &Tracing{}
		done := make(chan error, 1)
		go func() { done <- tr.Run(context.Background(), sub) }()

		b.Close()

		if err := <-done; err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	})

	if len(spans) != 1 {
		t.Fatalf("recorded %d spans; want 1", len(spans))
	}
	if got := len(spans[0].Events()); got != 0 {
		t.Fatalf("recorded %d span events for a closed-with-no-events broadcaster; want 0", got)
	}
}

func TestTracingRunDefaultSpanName(t *testing.T) {
	b := bazelbuild.NewBroadcaster[bazelbuild.RawEvent]()
	sub := b.Subscribe()

	spans := withRecordedSpans(t, func() {
		tr := &Tracing{}
		done := make(chan error, 1)
		go func() { done <- tr.Run(context.Background(), sub) }()
		b.Close()
		<-done
	})

	if len(spans) != 1 || spans[0].Name() != "bazel.build_events" {
		t.Fatalf("span = %+v; want default name bazel.build_events", spans)
	}
}
