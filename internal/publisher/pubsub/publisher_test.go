package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/policy-crawler/internal/publisher"
)

func TestAttributesInjectTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	src := map[string]string{"source": "laws"}
	attrs := attributes(ctx, publisher.Message{Attributes: src})

	require.Equal(t, "laws", attrs["source"])
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", attrs["traceparent"])
	require.NotContains(t, src, "traceparent")
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()
	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("a", "1")
	require.Equal(t, "1", c.Get("a"))
	require.Equal(t, []string{"a"}, c.Keys())
}

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{ProjectID: "proj"})
	require.Error(t, err)

	var p *Publisher
	_, err = p.Publish(context.Background(), publisher.Message{})
	require.Error(t, err)
	require.NoError(t, p.Close())
}
