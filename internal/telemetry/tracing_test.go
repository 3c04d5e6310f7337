package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerProviderInstallsGlobals(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, "frontier-test", 1)
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(ctx)) }()

	require.Same(t, tp, otel.GetTracerProvider())
	fields := otel.GetTextMapPropagator().Fields()
	require.Contains(t, fields, "traceparent")
	require.Contains(t, fields, "baggage")

	_, span := otel.Tracer("test").Start(ctx, "op")
	require.True(t, span.SpanContext().IsSampled())
	span.End()
}
