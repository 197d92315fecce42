package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func TestInitInstallsGlobalProvider(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp, err := Init(ctx, Options{Instance: "node-1"}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(ctx, "pipeline.handle")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.handle", spans[0].Name())

	attrs := spans[0].Resource().Attributes()
	assert.Contains(t, attrs, semconv.ServiceNameKey.String("snowball-crawler"))
	assert.Contains(t, attrs, semconv.ServiceInstanceIDKey.String("node-1"))
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}
