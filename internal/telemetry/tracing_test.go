package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRequiresName(t *testing.T) {
	_, err := InitTracerProvider(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitTracerProviderPropagatesTraceContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := InitTracerProvider(context.Background(),
		Config{ServiceName: "crawl-supervisor", ServiceVersion: "test", SampleRatio: 1},
		sdktrace.WithSyncer(exporter),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "publish")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	assert.NotEmpty(t, carrier.Get("traceparent"))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "publish", spans[0].Name)
}
