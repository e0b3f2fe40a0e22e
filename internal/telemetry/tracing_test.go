package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// These tests mutate the global otel state and do not run in parallel.

func TestInitDisabledInstallsPropagator(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	require.Contains(t, fields, "traceparent")
	require.Contains(t, fields, "baggage")
}

func TestInitRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := Init(context.Background(), Config{
		Enabled:     true,
		ServiceName: "sitecrawler-test",
		SampleRatio: 1,
	}, WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ctx, span := otel.Tracer("telemetry-test").Start(context.Background(), "crawl.run")
	require.True(t, span.SpanContext().IsValid())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "crawl.run", ended[0].Name())
}

func TestInitValidation(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, SampleRatio: 1})
	require.ErrorContains(t, err, "service name")

	_, err = Init(context.Background(), Config{Enabled: true, ServiceName: "x", SampleRatio: 2})
	require.ErrorContains(t, err, "sample ratio")
}
