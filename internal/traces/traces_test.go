package traces

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupOTelSDK(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4318")

	ctx := context.Background()
	shutdown, err := SetupOTelSDK(ctx, "forge-test")
	require.NoError(t, err)

	_, span := otel.Tracer("forge.test").Start(ctx, "test span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NotPanics(t, func() { _ = shutdown(ctx) })
}
