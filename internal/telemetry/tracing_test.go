package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/aiox-platform/mnemo/internal/config"
)

func TestInit_DisabledInstallsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "mnemo", "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	_, err := Init(context.Background(), config.TracingConfig{Enabled: true, Endpoint: "  "}, "mnemo", "test")
	assert.Error(t, err)
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "collector:4317", normalizeEndpoint("http://collector:4317"))
	assert.Equal(t, "collector:4317", normalizeEndpoint(" collector:4317 "))
	assert.Equal(t, "", normalizeEndpoint(""))
}
