package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/medsum/platform/internal/shared/config"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, "test", logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), config.TelemetryConfig{Enabled: true, ServiceName: "t", Exporter: "zipkin"}, "test", logger.NewNop())
	require.Error(t, err)
}

func TestStartAndEnd(t *testing.T) {
	ctx, span := Start(context.Background(), "unit")
	require.NotNil(t, ctx)
	End(span, errors.New("boom"))
}
