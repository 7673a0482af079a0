package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitNone(t *testing.T) {
	shutdown, err := Init(Config{Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(Config{Exporter: "zipkin"})
	require.Error(t, err)
}

func TestInitStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(Config{Exporter: "stdout", ServiceName: "skillbot-test", Version: "test", Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "skill.run")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "skill.run")
	assert.Contains(t, buf.String(), "skillbot-test")
}

func TestInitStdoutExportsMetrics(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(Config{Exporter: "stdout", ServiceName: "skillbot-test", Version: "test", Writer: &buf})
	require.NoError(t, err)

	counter, err := otel.Meter("test").Int64Counter("skillbot.test.turns")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "skillbot.test.turns")
}
