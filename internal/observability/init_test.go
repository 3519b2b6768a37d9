package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Sumatoshi-tech/objrt/internal/observability"
)

func TestDefaultConfig_HasSensibleDefaults(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()

	assert.Equal(t, "objrt", cfg.ServiceName)
	assert.Equal(t, observability.ModeCLI, cfg.Mode)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 5, cfg.ShutdownTimeoutSec)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.Zero(t, cfg.SampleRatio)
}

func TestInitWithWriter_NoopWhenNoEndpoint(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true

	providers, err := observability.InitWithWriter(cfg, &buf)
	require.NoError(t, err)

	ctx, span := providers.Tracer.Start(context.Background(), "noop")
	span.End()

	providers.Logger.InfoContext(ctx, "started")

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "started", record["msg"])
	assert.Equal(t, "objrt", record["service"])
	assert.Equal(t, "cli", record["mode"])
	assert.NotContains(t, record, "trace_id")

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInitWithWriter_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogLevel = slog.LevelWarn

	providers, err := observability.InitWithWriter(cfg, &buf)
	require.NoError(t, err)

	providers.Logger.Info("hidden")
	assert.Empty(t, buf.String())

	providers.Logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestBuildResource_Attributes(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "test"
	cfg.Mode = observability.ModeStress

	res, err := observability.ProbeBuildResource(cfg)
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}

	assert.Equal(t, "objrt", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "test", attrs["deployment.environment"])
	assert.Equal(t, "stress", attrs["app.mode"])
}

func TestSelectSampler_Default(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER", "")

	assert.True(t, observability.ProbeSamplerSpan(observability.DefaultConfig()))
}

func TestSelectSampler_EnvAlwaysOff(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER", "always_off")

	assert.False(t, observability.ProbeSamplerSpan(observability.DefaultConfig()))
}

func TestSelectSampler_EnvRatioZero(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER", "traceidratio")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0")

	assert.False(t, observability.ProbeSamplerSpan(observability.DefaultConfig()))
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("garbage"))
	assert.Equal(t,
		map[string]string{"authorization": "Bearer x", "tenant": "a"},
		observability.ParseOTLPHeaders(" authorization = Bearer x ,tenant=a,bad"),
	)
}
