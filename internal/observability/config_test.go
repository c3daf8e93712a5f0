package observability

import (
	"testing"

	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/stretchr/testify/require"
)

func clearObsEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DEPLOYMENT_ENV", "LOG_LEVEL", "LOG_FORMAT", "OTEL_ENABLED", "OTEL_SAMPLING_RATIO", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(key, "")
		t.Setenv(envPrefix+key, "")
	}
}

func TestLoadConfigProductionDefaults(t *testing.T) {
	clearObsEnv(t)

	cfg := LoadConfig(config.Config{Environment: "production", OTLPEndpoint: "collector:4317"})
	require.Equal(t, "coursemart", cfg.ServiceName)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, 0.1, cfg.OtelSamplingRatio)
	require.True(t, cfg.OtelEnabled)
	require.False(t, cfg.Debug())
}

func TestLoadConfigDevDefaults(t *testing.T) {
	clearObsEnv(t)

	cfg := LoadConfig(config.Config{Environment: "local"})
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
	require.Equal(t, 1.0, cfg.OtelSamplingRatio)
	require.False(t, cfg.OtelEnabled)
	require.True(t, cfg.Debug())
}

func TestLoadConfigPrefixedOverrideWins(t *testing.T) {
	clearObsEnv(t)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("COURSEMART_LOG_LEVEL", "error")
	t.Setenv("OTEL_SAMPLING_RATIO", "4")

	cfg := LoadConfig(config.Config{Environment: "production"})
	require.Equal(t, "error", cfg.LogLevel)
	require.Equal(t, 1.0, cfg.OtelSamplingRatio)
}
