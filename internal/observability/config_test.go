package observability

import (
	"testing"

	"github.com/smallbiznis/vestora/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment:      "production",
		LogLevel:         "info",
		TraceSampleRatio: 4,
	})
	require.Equal(t, "vestora", cfg.ServiceName)
	require.Equal(t, 0.1, cfg.OtelSamplingRatio)
	require.False(t, cfg.Debug())

	cfg = LoadConfig(config.Config{AppName: "vestora-scheduler", Environment: "local"})
	require.Equal(t, "vestora-scheduler", cfg.ServiceName)
	require.True(t, cfg.Debug())
}
