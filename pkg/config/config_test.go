package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetDefaultsFillsEveryEmptyField(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	require.Equal(t, 3001, cfg.Port)
	require.NotEmpty(t, cfg.ProjectDir)
	require.Equal(t, "tmux", cfg.MultiplexerBin)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
	require.Equal(t, 300, cfg.Indexing.IntervalSeconds)
	require.Equal(t, 60, cfg.Transport.SweepIntervalSeconds)
	require.Equal(t, 30, cfg.Agent.HealthCheckIntervalSeconds)
}

func TestSetDefaultsLeavesExplicitValuesAlone(t *testing.T) {
	cfg := &Config{Port: 9000, Agent: AgentConfig{HealthCheckIntervalSeconds: 5}}
	cfg.SetDefaults()

	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 5, cfg.Agent.HealthCheckIntervalSeconds)
}

func TestProviderConfigValidateRejectsUnknownVariant(t *testing.T) {
	cfg := &ProviderConfig{Variant: "nonsense", TargetDim: 1536}
	require.ErrorContains(t, cfg.Validate(), "unsupported variant")
}

func TestIndexingConfigValidateRejectsOverlapAtOrAboveWindow(t *testing.T) {
	cfg := &IndexingConfig{ChunkWindow: 100, ChunkOverlap: 100}
	require.Error(t, cfg.Validate())

	cfg.ChunkOverlap = 99
	require.NoError(t, cfg.Validate())
}
