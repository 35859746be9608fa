package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospitalstats/internal/export"
	"hospitalstats/internal/query"
	"hospitalstats/internal/refdata"
	"hospitalstats/internal/scan"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, scan.DefaultBatchSize, cfg.Scan.BatchSize)
	assert.Equal(t, int64(DefaultRowBudget), cfg.Scan.RowBudget)
	assert.Equal(t, refdata.DefaultCacheSize, cfg.Scan.CacheSize)
	assert.Equal(t, query.DefaultPreviewRows, cfg.Query.PreviewRows)
	assert.Equal(t, 1, cfg.Query.Workers)
	assert.Equal(t, export.DefaultBatchRows, cfg.Export.BatchRows)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Sources.Billing)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOSPITALSTATS_SCAN_BATCH_SIZE", "1000")
	t.Setenv("HOSPITALSTATS_QUERY_WORKERS", "8")
	t.Setenv("HOSPITALSTATS_SOURCES_BILLING", "/data/billing.parquet")
	t.Setenv("HOSPITALSTATS_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Scan.BatchSize)
	assert.Equal(t, 8, cfg.Query.Workers)
	assert.Equal(t, "/data/billing.parquet", cfg.Sources.Billing)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level"}))
}
