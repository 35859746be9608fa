// Package config loads application configuration from file and environment
// and owns global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hospitalstats/internal/export"
	"hospitalstats/internal/query"
	"hospitalstats/internal/refdata"
	"hospitalstats/internal/scan"
)

// Config holds the full application configuration.
type Config struct {
	Sources SourcesConfig `yaml:"sources" mapstructure:"sources"`
	Scan    ScanConfig    `yaml:"scan" mapstructure:"scan"`
	Query   QueryConfig   `yaml:"query" mapstructure:"query"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// SourcesConfig points at the three extracts.
type SourcesConfig struct {
	Billing      string `yaml:"billing" mapstructure:"billing"`
	Affiliations string `yaml:"affiliations" mapstructure:"affiliations"`
	Directory    string `yaml:"directory" mapstructure:"directory"`
}

// ScanConfig configures the streaming scan over the billing extract.
type ScanConfig struct {
	BatchSize int   `yaml:"batch_size" mapstructure:"batch_size"`
	RowBudget int64 `yaml:"row_budget" mapstructure:"row_budget"`
	CacheSize int   `yaml:"cache_size" mapstructure:"cache_size"`
}

// QueryConfig configures result shaping.
type QueryConfig struct {
	PreviewRows int `yaml:"preview_rows" mapstructure:"preview_rows"`
	Workers     int `yaml:"workers" mapstructure:"workers"`
}

// ExportConfig configures result export.
type ExportConfig struct {
	BatchRows   int    `yaml:"batch_rows" mapstructure:"batch_rows"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultRowBudget caps a single query's scan; beyond it the result is
// reported as partial. 0 disables the cap.
const DefaultRowBudget = 5_000_000

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HOSPITALSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key gets one so environment-only overrides are
	// visible to Unmarshal.
	v.SetDefault("sources.billing", "")
	v.SetDefault("sources.affiliations", "")
	v.SetDefault("sources.directory", "")
	v.SetDefault("export.database_url", "")
	v.SetDefault("scan.batch_size", scan.DefaultBatchSize)
	v.SetDefault("scan.row_budget", DefaultRowBudget)
	v.SetDefault("scan.cache_size", refdata.DefaultCacheSize)
	v.SetDefault("query.preview_rows", query.DefaultPreviewRows)
	v.SetDefault("query.workers", 1)
	v.SetDefault("export.batch_rows", export.DefaultBatchRows)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
