package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hospitalstats/internal/config"
	"hospitalstats/internal/refdata"
	"hospitalstats/internal/scan"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "hospitalstats",
	Short: "Hospital-level statistics over physician billing extracts",
	Long:  "Streams a large physician billing extract, attributes rows to hospitals via the affiliation map, and ranks facilities by procedure volume.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// source flags shared by every query-running subcommand
var (
	flagBilling      string
	flagAffiliations string
	flagDirectory    string
	flagCodes        []string
	flagStates       []string
	flagBatchSize    int
	flagRowBudget    int64
)

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagBilling, "billing", "", "billing extract (.csv or .parquet; overrides config)")
	cmd.Flags().StringVar(&flagAffiliations, "affiliations", "", "physician-facility affiliation extract (overrides config)")
	cmd.Flags().StringVar(&flagDirectory, "directory", "", "facility directory extract (overrides config)")
	cmd.Flags().StringSliceVar(&flagCodes, "codes", nil, "procedure codes to select")
	cmd.Flags().StringSliceVar(&flagStates, "states", nil, "two-letter states to select")
	cmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "scan batch size (overrides config)")
	cmd.Flags().Int64Var(&flagRowBudget, "row-budget", -1, "max billing rows to scan, 0 for unlimited (overrides config)")
}

func pick(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}

func scanOptions() scan.Options {
	opts := scan.Options{BatchSize: cfg.Scan.BatchSize, RowBudget: cfg.Scan.RowBudget}
	if flagBatchSize > 0 {
		opts.BatchSize = flagBatchSize
	}
	if flagRowBudget >= 0 {
		opts.RowBudget = flagRowBudget
	}
	return opts
}

// openBilling picks the scanner from the file extension.
func openBilling() (scan.Scanner, error) {
	path := pick(flagBilling, cfg.Sources.Billing)
	if path == "" {
		return nil, fmt.Errorf("no billing extract configured (--billing or sources.billing)")
	}
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return scan.NewParquetScanner(path, scanOptions())
	}
	return scan.NewCSVScanner(path, scanOptions())
}

// loadRefs loads the reference snapshots through the cache. Either path may
// be blank; the matching snapshot is nil and the pipeline degrades.
func loadRefs(cache *refdata.Cache) (*refdata.AffiliationMap, *refdata.FacilityDirectory, error) {
	var (
		aff *refdata.AffiliationMap
		dir *refdata.FacilityDirectory
		err error
	)
	if path := pick(flagAffiliations, cfg.Sources.Affiliations); path != "" {
		aff, err = cache.Affiliations(path)
		if err != nil {
			return nil, nil, err
		}
	}
	if path := pick(flagDirectory, cfg.Sources.Directory); path != "" {
		dir, err = cache.Directory(path)
		if err != nil {
			return nil, nil, err
		}
	}
	return aff, dir, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
