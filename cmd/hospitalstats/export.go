package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hospitalstats/internal/export"
	"hospitalstats/internal/query"
	"hospitalstats/internal/refdata"
)

var (
	flagOut     string
	flagToPG    bool
	flagDoctors bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run a query and export the full, untruncated result set",
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := openBilling()
		if err != nil {
			return err
		}
		defer src.Close()

		cache, err := refdata.NewCache(cfg.Scan.CacheSize)
		if err != nil {
			return err
		}
		aff, dir, err := loadRefs(cache)
		if err != nil {
			return err
		}

		if flagDoctors && flagToPG {
			return fmt.Errorf("--to-postgres exports hospital results only")
		}

		var stream *export.CSVStream
		if flagDoctors {
			res, err := query.RunPhysicianQuery(cmd.Context(), src, aff, dir, query.PhysicianOptions{
				Codes:       flagCodes,
				States:      flagStates,
				FacilityID:  flagFacility,
				MinServices: flagMinServices,
			})
			if err != nil {
				return err
			}
			stream = export.NewPhysicianStream(res.Rows, cfg.Export.BatchRows)
		} else {
			res, err := query.RunHospitalQuery(cmd.Context(), src, aff, dir, query.Options{
				Codes:         flagCodes,
				States:        flagStates,
				MinProcedures: flagMinProcedures,
				Workers:       workers(),
			})
			if err != nil {
				return err
			}
			if flagToPG {
				return exportToPostgres(cmd, res)
			}
			stream = export.NewResultStream(res.Rows, cfg.Export.BatchRows)
		}

		out := os.Stdout
		if flagOut != "" {
			f, err := os.Create(flagOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagOut, err)
			}
			defer f.Close()
			out = f
		}
		if _, err := stream.WriteTo(out); err != nil {
			return err
		}
		return nil
	},
}

func exportToPostgres(cmd *cobra.Command, res *query.Result) error {
	connStr := cfg.Export.DatabaseURL
	if connStr == "" {
		return fmt.Errorf("no database configured (export.database_url)")
	}
	sink, err := export.NewPGSink(cmd.Context(), connStr, cfg.Export.BatchRows)
	if err != nil {
		return err
	}
	defer sink.Close()

	if err := sink.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	n, err := sink.LoadResults(cmd.Context(), res.Rows)
	if err != nil {
		return err
	}
	fmt.Printf("loaded %d facility rows into postgres\n", n)
	return nil
}

func init() {
	addSourceFlags(exportCmd)
	exportCmd.Flags().StringVar(&flagOut, "out", "", "output CSV path (default stdout)")
	exportCmd.Flags().BoolVar(&flagToPG, "to-postgres", false, "load hospital results into PostgreSQL instead of CSV")
	exportCmd.Flags().BoolVar(&flagDoctors, "doctors", false, "export the physician result set instead of hospitals")
	exportCmd.Flags().StringVar(&flagFacility, "facility", "", "restrict doctors export to one facility ID")
	exportCmd.Flags().Int64Var(&flagMinProcedures, "min-procedures", 0, "drop facilities below this procedure total")
	exportCmd.Flags().Int64Var(&flagMinServices, "min-services", 0, "drop physicians below this service total")
	exportCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel scan workers (overrides config)")
	rootCmd.AddCommand(exportCmd)
}
