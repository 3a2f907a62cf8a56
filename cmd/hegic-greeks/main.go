// hegic-greeks — LP risk exposure for the Hegic v888 options pool.
//
// One run fetches the current spot price and the pool's active option
// records, solves each option's implied volatility from its recorded premium,
// computes the sign-flipped Greeks, and writes the table as CSV and JSON.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/schepal/hegic-greeks/internal/config"
	"github.com/schepal/hegic-greeks/internal/logger"
	"github.com/schepal/hegic-greeks/internal/market"
	"github.com/schepal/hegic-greeks/internal/pipeline"
	"github.com/schepal/hegic-greeks/internal/report"
	"github.com/schepal/hegic-greeks/internal/subgraph"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		queryFile  string
	)

	cmd := &cobra.Command{
		Use:   "hegic-greeks",
		Short: "Estimate the Hegic pool's short option exposure (delta, gamma, theta, vega)",
		Long: `hegic-greeks pulls active option records from the Hegic v888 subgraph,
derives each option's implied volatility from the premium it was written at
(revalued at the current spot price), and reports the liquidity providers'
sign-flipped Greeks as a CSV/JSON table.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real settings come from config + HEGIC_* env.
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, cfg, queryFile); err != nil {
				return err
			}
			logger.SetVerbosity(cfg.Verbosity)
			return run(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path (default: ./hegic.yaml)")
	cmd.Flags().String("asset", "", "options pool to analyze: bitcoin or ethereum")
	cmd.Flags().String("subgraph-url", "", "graph-node endpoint override")
	cmd.Flags().String("filter", "", `row filter expression, e.g. 'strike > 2000 && type == "c"'`)
	cmd.Flags().String("report-dir", "", "directory for greeks.csv / greeks.json")
	cmd.Flags().StringVar(&queryFile, "query-file", "", "file holding a custom options query")
	cmd.Flags().IntP("verbosity", "v", -1, "log verbosity (0=error .. 3=trace)")

	return cmd
}

// applyFlagOverrides lets explicit flags win over config file and env values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, queryFile string) error {
	if cmd.Flags().Changed("asset") {
		cfg.Asset, _ = cmd.Flags().GetString("asset")
	}
	if cmd.Flags().Changed("subgraph-url") {
		cfg.SubgraphURL, _ = cmd.Flags().GetString("subgraph-url")
	}
	if cmd.Flags().Changed("filter") {
		cfg.Filter, _ = cmd.Flags().GetString("filter")
	}
	if cmd.Flags().Changed("report-dir") {
		cfg.ReportDir, _ = cmd.Flags().GetString("report-dir")
	}
	if v, _ := cmd.Flags().GetInt("verbosity"); v >= 0 {
		cfg.Verbosity = v
	}
	if queryFile != "" {
		b, err := os.ReadFile(queryFile)
		if err != nil {
			return fmt.Errorf("reading query file: %w", err)
		}
		cfg.Query = string(b)
	}
	return nil
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	start := time.Now()

	asset, err := market.ParseAsset(cfg.Asset)
	if err != nil {
		return err
	}

	p, err := pipeline.New(ctx, pipeline.Params{
		Asset:  asset,
		Query:  cfg.Query,
		Filter: cfg.Filter,
		Graph:  subgraph.NewClient(cfg.SubgraphURL, cfg.Timeout()),
		Spot:   market.NewSpotClient(cfg.SpotURL, cfg.Timeout()),
	})
	if err != nil {
		return err
	}

	table, err := p.ComputeGreeks(ctx)
	if err != nil {
		return err
	}

	if err := report.Write(table, cfg.ReportDir); err != nil {
		return err
	}

	solved, total := table.Solved(), len(table.Rows)
	rate := 0.0
	if total > 0 {
		rate = 100 * float64(solved) / float64(total)
	}
	fmt.Printf("%s spot %s USD | %s active options | implied vol solved for %s (%.1f%%) | %s | wrote %s\n",
		table.Ticker,
		humanize.CommafWithDigits(table.Spot, 2),
		humanize.Comma(int64(total)),
		humanize.Comma(int64(solved)),
		rate,
		time.Since(start).Round(time.Millisecond),
		cfg.ReportDir,
	)
	return nil
}
