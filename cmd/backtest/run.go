package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/bondladder/internal/clients/fred"
	"github.com/aristath/bondladder/internal/config"
	"github.com/aristath/bondladder/internal/data"
	"github.com/aristath/bondladder/internal/domain"
	"github.com/aristath/bondladder/internal/modules/backtest"
	"github.com/aristath/bondladder/internal/report"
	"github.com/aristath/bondladder/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runOptions struct {
	returnsPath  string
	yieldsPath   string
	useFRED      bool
	strategyPath string
	format       string
	outPath      string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "backtest",
		Short: "Bond ladder and equity allocation backtest",
		Long: `Simulates a yearly rebalanced portfolio of stocks plus a laddered Treasury
position. Each year the allocation minimises risk plus an L1 penalty while
keeping expected growth above a floor that ratchets off the previous year.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the backtest and print the yearly trajectory",
		Long: `Run the backtest over the configured years.

Example usage:
  backtest run --returns monthlyreturnsNYSE1986.csv --fred
  backtest run --returns returns.csv --yields yields.csv --format json --out result.json
  backtest run --config strategy.yaml --format msgpack --out result.msgpack`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.returnsPath, "returns", "", "CSV of monthly equity returns (overrides BACKTEST_RETURNS_PATH)")
	cmd.Flags().StringVar(&opts.yieldsPath, "yields", "", "CSV of constant-maturity yields with GS<n> columns")
	cmd.Flags().BoolVar(&opts.useFRED, "fred", false, "Download yields from FRED even if a yields file is configured")
	cmd.Flags().StringVar(&opts.strategyPath, "config", "", "YAML strategy file")
	cmd.Flags().StringVar(&opts.format, "format", string(report.FormatTable), "Output format: table, json, msgpack")
	cmd.Flags().StringVar(&opts.outPath, "out", "", "Write the report to this file instead of stdout")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	return cmd
}

func runBacktest(ctx context.Context, opts *runOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := applyFlags(cfg, opts); err != nil {
		return err
	}

	runID := uuid.New().String()
	log := logger.ForRun(logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Pretty,
		Output: stderr,
	}), runID)
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	panel, err := data.LoadReturnPanel(cfg.ReturnsPath)
	if err != nil {
		return fmt.Errorf("failed to load returns: %w", err)
	}
	log.Info().
		Str("path", cfg.ReturnsPath).
		Int("stocks", panel.Stocks()).
		Int("months", panel.Months()).
		Msg("Loaded return panel")

	curve, err := loadCurve(ctx, cfg, opts.useFRED, log)
	if err != nil {
		return fmt.Errorf("failed to load yields: %w", err)
	}

	result, err := backtest.NewRunner(cfg.Strategy, nil, log).Run(ctx, panel, curve)
	if err != nil {
		return err
	}

	out := stdout
	if opts.outPath != "" {
		f, err := os.Create(opts.outPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := report.Build(runID, result, time.Now()).Write(out, format); err != nil {
		return err
	}
	log.Info().Int("years", len(result.Years)).Str("format", string(format)).Msg("Backtest finished")
	return nil
}

func applyFlags(cfg *config.Config, opts *runOptions) error {
	if opts.returnsPath != "" {
		cfg.ReturnsPath = opts.returnsPath
	}
	if opts.yieldsPath != "" {
		cfg.YieldsPath = opts.yieldsPath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.strategyPath != "" {
		if err := cfg.LoadStrategyFile(opts.strategyPath); err != nil {
			return err
		}
	}
	return cfg.Validate()
}

// seriesIDs maps every maturity the ladder can hold to its FRED series name.
func seriesIDs(s config.Strategy) map[int]string {
	ids := make(map[int]string)
	for _, m := range append(append([]int(nil), s.Maturities...), s.ReissueMaturity) {
		if id, ok := data.DefaultFREDSeries[m]; ok {
			ids[m] = id
		} else {
			ids[m] = fmt.Sprintf("GS%d", m)
		}
	}
	return ids
}

func loadCurve(ctx context.Context, cfg *config.Config, useFRED bool, log zerolog.Logger) (domain.YieldSource, error) {
	ids := seriesIDs(cfg.Strategy)

	if cfg.YieldsPath != "" && !useFRED {
		curve, err := data.LoadYieldCurveCSV(cfg.YieldsPath, ids)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.YieldsPath).Ints("maturities", curve.Maturities()).Msg("Loaded yield curve")
		return curve, nil
	}

	last := cfg.Strategy.LastYear
	if last == 0 {
		last = time.Now().Year()
	}
	from := time.Date(cfg.Strategy.FirstYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(last, time.December, 31, 0, 0, 0, 0, time.UTC)

	client := fred.NewClient(cfg.FREDBaseURL, log)
	curve, err := data.FetchYieldCurve(ctx, client, ids, from, to)
	if err != nil {
		return nil, err
	}
	log.Info().Ints("maturities", curve.Maturities()).Msg("Downloaded yield curve from FRED")
	return curve, nil
}
