package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"predictor/internal/config"
	"predictor/internal/domain"
	"predictor/internal/engine"
	"predictor/internal/feed"
	"predictor/internal/util"
	"predictor/pkg/predictor"
)

const version = "0.1.0"

type options struct {
	configPath string
	server     string
	horizon    int
	limit      int
	asJSON     bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "predictor-cli",
		Short:         "Technical-indicator direction predictor and walk-forward backtester",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $PREDICTOR_CONFIG or config/predictor.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", "", "predictor-server base URL; runs locally when empty")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of tables")

	predictCmd := &cobra.Command{
		Use:   "predict SYMBOL",
		Short: "Combine all indicators into a direction for SYMBOL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				p, err := b.Predict(cmd.Context(), args[0], opts.horizon)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), p)
				}
				printPrediction(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	backtestCmd := &cobra.Command{
		Use:   "backtest SYMBOL [SYMBOL...]",
		Short: "Run a walk-forward backtest for one or more symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				entries, err := b.Backtest(cmd.Context(), args, opts.horizon)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				printBatch(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{predictCmd, backtestCmd} {
		c.Flags().IntVar(&opts.horizon, "horizon", 0, "prediction horizon in days, 1-30 (default from config)")
	}

	reportsCmd := &cobra.Command{
		Use:   "reports [SYMBOL]",
		Short: "List stored backtest reports, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				sums, err := b.Reports(cmd.Context(), firstArg(args), opts.limit)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), sums)
				}
				printReports(cmd.OutOrStdout(), sums)
				return nil
			})
		},
	}

	signalsCmd := &cobra.Command{
		Use:   "signals [SYMBOL]",
		Short: "List stored predictions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				sigs, err := b.Signals(cmd.Context(), firstArg(args), opts.limit)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), sigs)
				}
				printSignals(cmd.OutOrStdout(), sigs)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{reportsCmd, signalsCmd} {
		c.Flags().IntVar(&opts.limit, "limit", 20, "maximum rows")
	}

	indicatorsCmd := &cobra.Command{
		Use:   "indicators",
		Short: "List enabled indicators with weights and timescale multipliers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				infos, err := b.Indicators(cmd.Context())
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), infos)
				}
				printIndicators(cmd.OutOrStdout(), infos)
				return nil
			})
		},
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch SYMBOL [SYMBOL...]",
		Short: "Download daily bars from Alpaca into the local parquet cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args)
		},
	}

	symbolsCmd := &cobra.Command{
		Use:   "symbols",
		Short: "List symbols held in the local bar cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			rt, err := engine.Open(cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()
			syms, err := rt.Bars.ListSymbols(cmd.Context(), string(domain.MarketUS))
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), syms)
			}
			for _, s := range syms {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}

	rootCmd.AddCommand(predictCmd, backtestCmd, reportsCmd, signalsCmd, indicatorsCmd, fetchCmd, symbolsCmd)
	return rootCmd
}

// loadConfig reads the config file named by --config, falling back to the
// environment default, and builds a logger writing to stderr.
func loadConfig(opts *options) (*config.Config, *slog.Logger, error) {
	path := opts.configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)
	return cfg, log, nil
}

func withBackend(cmd *cobra.Command, opts *options, fn func(backend) error) error {
	var b backend
	if opts.server != "" {
		b = &remoteBackend{c: predictor.NewClient(opts.server)}
	} else {
		cfg, log, err := loadConfig(opts)
		if err != nil {
			return err
		}
		local, err := openLocal(cfg, log)
		if err != nil {
			return err
		}
		b = local
	}
	defer b.Close()
	return fn(b)
}

func runFetch(cmd *cobra.Command, opts *options, symbols []string) error {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := engine.RequireCredentials(cfg); err != nil {
		return err
	}
	rt, err := engine.Open(cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	dr := feed.Lookback(time.Now().UTC(), cfg.Fetch.HistoryDays)
	var failed []string
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		bars, err := rt.Cache.Refresh(cmd.Context(), sym, dr.Start, dr.End)
		if err != nil {
			if cmd.Context().Err() != nil {
				return cmd.Context().Err()
			}
			log.Error("fetch failed", "symbol", sym, "error", err)
			failed = append(failed, sym)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %5d bars  %s .. %s\n", sym, len(bars),
			bars[0].Timestamp.Format(time.DateOnly), bars[len(bars)-1].Timestamp.Format(time.DateOnly))
	}
	if len(failed) > 0 {
		return fmt.Errorf("fetch failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
