package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lunaris-ai/coinbridge/internal/api"
	"github.com/lunaris-ai/coinbridge/internal/config"
	"github.com/lunaris-ai/coinbridge/internal/model"
	"github.com/lunaris-ai/coinbridge/internal/service"
	"github.com/lunaris-ai/coinbridge/internal/store"
	"github.com/lunaris-ai/coinbridge/internal/version"
)

var (
	flagConfig  string
	flagUser    string
	flagConv    string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:     "coinbridge",
		Short:   "Read-only Coinbase bridge for assistant workloads",
		Version: fmt.Sprintf("%s (%s)", version.Version, version.Commit),
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "configs/coinbridge.yaml", "path to config file")
	root.PersistentFlags().StringVar(&flagUser, "user", "", "user context id")
	root.PersistentFlags().StringVar(&flagConv, "conversation", "", "conversation id for audit correlation")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")

	root.AddCommand(
		newProbeCmd(),
		newPriceCmd(),
		newPortfolioCmd(),
		newTransactionsCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the environment, config, and logger, then builds the service.
func setup() (*service.Service, *config.Config, zerolog.Logger, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("version", version.Version).Logger()

	cfg, err := config.LoadAndValidate(flagConfig)
	if err != nil {
		return nil, nil, logger, fmt.Errorf("load config: %w", err)
	}

	svc := service.New(cfg, logger, prometheus.DefaultRegisterer, nil)
	return svc, cfg, logger, nil
}

func requestContext() (model.RequestContext, error) {
	rc := model.RequestContext{UserContextID: flagUser, ConversationID: flagConv}
	if err := rc.Validate(); err != nil {
		return rc, fmt.Errorf("--user is required")
	}
	return rc, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe upstream health and report capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := setup()
			if err != nil {
				return err
			}
			defer svc.Close()

			rc, err := requestContext()
			if err != nil {
				return err
			}

			report := svc.ProbeHealth(cmd.Context(), rc)
			return printJSON(struct {
				model.HealthReport
				Breakers any `json:"breakers"`
			}{report, svc.BreakerSnapshots()})
		},
	}
}

func newPriceCmd() *cobra.Command {
	var (
		fresh bool
		quote string
	)

	cmd := &cobra.Command{
		Use:   "price <symbol>",
		Short: "Fetch the spot price for a pair like BTC-USD, or a bare symbol like BTC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := setup()
			if err != nil {
				return err
			}
			defer svc.Close()

			rc, err := requestContext()
			if err != nil {
				return err
			}

			var opts []service.ReadOption
			if fresh {
				opts = append(opts, service.BypassCache())
			}
			if quote != "" {
				opts = append(opts, service.WithQuoteCurrency(quote))
			}

			price, err := svc.GetSpotPrice(cmd.Context(), rc, args[0], opts...)
			if err != nil {
				return cliError(err)
			}
			return printJSON(price)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "skip the cache and fetch live")
	cmd.Flags().StringVar(&quote, "quote", "", "quote currency for bare symbols (default USD)")
	return cmd
}

func newPortfolioCmd() *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Fetch the user's balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := setup()
			if err != nil {
				return err
			}
			defer svc.Close()

			rc, err := requestContext()
			if err != nil {
				return err
			}

			var opts []service.ReadOption
			if fresh {
				opts = append(opts, service.BypassCache())
			}

			snapshot, err := svc.GetPortfolioSnapshot(cmd.Context(), rc, opts...)
			if err != nil {
				return cliError(err)
			}
			return printJSON(snapshot)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "skip the cache and fetch live")
	return cmd
}

func newTransactionsCmd() *cobra.Command {
	var (
		limit int
		fresh bool
	)

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Fetch the user's recent fills",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := setup()
			if err != nil {
				return err
			}
			defer svc.Close()

			rc, err := requestContext()
			if err != nil {
				return err
			}

			var opts []service.ReadOption
			if fresh {
				opts = append(opts, service.BypassCache())
			}

			events, err := svc.GetRecentTransactions(cmd.Context(), rc, limit, opts...)
			if err != nil {
				return cliError(err)
			}
			return printJSON(events)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of fills (default 20, max 100)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "skip the cache and fetch live")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge with the metrics endpoint and persistence enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			level := zerolog.InfoLevel
			if flagVerbose {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(os.Stderr).Level(level).
				With().Timestamp().Str("version", version.Version).Logger()

			cfg, err := config.LoadAndValidate(flagConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
				cancel()
			}()

			return runServe(ctx, cfg, logger)
		},
	}
}

// runServe wires the long-running mode: Postgres-backed store, Prometheus
// endpoint, and the service held open until shutdown.
func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var st *store.Store
	if cfg.Store.Enabled {
		pool, err := store.Connect(ctx, cfg.Store.Postgres)
		if err != nil {
			return fmt.Errorf("connect store: %w", err)
		}
		defer pool.Close()

		st = store.New(cfg.Store, pool, logger)
	}

	// The service wires the store's drop hook, so it must exist before the
	// writer starts consuming.
	svc := service.New(cfg, logger, prometheus.DefaultRegisterer, st)
	defer svc.Close()

	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("start store: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = st.Stop(stopCtx)
	}()

	srv := newMetricsServer(cfg.Metrics, svc, st, logger)
	go func() {
		if err := srv.start(); err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	logger.Info().
		Str("instance_id", cfg.Instance.ID).
		Int("metrics_port", cfg.Metrics.Port).
		Msg("coinbridge running")

	<-ctx.Done()

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.shutdown(shutdownCtx)
}

// cliError prints the safe message and guidance before the error bubbles up.
func cliError(err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", apiErr.SafeMessage(), apiErr.Guidance())
	}
	return err
}
