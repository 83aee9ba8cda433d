package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-seeder/internal/config"
	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/dvloznov/finance-seeder/internal/ledger"
	"github.com/dvloznov/finance-seeder/internal/logger"
	"github.com/dvloznov/finance-seeder/internal/metrics"
	"github.com/dvloznov/finance-seeder/internal/simulation"
	"github.com/dvloznov/finance-seeder/internal/upstream"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/api/option"
)

var errUsage = errors.New("usage error")

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"base-url":           "base_url",
	"customer-id":        "customer_id",
	"account-id":         "account_id",
	"account-fallback":   "account_fallback",
	"year-start":         "year_start",
	"year-end":           "year_end",
	"month-start":        "month_start",
	"month-end":          "month_end",
	"burst-min":          "burst_min",
	"burst-max":          "burst_max",
	"merchant-pool-size": "merchant_pool_size",
	"merchant-prefix":    "merchant_prefix",
	"p-investment":       "p_investment",
	"p-loan":             "p_loan",
	"seed":               "seed",
	"transfer-amounts":   "transfer_amounts",
	"http-timeout":       "http_timeout",
	"dry-run":            "dry_run",
	"log-level":          "log_level",
	"metrics-addr":       "metrics_addr",
	"gcs-uri":            "export.gcs_uri",
	"bigquery-table":     "export.bigquery_table",
	"credentials-file":   "export.credentials_file",
}

type rootOptions struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "seeder",
		Short: "Populate a sandbox banking account with synthetic financial activity",
		Long: `seeder resolves a customer's account, mints a pool of synthetic merchants and
posts bursts of deposits, withdrawals, transfers and purchases for every month
of the configured horizon. The API key is read from SEEDER_API_KEY or .env.`,
		Example:       "seeder --customer-id 5f1a... --year-start 2021 --year-end 2021 --seed 42",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeeder(cmd.Context(), opts)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configFile, "config", "", "configuration file (yaml, json or toml)")
	f.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading SEEDER_* variables")
	f.String("base-url", upstream.DefaultBaseURL, "upstream base URL")
	f.String("customer-id", "", "customer whose first account receives the activity")
	f.String("account-id", "", "target account, skipping the customer lookup")
	f.Bool("account-fallback", false, "list all accounts and match by customer when the customer lookup fails")
	f.Int("year-start", 2020, "first simulated year")
	f.Int("year-end", 2025, "last simulated year")
	f.Int("month-start", 1, "first simulated month of each year")
	f.Int("month-end", 12, "last simulated month of each year")
	f.Int("burst-min", 5, "minimum burst steps per month")
	f.Int("burst-max", 10, "maximum burst steps per month")
	f.Int("merchant-pool-size", 8, "merchants minted for the run")
	f.String("merchant-prefix", "mock_merchant_", "merchant id prefix")
	f.Float64("p-investment", 0.3, "probability of an investment per burst step")
	f.Float64("p-loan", 0.2, "probability of loan proceeds per burst step")
	f.Uint64("seed", 0, "random seed; 0 derives one from the clock")
	f.Bool("transfer-amounts", false, "attach an amount to transfers")
	f.Duration("http-timeout", upstream.DefaultTimeout, "timeout of a single upstream call")
	f.Bool("dry-run", false, "log requests instead of sending them")
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	f.String("gcs-uri", "", "upload the run ledger as NDJSON under gs://bucket/prefix")
	f.String("bigquery-table", "", "stream the run ledger into project.dataset.table")
	f.String("credentials-file", "", "service account JSON for the ledger exports")

	for flag, key := range flagKeys {
		_ = opts.v.BindPFlag(key, f.Lookup(flag))
	}

	cmd.AddCommand(newAccountsCmd(opts), newMerchantsCmd(opts))

	return cmd
}

// load reads and validates the configuration and installs the configured logger on ctx.
func (o *rootOptions) load(ctx context.Context) (context.Context, *config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.v, config.Options{ConfigFile: o.configFile, EnvFile: o.envFile})
	if err != nil {
		return ctx, nil, zerolog.Nop(), err
	}

	log, err := logger.NewWithLevel(cfg.LogLevel)
	if err != nil {
		return ctx, nil, zerolog.Nop(), fmt.Errorf("%w: log_level: %v", config.ErrInvalid, err)
	}

	return logger.WithContext(ctx, log), cfg, log, nil
}

func newClient(cfg *config.Config, rec *metrics.Recorder) upstream.Client {
	if cfg.DryRun {
		return upstream.NewDryRunClient(cfg.AccountID)
	}
	opts := cfg.Nessie()
	opts.Metrics = rec
	return upstream.NewNessieClient(opts)
}

func newSink(ctx context.Context, cfg *config.Config, runID string) (ledger.Sink, error) {
	var clientOpts []option.ClientOption
	if cfg.Export.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Export.CredentialsFile))
	}

	var sinks ledger.MultiSink
	if cfg.Export.GCSURI != "" {
		s, err := ledger.NewGCSSink(ctx, cfg.Export.GCSURI, runID, clientOpts...)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Export.BigQueryTable != "" {
		s, err := ledger.NewBigQuerySink(ctx, cfg.Export.BigQueryTable, clientOpts...)
		if err != nil {
			if abortErr := sinks.Abort(); abortErr != nil {
				log := logger.FromContext(ctx)
				log.Warn().Err(abortErr).Msg("Releasing ledger sinks failed")
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func runSeeder(ctx context.Context, opts *rootOptions) error {
	ctx, cfg, log, err := opts.load(ctx)
	if err != nil {
		return err
	}

	simCfg, err := cfg.Simulation()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, reg, log)
		srv.Start()
		defer srv.Shutdown()
	}

	runID := uuid.NewString()
	sink, err := newSink(ctx, cfg, runID)
	if err != nil {
		return fmt.Errorf("%w: ledger export: %v", config.ErrInvalid, err)
	}

	driverOpts := []simulation.Option{simulation.WithMetrics(rec), simulation.WithRunID(runID)}
	if sink != nil {
		driverOpts = append(driverOpts, simulation.WithSink(sink))
	}

	log.Info().
		Str("base_url", cfg.BaseURL).
		Bool("dry_run", cfg.DryRun).
		Msg("Starting seeder")

	summary, err := simulation.NewDriver(simCfg, newClient(cfg, rec), driverOpts...).Run(ctx)
	if err != nil {
		return err
	}

	for _, kind := range domain.Kinds {
		log.Info().
			Str("kind", string(kind)).
			Int("count", summary.ByKind[kind]).
			Msg("Events by kind")
	}
	if summary.LedgerErr != nil {
		log.Warn().Err(summary.LedgerErr).Msg("Run completed but the ledger was not exported")
	}

	fmt.Printf("Seeding completed: %d events posted, %d failed (run %s, seed %d).\n",
		summary.Events, summary.FailedPosts, summary.RunID, summary.Seed)

	return nil
}
