package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"

	"github.com/02loveslollipop/waterland-gwin-import/internal/logging"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/config"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/cycle"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/httpclient"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/ingress"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/transform"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/waterland"
)

const serviceName = "waterland-import"

var (
	envFile  string
	dryRun   bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Imports the latest WaterLand readings into SmartDrainage",
	Long: `Runs a single import cycle: fetches the site index and the latest reading
of every site from the WaterLand API, converts each reading into the
SmartDrainage ingestion schema and posts the batch to the dashboard ingress
endpoint, retrying with a linear backoff.

Configuration is read from the environment, after loading the optional env
file. Schedule the command externally to run it periodically.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var overrides []config.Override
		if cmd.Flags().Changed("dry-run") {
			overrides = append(overrides, config.WithDryRun(dryRun))
		}
		if cmd.Flags().Changed("log-level") {
			overrides = append(overrides, config.WithLogLevel(logLevel))
		}
		return run(cmd.Context(), overrides...)
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional env file loaded before reading the environment")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and transform without posting to the ingress endpoint")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, overrides ...config.Override) error {
	start := time.Now()
	logger := logging.New(os.Stdout, serviceName, "info")

	cfg, err := config.Load(envFile, overrides...)
	if err != nil {
		level.Error(logger).Log("msg", "config error", "err", err, "durationMs", time.Since(start).Milliseconds())
		return err
	}
	logger = logging.New(os.Stdout, serviceName, cfg.LogLevel)

	runner, err := build(cfg, logger)
	if err != nil {
		level.Error(logger).Log("msg", "setup error", "err", err, "durationMs", time.Since(start).Milliseconds())
		return err
	}

	summary, err := runner.Run(ctx)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		level.Error(logger).Log("msg", "import cycle failed", "cycle", summary.CycleID, "err", err, "durationMs", durationMs)
		return err
	}

	level.Info(logger).Log(
		"msg", "Import cycle completed",
		"cycle", summary.CycleID,
		"sites", summary.Sites,
		"siteFailures", summary.SiteFailures,
		"fetched", summary.Fetched,
		"valid", summary.Valid,
		"invalid", summary.Invalid,
		"imported", summary.Imported,
		"attempts", summary.Attempts,
		"dryRun", summary.DryRun,
		"durationMs", durationMs,
	)
	return nil
}

func build(cfg config.Config, logger kitlog.Logger) (*cycle.Runner, error) {
	upstreamClient, err := httpclient.New(cfg.Upstream.Timeout, cfg.Upstream.ProxyURL)
	if err != nil {
		return nil, err
	}
	ingressClient, err := httpclient.New(cfg.Ingress.Timeout, cfg.Ingress.ProxyURL)
	if err != nil {
		return nil, err
	}

	fetcher := waterland.NewClient(waterland.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		AccessToken: cfg.Upstream.AccessToken,
		Timeout:     cfg.Upstream.Timeout,
		Concurrency: cfg.Upstream.Concurrency,
	}, upstreamClient, logger)

	processor := transform.NewProcessor(transform.Options{
		IncludePublishedAt: cfg.IncludePublishedAt,
		Location:           cfg.Timezone,
	}, logger)

	importer := ingress.NewImporter(ingress.Config{
		URL:      cfg.Ingress.URL,
		Username: cfg.Ingress.Username,
		Password: cfg.Ingress.Password,
		Timeout:  cfg.Ingress.Timeout,
		Attempts: cfg.Ingress.RetryAttempts,
		Delay:    cfg.Ingress.RetryDelay,
		Envelope: cfg.Ingress.Envelope,
	}, ingressClient, logger)

	return cycle.NewRunner(cycle.Config{
		DryRun:         cfg.DryRun,
		PushgatewayURL: cfg.PushgatewayURL,
	}, fetcher, processor, importer, logger), nil
}
