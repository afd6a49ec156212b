package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/app"
	"github.com/JakeFAU/policy-crawler/internal/config"
	"github.com/JakeFAU/policy-crawler/internal/logging"
	"github.com/JakeFAU/policy-crawler/internal/output"
	"github.com/JakeFAU/policy-crawler/internal/progress"
	"github.com/JakeFAU/policy-crawler/internal/publisher"
	"github.com/JakeFAU/policy-crawler/internal/storage"
)

// settingsKeyType is the key for storing the loaded settings in the context.
type settingsKeyType string

const settingsKey settingsKeyType = "settings"

// settings is what the root command prepares for every subcommand.
type settings struct {
	cfg    config.Config
	logger *zap.Logger
}

// App defines the application services commands use. It allows tests to
// inject a fake app.
type App interface {
	Logger() *zap.Logger
	Store() storage.BlobStore
	Policies() output.PolicyStore
	RunSink() progress.Sink
	Publisher() publisher.Publisher
	Ready(ctx context.Context) error
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "policycrawler",
		Short: "Crawls the natural-resources policy portal into JSON and Markdown records.",
		Long: `policycrawler searches the configured policy collections of the portal,
merges and deduplicates the listed documents, enriches each one from its
detail page, and writes JSON, Markdown and attachment files to the configured
blob store. Optional sinks upsert records into Postgres and announce them on
Pub/Sub.`,
		SilenceUsage: true,

		// Runs before every subcommand: loads configuration and builds the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), settingsKey, &settings{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSourcesCmd())

	return cmd
}

func resolveSettings(ctx context.Context) (*settings, error) {
	s, ok := ctx.Value(settingsKey).(*settings)
	if !ok || s == nil {
		return nil, errors.New("configuration not loaded")
	}
	return s, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context, which the crawl treats as a stop request.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
