// Package cmd defines and implements the CLI commands for the policycrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/api"
	"github.com/JakeFAU/policy-crawler/internal/attachments"
	"github.com/JakeFAU/policy-crawler/internal/clock/system"
	"github.com/JakeFAU/policy-crawler/internal/config"
	"github.com/JakeFAU/policy-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/policy-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/policy-crawler/internal/id/uuid"
	"github.com/JakeFAU/policy-crawler/internal/output"
	"github.com/JakeFAU/policy-crawler/internal/parser"
	"github.com/JakeFAU/policy-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/policy-crawler/internal/progress"
	"github.com/JakeFAU/policy-crawler/internal/progress/sinks"
	"github.com/JakeFAU/policy-crawler/internal/telemetry"
)

const (
	hubCloseTimeout      = 10 * time.Second
	serverCloseTimeout   = 5 * time.Second
	serverReadHeaderTime = 5 * time.Second
)

type crawlOptions struct {
	maxRecords int
	keywords   []string
	startDate  string
	endDate    string
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one full crawl.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl over the configured sources",
		Long: `Searches every enabled source page by page until a stop condition fires,
merges the results, then fetches each record's detail page and writes it
to the configured outputs. Interrupting the command stops the crawl after
the current page or record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.maxRecords, "max-records", -1, "cap the merged record list (0 means unlimited; default from config)")
	cmd.Flags().StringSliceVar(&opts.keywords, "keyword", nil, "search keyword (repeatable; overrides search.keywords)")
	cmd.Flags().StringVar(&opts.startDate, "start-date", "", "earliest publication date, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.endDate, "end-date", "", "latest publication date, YYYY-MM-DD")
	return cmd
}

func (o *crawlOptions) apply(cfg *config.Config) {
	if o.maxRecords >= 0 {
		cfg.Crawler.MaxRecords = o.maxRecords
	}
	if len(o.keywords) > 0 {
		cfg.Search.Keywords = o.keywords
	}
	if o.startDate != "" {
		cfg.Search.StartDate = o.startDate
	}
	if o.endDate != "" {
		cfg.Search.EndDate = o.endDate
	}
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	ctx := cmd.Context()
	s, err := resolveSettings(ctx)
	if err != nil {
		return err
	}
	cfg := s.cfg
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	logger := s.logger

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	appInstance, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := appInstance.Close(); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	p, err := buildPipeline(cfg, appInstance, logger)
	if err != nil {
		return err
	}

	stopServer := func() {}
	if cfg.Metrics.Enabled {
		stopServer = startStatusServer(cfg.Metrics.Addr, p, appInstance, logger)
	}

	summary, runErr := p.orchestrator.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
	defer cancel()
	if err := p.hub.Close(closeCtx); err != nil {
		logger.Warn("failed to flush progress events", zap.Error(err))
	}
	stopServer()

	switch {
	case runErr == nil:
	case errors.Is(runErr, crawler.ErrStopped):
		logger.Info("crawl stopped before completion")
	default:
		return fmt.Errorf("run crawl: %w", runErr)
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

// pipeline is the set of components wired for one crawl.
type pipeline struct {
	orchestrator *crawler.Orchestrator
	hub          *progress.Hub
	status       *sinks.StatusSink
}

func buildPipeline(cfg config.Config, a App, logger *zap.Logger) (*pipeline, error) {
	fetcherCfg := collyfetcher.Config{
		Timeout:     cfg.HTTP.Timeout,
		MaxRetries:  cfg.HTTP.MaxRetries,
		RetryDelay:  cfg.HTTP.RetryDelay,
		RotateEvery: cfg.HTTP.SessionRotateInterval,
		UserAgents:  cfg.HTTP.UserAgents,
		Logger:      logger,
	}
	if cfg.Proxy.Enabled {
		proxies, err := collyfetcher.NewStaticProxies(cfg.Proxy.Addresses)
		if err != nil {
			return nil, fmt.Errorf("init proxies: %w", err)
		}
		fetcherCfg.Proxy = proxies
	}
	fetcher := collyfetcher.New(fetcherCfg)

	clock, err := system.NewInZone(cfg.Crawler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("init clock: %w", err)
	}

	sinkCfg := output.Config{
		SaveJSON:       cfg.Output.SaveJSON,
		SaveMarkdown:   cfg.Output.SaveMarkdown,
		SaveFiles:      cfg.Output.SaveFiles,
		JSONPrefix:     cfg.Output.JSONPrefix,
		MarkdownPrefix: cfg.Output.MarkdownPrefix,
		Topic:          cfg.PubSub.TopicID,
		Policies:       a.Policies(),
		Publisher:      a.Publisher(),
		Logger:         logger,
	}
	if cfg.Output.SaveFiles {
		downloader, err := attachments.NewDownloader(fetcher, a.Store(), attachments.DownloaderConfig{
			Filter: cfg.Download.Filter,
			Prefix: cfg.Download.FilesPrefix,
			Limiter: ratelimit.New(ratelimit.Config{
				Interval: cfg.Download.RateInterval,
				Burst:    cfg.Download.RateBurst,
			}),
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init downloader: %w", err)
		}
		sinkCfg.Downloader = downloader
	}
	recordSink, err := output.New(a.Store(), sinkCfg)
	if err != nil {
		return nil, fmt.Errorf("init output: %w", err)
	}

	status := sinks.NewStatusSink(0)
	progressSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("progress")),
		status,
		a.RunSink(),
	}
	if cfg.Metrics.Enabled {
		promSink, err := sinks.NewPrometheusSink(nil)
		if err != nil {
			return nil, fmt.Errorf("init prometheus sink: %w", err)
		}
		progressSinks = append(progressSinks, promSink)
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, progressSinks...)

	p := parser.New(logger)
	orchestrator, err := crawler.New(cfg.ToCrawlerConfig(), crawler.Dependencies{
		Fetcher: fetcher,
		Listing: p,
		Detail:  p,
		Sink:    recordSink,
		Emitter: hub,
		Clock:   clock,
		IDs:     uuid.New(),
		Logger:  logger,
	})
	if err != nil {
		_ = hub.Close(context.Background())
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return &pipeline{orchestrator: orchestrator, hub: hub, status: status}, nil
}

// startStatusServer serves run status and metrics while the crawl runs. The
// returned func shuts the server down.
func startStatusServer(addr string, p *pipeline, a App, logger *zap.Logger) func() {
	server := &http.Server{
		Addr: addr,
		Handler: api.NewServer(p.status, api.Options{
			Stopper: p.orchestrator,
			Ready:   a.Ready,
			Logger:  logger,
		}).Handler(),
		ReadHeaderTimeout: serverReadHeaderTime,
	}
	go func() {
		logger.Info("status server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), serverCloseTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}
}

func printSummary(w io.Writer, summary crawler.RunSummary) {
	fmt.Fprintf(w, "run %s: %d records, %d completed, %d failed in %s\n",
		summary.RunID, summary.Total, summary.Completed, summary.Failed, summary.Duration.Round(time.Millisecond))
	for _, src := range summary.Sources {
		fmt.Fprintf(w, "  %s: %d pages, %d records, %d merged, stopped: %s\n",
			src.Source, src.Pages, src.Records, src.Merged, src.Reason)
	}
	if summary.Stopped {
		fmt.Fprintln(w, "  run was stopped before completion")
	}
}
