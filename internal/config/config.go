// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/policy-crawler/internal/attachments"
	"github.com/JakeFAU/policy-crawler/internal/crawler"
	"github.com/JakeFAU/policy-crawler/internal/telemetry"
)

// EnvPrefix namespaces environment overrides, e.g. POLICY_CRAWLER_DB_DSN.
const EnvPrefix = "POLICY_CRAWLER"

// Storage backends understood by the CLI.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig    `mapstructure:"crawler"`
	HTTP     HTTPConfig       `mapstructure:"http"`
	Proxy    ProxyConfig      `mapstructure:"proxy"`
	Search   SearchConfig     `mapstructure:"search"`
	Sources  []SourceConfig   `mapstructure:"sources"`
	Output   OutputConfig     `mapstructure:"output"`
	Download DownloadConfig   `mapstructure:"download"`
	Storage  StorageConfig    `mapstructure:"storage"`
	DB       DBConfig         `mapstructure:"db"`
	PubSub   PubSubConfig     `mapstructure:"pubsub"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
	Tracing  telemetry.Config `mapstructure:"tracing"`
}

// CrawlerConfig governs pagination and pacing of a run.
type CrawlerConfig struct {
	RequestDelay      time.Duration `mapstructure:"request_delay"`
	MaxPages          int           `mapstructure:"max_pages"`
	MaxEmptyPages     int           `mapstructure:"max_empty_pages"`
	PerPage           int           `mapstructure:"perpage"`
	MaxRecords        int           `mapstructure:"max_records"`
	SourceConcurrency int           `mapstructure:"source_concurrency"`
	DefaultLevel      string        `mapstructure:"default_level"`
	ListingCategory   string        `mapstructure:"listing_category"`
	// Timezone is the IANA zone crawl times are stamped in; empty means UTC.
	Timezone string `mapstructure:"timezone"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	Timeout               time.Duration `mapstructure:"timeout"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
	SessionRotateInterval int           `mapstructure:"session_rotate_interval"`
	UserAgents            []string      `mapstructure:"user_agents"`
}

// ProxyConfig enables outbound proxies.
type ProxyConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
}

// SearchConfig narrows the portal search.
type SearchConfig struct {
	Keywords  []string `mapstructure:"keywords"`
	StartDate string   `mapstructure:"start_date"`
	EndDate   string   `mapstructure:"end_date"`
}

// SourceConfig describes one searchable collection on the portal.
type SourceConfig struct {
	Name      string `mapstructure:"name"`
	BaseURL   string `mapstructure:"base_url"`
	SearchURL string `mapstructure:"search_url"`
	AjaxURL   string `mapstructure:"ajax_url"`
	ChannelID string `mapstructure:"channel_id"`
	Enabled   *bool  `mapstructure:"enabled"`
	PerPage   int    `mapstructure:"perpage"`
}

// IsEnabled reports whether the source is crawled. A source without an
// enabled key is crawled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// OutputConfig toggles the record writers and names their prefixes.
type OutputConfig struct {
	SaveJSON       bool   `mapstructure:"save_json"`
	SaveMarkdown   bool   `mapstructure:"save_markdown"`
	SaveFiles      bool   `mapstructure:"save_files"`
	JSONPrefix     string `mapstructure:"json_prefix"`
	MarkdownPrefix string `mapstructure:"markdown_prefix"`
}

// DownloadConfig selects and paces attachment downloads.
type DownloadConfig struct {
	attachments.Filter `mapstructure:",squash"`
	FilesPrefix        string        `mapstructure:"files_prefix"`
	RateInterval       time.Duration `mapstructure:"rate_interval"`
	RateBurst          int           `mapstructure:"rate_burst"`
}

// StorageConfig chooses the blob backend records are written to.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig controls the optional Postgres policy and run stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	TrackRuns       bool          `mapstructure:"track_runs"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// Enabled reports whether a DSN was configured.
func (c DBConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// PubSubConfig holds metadata for per-record notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
	Ordering  bool   `mapstructure:"ordering"`
}

// Enabled reports whether notifications should be published.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicID != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the status and metrics server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultSources is the collection crawled when none is configured.
func DefaultSources() []SourceConfig {
	return []SourceConfig{{
		Name:      "政策法规库",
		BaseURL:   "https://f.mnr.gov.cn/",
		SearchURL: "https://search.mnr.gov.cn/was5/web/search",
		AjaxURL:   "https://search.mnr.gov.cn/was/ajaxdata_jsonp.jsp",
		ChannelID: "174757",
	}}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.request_delay", 2*time.Second)
	v.SetDefault("crawler.max_pages", 999999)
	v.SetDefault("crawler.max_empty_pages", 3)
	v.SetDefault("crawler.perpage", 20)
	v.SetDefault("crawler.max_records", 0)
	v.SetDefault("crawler.source_concurrency", 1)
	v.SetDefault("crawler.default_level", "自然资源部")
	v.SetDefault("crawler.listing_category", "全部")
	v.SetDefault("crawler.timezone", "")

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay", 5*time.Second)
	v.SetDefault("http.session_rotate_interval", 50)
	v.SetDefault("http.user_agents", []string{})

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.addresses", []string{})

	v.SetDefault("search.keywords", []string{})
	v.SetDefault("search.start_date", "")
	v.SetDefault("search.end_date", "")

	v.SetDefault("sources", sourcesAsMaps(DefaultSources()))

	v.SetDefault("output.save_json", true)
	v.SetDefault("output.save_markdown", true)
	v.SetDefault("output.save_files", true)
	v.SetDefault("output.json_prefix", "json")
	v.SetDefault("output.markdown_prefix", "markdown")

	v.SetDefault("download.all_files", false)
	v.SetDefault("download.docx", true)
	v.SetDefault("download.doc", true)
	v.SetDefault("download.pdf", false)
	v.SetDefault("download.files_prefix", "files")
	v.SetDefault("download.rate_interval", time.Second)
	v.SetDefault("download.rate_burst", 1)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_dir", "crawled_data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "policies")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.track_runs", true)
	v.SetDefault("db.ensure_schema", false)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "")
	v.SetDefault("pubsub.ordering", true)

	v.SetDefault("logging.development", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "policy-crawler")
	v.SetDefault("tracing.otlp_endpoint", "")
}

// sourcesAsMaps lets viper merge the default list like any file-provided one.
func sourcesAsMaps(sources []SourceConfig) []map[string]any {
	out := make([]map[string]any, 0, len(sources))
	for _, s := range sources {
		m := map[string]any{
			"name":       s.Name,
			"base_url":   s.BaseURL,
			"search_url": s.SearchURL,
			"ajax_url":   s.AjaxURL,
			"channel_id": s.ChannelID,
			"perpage":    s.PerPage,
		}
		if s.Enabled != nil {
			m["enabled"] = *s.Enabled
		}
		out = append(out, m)
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.HTTP.MaxRetries <= 0 {
		errs = append(errs, errors.New("http.max_retries must be > 0"))
	}
	if c.HTTP.SessionRotateInterval <= 0 {
		errs = append(errs, errors.New("http.session_rotate_interval must be > 0"))
	}
	if c.Crawler.SourceConcurrency <= 0 {
		errs = append(errs, errors.New("crawler.source_concurrency must be > 0"))
	}
	if c.Crawler.MaxRecords < 0 {
		errs = append(errs, errors.New("crawler.max_records must be >= 0"))
	}
	if c.Proxy.Enabled && len(c.Proxy.Addresses) == 0 {
		errs = append(errs, errors.New("proxy.addresses must be set when proxy is enabled"))
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, memory, gcs", c.Storage.Backend))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicID == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_id must be set together"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	if err := c.ToCrawlerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ToCrawlerConfig produces the value object consumed by the orchestrator.
func (c Config) ToCrawlerConfig() crawler.Config {
	sources := make([]crawler.DataSource, 0, len(c.Sources))
	for _, s := range c.Sources {
		sources = append(sources, crawler.DataSource{
			Name:      s.Name,
			BaseURL:   s.BaseURL,
			SearchURL: s.SearchURL,
			AjaxURL:   s.AjaxURL,
			ChannelID: s.ChannelID,
			Enabled:   s.IsEnabled(),
			PerPage:   s.PerPage,
		})
	}
	return crawler.Config{
		Sources:           sources,
		RequestDelay:      c.Crawler.RequestDelay,
		MaxPages:          c.Crawler.MaxPages,
		MaxEmptyPages:     c.Crawler.MaxEmptyPages,
		PerPage:           c.Crawler.PerPage,
		Keywords:          append([]string(nil), c.Search.Keywords...),
		StartDate:         c.Search.StartDate,
		EndDate:           c.Search.EndDate,
		SourceConcurrency: c.Crawler.SourceConcurrency,
		MaxRecords:        c.Crawler.MaxRecords,
		DefaultLevel:      c.Crawler.DefaultLevel,
		ListingCategory:   c.Crawler.ListingCategory,
	}
}
