// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Render modes accepted by crawler.render_mode.
const (
	RenderAlways = "always"
	RenderAuto   = "auto"
	RenderNever  = "never"
)

// Store drivers accepted by store.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures every knob read once at startup.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Store      StoreConfig      `mapstructure:"store"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// CrawlerConfig governs fetching, politeness and retries.
type CrawlerConfig struct {
	Concurrency         int           `mapstructure:"concurrency"`
	UserAgent           string        `mapstructure:"user_agent"`
	DelayMinSeconds     float64       `mapstructure:"delay_min_seconds"`
	DelayMaxSeconds     float64       `mapstructure:"delay_max_seconds"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	RenderMode          string        `mapstructure:"render_mode"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	RobotsTimeout       time.Duration `mapstructure:"robots_timeout"`
	TrustSeedHosts      bool          `mapstructure:"trust_seed_hosts"`
	AutoPromoteMinBytes int           `mapstructure:"auto_promote_min_bytes"`
}

// DelayRange returns the politeness interval as durations.
func (c CrawlerConfig) DelayRange() (time.Duration, time.Duration) {
	return seconds(c.DelayMinSeconds), seconds(c.DelayMaxSeconds)
}

// HeadlessConfig controls the chromedp backend.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout"`
	DOMReadyTimeout    time.Duration `mapstructure:"dom_ready_timeout"`
	NoSandbox          bool          `mapstructure:"no_sandbox"`
}

// DiscoveryConfig lists the URL sources and link heuristics.
type DiscoveryConfig struct {
	MaxURLs               int           `mapstructure:"max_urls"`
	SeedURLs              []string      `mapstructure:"seed_urls"`
	ListPages             []string      `mapstructure:"list_pages"`
	SearchQueries         []string      `mapstructure:"search_queries"`
	SearchEndpoint        string        `mapstructure:"search_endpoint"`
	SearchResultsPerQuery int           `mapstructure:"search_results_per_query"`
	SearchInterval        time.Duration `mapstructure:"search_interval"`
	LinkKeywords          []string      `mapstructure:"link_keywords"`
	URLPatterns           []string      `mapstructure:"url_patterns"`
	AggregatorDomains     []string      `mapstructure:"aggregator_domains"`
	KeepAggregatorLinks   bool          `mapstructure:"keep_aggregator_links"`
	DenyDomains           []string      `mapstructure:"deny_domains"`
	RenderJS              bool          `mapstructure:"render_js"`
}

// Entity recognizers.
const (
	RecognizerModel = "model"
	RecognizerRules = "rules"
)

// ExtractionConfig tunes the entity and heuristic stages.
type ExtractionConfig struct {
	Recognizer          string  `mapstructure:"recognizer"`
	EntityPrefixChars   int     `mapstructure:"entity_prefix_chars"`
	HeuristicSimilarity float64 `mapstructure:"heuristic_similarity"`
	HeuristicWindow     int     `mapstructure:"heuristic_window"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PublisherConfig enables resort-upserted events. An empty topic disables publishing.
type PublisherConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the health/metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap developer mode.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScheduleConfig drives the schedule command.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SKICRAWLER")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "SkiResortCrawler/1.0 (+https://github.com/JakeFAU/ski-resort-crawler)")
	v.SetDefault("crawler.delay_min_seconds", 1.0)
	v.SetDefault("crawler.delay_max_seconds", 3.0)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.retry_base_delay", time.Second)
	v.SetDefault("crawler.retry_max_delay", 30*time.Second)
	v.SetDefault("crawler.fetch_timeout", 25*time.Second)
	v.SetDefault("crawler.render_mode", RenderAlways)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.robots_timeout", 10*time.Second)
	v.SetDefault("crawler.trust_seed_hosts", false)
	v.SetDefault("crawler.auto_promote_min_bytes", 2048)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.network_idle_timeout", 10*time.Second)
	v.SetDefault("headless.dom_ready_timeout", 10*time.Second)
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("discovery.max_urls", 200)
	v.SetDefault("discovery.search_results_per_query", 50)
	v.SetDefault("discovery.search_interval", 1500*time.Millisecond)
	v.SetDefault("discovery.link_keywords", []string{"ski", "resort", "mountain", "snow", "piste", "station"})
	v.SetDefault("discovery.url_patterns", []string{`(?i)/(resort|ski-area|skigebiet|station)s?/`})
	v.SetDefault("discovery.aggregator_domains", []string{
		"skiresort.info", "onthesnow.com", "snow-forecast.com", "tripadvisor.com", "skiinfo.com",
	})
	v.SetDefault("discovery.keep_aggregator_links", true)
	v.SetDefault("discovery.render_js", false)
	v.SetDefault("extraction.recognizer", RecognizerModel)
	v.SetDefault("extraction.entity_prefix_chars", 20000)
	v.SetDefault("extraction.heuristic_similarity", 0.8)
	v.SetDefault("extraction.heuristic_window", 150)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "ski_crawler.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("schedule.cron", "@daily")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "ski-crawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate performs basic sanity checks on the loaded configuration.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.Crawler.DelayMinSeconds < 0 {
		return errors.New("crawler.delay_min_seconds must be >= 0")
	}
	if c.Crawler.DelayMaxSeconds < c.Crawler.DelayMinSeconds {
		return errors.New("crawler.delay_max_seconds must be >= crawler.delay_min_seconds")
	}
	if c.Crawler.MaxRetries <= 0 {
		return errors.New("crawler.max_retries must be > 0")
	}
	if c.Crawler.FetchTimeout <= 0 {
		return errors.New("crawler.fetch_timeout must be > 0")
	}
	switch c.Crawler.RenderMode {
	case RenderAlways, RenderAuto, RenderNever:
	default:
		return fmt.Errorf("crawler.render_mode must be one of always, auto, never (got %q)", c.Crawler.RenderMode)
	}
	if c.Discovery.MaxURLs <= 0 {
		return errors.New("discovery.max_urls must be > 0")
	}
	if c.Extraction.HeuristicSimilarity <= 0 || c.Extraction.HeuristicSimilarity > 1 {
		return errors.New("extraction.heuristic_similarity must be in (0, 1]")
	}
	switch c.Extraction.Recognizer {
	case RecognizerModel, RecognizerRules:
	default:
		return fmt.Errorf("extraction.recognizer must be one of model, rules (got %q)", c.Extraction.Recognizer)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, memory (got %q)", c.Store.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be in [0, 1]")
	}
	if c.Publisher.Topic != "" && c.Publisher.ProjectID == "" {
		return errors.New("publisher.project_id must be set when publisher.topic is set")
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
