package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Optionflow OptionflowConfig `yaml:"optionflow"`
	Feed       FeedConfig       `yaml:"feed"`
	Market     MarketConfig     `yaml:"market"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	QuestDB    QuestDBConfig    `yaml:"questdb"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type OptionflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	REST    FeedRESTConfig `yaml:"rest"`
	WS      FeedWSConfig   `yaml:"ws"`
	APIKey  string         `yaml:"api_key"`
	Streams StreamsConfig  `yaml:"streams"`

	// Cash exchange for underlying quotes and the derivatives exchange
	// option legs trade on (NSE/NFO by default).
	Exchange            string `yaml:"exchange"`
	DerivativesExchange string `yaml:"derivatives_exchange"`
}

type FeedRESTConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
}

type FeedWSConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type StreamsConfig struct {
	LTP   bool `yaml:"ltp"`
	Quote bool `yaml:"quote"`
	Depth bool `yaml:"depth"`
}

type MarketConfig struct {
	// Strike interval per index symbol; symbols absent from both maps
	// are unsupported.
	Indices map[string]float64 `yaml:"indices"`
	Stocks  []string           `yaml:"stocks"`

	// Default strike interval applied to every configured stock.
	StockStrikeInterval float64 `yaml:"stock_strike_interval"`

	Timezone     string `yaml:"timezone"`
	SessionOpen  string `yaml:"session_open"`
	SessionClose string `yaml:"session_close"`
}

type ChannelsConfig struct {
	TickBuffer int `yaml:"tick_buffer"`
	RowBuffer  int `yaml:"row_buffer"`
}

type AggregatorConfig struct {
	Timeframes   []string `yaml:"timeframes"`
	HistoryLimit int      `yaml:"history_limit"`
}

type FetcherConfig struct {
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Retry       RetryConfig     `yaml:"retry"`
	StrikeWidth int             `yaml:"strike_width"`
	Concurrency int             `yaml:"concurrency"`
	Interval    time.Duration   `yaml:"interval"`
	ExpiryTTL   time.Duration   `yaml:"expiry_ttl"`

	// Symbols to start periodic OI tracking for at boot, using the
	// nearest eligible expiry.
	Watch []string `yaml:"watch"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type QuestDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN returns the PostgreSQL-wire connection string QuestDB listens on.
func (q QuestDBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", q.User, q.Password, q.Host, q.Port, q.Database)
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBuffer     int           `yaml:"max_buffer"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// LoadConfig reads and validates a YAML configuration file. Secrets are
// overridden from the environment when present so they stay out of the
// file on shared hosts.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("OPENALGO_API_KEY"); v != "" {
		config.Feed.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("QUESTDB_PASSWORD"); v != "" {
		config.QuestDB.Password = strings.TrimSpace(v)
	}
	if config.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			Exchange:            "NSE",
			DerivativesExchange: "NFO",
			Streams:             StreamsConfig{LTP: true, Quote: true},
		},
		Market: MarketConfig{
			StockStrikeInterval: 50,
			Timezone:            "Asia/Kolkata",
			SessionOpen:         "09:15",
			SessionClose:        "15:30",
		},
		Channels: ChannelsConfig{
			TickBuffer: 4096,
			RowBuffer:  8192,
		},
		Aggregator: AggregatorConfig{
			Timeframes:   []string{"1m", "5m", "15m", "30m", "1h", "1d"},
			HistoryLimit: 1000,
		},
		Fetcher: FetcherConfig{
			RateLimit:   RateLimitConfig{RequestsPerSecond: 8, BurstSize: 1},
			Retry:       RetryConfig{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second},
			StrikeWidth: 20,
			Concurrency: 4,
			Interval:    5 * time.Minute,
			ExpiryTTL:   time.Hour,
		},
		Archive: ArchiveConfig{
			FlushInterval: time.Minute,
			MaxBuffer:     512,
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Optionflow.Name == "" {
		return fmt.Errorf("optionflow.name is required")
	}
	if cfg.Optionflow.Version == "" {
		return fmt.Errorf("optionflow.version is required")
	}
	if cfg.Feed.REST.Host == "" {
		return fmt.Errorf("feed.rest.host is required")
	}
	if cfg.Feed.WS.URL == "" {
		return fmt.Errorf("feed.ws.url is required")
	}
	if !cfg.Feed.Streams.LTP && !cfg.Feed.Streams.Quote && !cfg.Feed.Streams.Depth {
		return fmt.Errorf("at least one feed stream must be enabled")
	}
	if cfg.Channels.TickBuffer <= 0 {
		return fmt.Errorf("channels.tick_buffer must be greater than 0")
	}
	if cfg.Channels.RowBuffer <= 0 {
		return fmt.Errorf("channels.row_buffer must be greater than 0")
	}
	if cfg.Fetcher.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("fetcher.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Fetcher.Concurrency > cfg.Fetcher.RateLimit.RequestsPerSecond {
		return fmt.Errorf("fetcher.concurrency must not exceed the rate limit")
	}
	if cfg.Fetcher.StrikeWidth <= 0 {
		return fmt.Errorf("fetcher.strike_width must be greater than 0")
	}
	if cfg.Fetcher.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("fetcher.retry.max_attempts must be greater than 0")
	}
	if cfg.Market.StockStrikeInterval <= 0 {
		return fmt.Errorf("market.stock_strike_interval must be greater than 0")
	}
	if _, err := time.Parse("15:04", cfg.Market.SessionOpen); err != nil {
		return fmt.Errorf("market.session_open must be HH:MM: %w", err)
	}
	if _, err := time.Parse("15:04", cfg.Market.SessionClose); err != nil {
		return fmt.Errorf("market.session_close must be HH:MM: %w", err)
	}
	if cfg.Archive.Enabled && cfg.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required when archive is enabled")
	}
	return nil
}
