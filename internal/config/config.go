// Package config defines the top-level configuration for the optflow service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPTFLOW_* environment variables.
type Config struct {
	Feed      FeedConfig      `toml:"feed"`
	Buffer    BufferConfig    `toml:"buffer"`
	Solver    SolverConfig    `toml:"solver"`
	Fitter    FitterConfig    `toml:"fitter"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Flow      FlowConfig      `toml:"flow"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// FeedConfig holds the market-data vendor endpoints and subscription universe.
type FeedConfig struct {
	RestHost string `toml:"rest_host"`
	WsHost   string `toml:"ws_host"`
	// Roots is the list of underlying symbols to subscribe to.
	Roots []string `toml:"roots"`
	// SpotPollInterval is how often the underlying price is refreshed.
	SpotPollInterval duration `toml:"spot_poll_interval"`
	ReconnectBackoff duration `toml:"reconnect_backoff"`
	MaxReconnectWait duration `toml:"max_reconnect_wait"`
}

// BufferConfig holds event-buffer admission parameters.
type BufferConfig struct {
	// MaxRelSpread rejects quotes whose bid-ask spread exceeds this fraction
	// of the mid. Zero disables the check.
	MaxRelSpread float64 `toml:"max_rel_spread"`
}

// SolverConfig holds the implied-volatility solver parameters.
type SolverConfig struct {
	RiskFreeRate  float64 `toml:"risk_free_rate"`
	DividendYield float64 `toml:"dividend_yield"`
	MinVol        float64 `toml:"min_vol"`
	MaxVol        float64 `toml:"max_vol"`
	SanityMin     float64 `toml:"sanity_min"`
	SanityMax     float64 `toml:"sanity_max"`
	MaxIterations int     `toml:"max_iterations"`
}

// FitterConfig holds the smile-fitting parameters.
type FitterConfig struct {
	MinStrikes      int     `toml:"min_strikes"`
	ButterflyWeight float64 `toml:"butterfly_weight"`
	CalendarWeight  float64 `toml:"calendar_weight"`
	MaxIterations   int     `toml:"max_iterations"`
}

// SchedulerConfig holds the snapshot loop parameters.
type SchedulerConfig struct {
	Interval         duration `toml:"interval"`
	MinInterval      duration `toml:"min_interval"`
	SpotMaxAge       duration `toml:"spot_max_age"`
	ExpiryCutoffHour int      `toml:"expiry_cutoff_hour"`
}

// FlowConfig holds trade-classification and flow-aggregation parameters.
type FlowConfig struct {
	// QuoteWindow is how long quotes are retained per contract for
	// bracketing trades.
	QuoteWindow      duration `toml:"quote_window"`
	MaxQuotesPerKey  int      `toml:"max_quotes_per_key"`
	InsertBatchSize  int      `toml:"insert_batch_size"`
	NetFlowWindowMin int      `toml:"net_flow_window_min"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// RetentionDays is how long rows stay in Postgres before the archiver
	// moves them to cold storage.
	RetentionDays int `toml:"retention_days"`
	// ArchiveCron is a 5-field cron expression for the archive schedule.
	ArchiveCron string `toml:"archive_cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			RestHost:         "http://127.0.0.1:25510",
			WsHost:           "ws://127.0.0.1:25520",
			Roots:            []string{"SPXW"},
			SpotPollInterval: duration{time.Second},
			ReconnectBackoff: duration{time.Second},
			MaxReconnectWait: duration{30 * time.Second},
		},
		Buffer: BufferConfig{
			MaxRelSpread: 0.15,
		},
		Solver: SolverConfig{
			RiskFreeRate:  0.05,
			DividendYield: 0.015,
			MinVol:        1e-4,
			MaxVol:        5.0,
			SanityMin:     0.01,
			SanityMax:     5.0,
			MaxIterations: 100,
		},
		Fitter: FitterConfig{
			MinStrikes:      5,
			ButterflyWeight: 100,
			CalendarWeight:  10,
			MaxIterations:   4000,
		},
		Scheduler: SchedulerConfig{
			Interval:         duration{time.Second},
			MinInterval:      duration{500 * time.Millisecond},
			SpotMaxAge:       duration{10 * time.Second},
			ExpiryCutoffHour: 16,
		},
		Flow: FlowConfig{
			QuoteWindow:      duration{time.Minute},
			MaxQuotesPerKey:  256,
			InsertBatchSize:  500,
			NetFlowWindowMin: 60,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "optflow",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "optflow-data",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  30,
			ArchiveCron:    "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"feed_disconnected", "feed_reconnected", "error"},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":   true,
	"ingest": true,
	"serve":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, ingest, serve)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed is only required in the modes that ingest market data.
	needsFeed := c.Mode == "live" || c.Mode == "ingest"
	if needsFeed {
		if c.Feed.RestHost == "" {
			errs = append(errs, "feed: rest_host must not be empty")
		}
		if c.Feed.WsHost == "" {
			errs = append(errs, "feed: ws_host must not be empty")
		}
		if len(c.Feed.Roots) == 0 {
			errs = append(errs, "feed: at least one root must be configured")
		}
		if c.Feed.SpotPollInterval.Duration <= 0 {
			errs = append(errs, "feed: spot_poll_interval must be positive")
		}
	}

	// Buffer
	if c.Buffer.MaxRelSpread < 0 {
		errs = append(errs, "buffer: max_rel_spread must be >= 0")
	}

	// Solver
	if c.Solver.MinVol <= 0 || c.Solver.MaxVol <= c.Solver.MinVol {
		errs = append(errs, "solver: need 0 < min_vol < max_vol")
	}
	if c.Solver.SanityMin < 0 || c.Solver.SanityMax <= c.Solver.SanityMin {
		errs = append(errs, "solver: need 0 <= sanity_min < sanity_max")
	}
	if c.Solver.MaxIterations < 1 {
		errs = append(errs, "solver: max_iterations must be >= 1")
	}

	// Fitter
	if c.Fitter.MinStrikes < 5 {
		errs = append(errs, fmt.Sprintf("fitter: min_strikes must be >= 5, got %d", c.Fitter.MinStrikes))
	}
	if c.Fitter.ButterflyWeight < 0 || c.Fitter.CalendarWeight < 0 {
		errs = append(errs, "fitter: penalty weights must be >= 0")
	}

	// Scheduler
	if c.Scheduler.Interval.Duration <= 0 {
		errs = append(errs, "scheduler: interval must be positive")
	}
	if c.Scheduler.MinInterval.Duration < 0 {
		errs = append(errs, "scheduler: min_interval must be >= 0")
	}
	if c.Scheduler.ExpiryCutoffHour < 0 || c.Scheduler.ExpiryCutoffHour > 23 {
		errs = append(errs, fmt.Sprintf("scheduler: expiry_cutoff_hour must be 0-23, got %d", c.Scheduler.ExpiryCutoffHour))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
