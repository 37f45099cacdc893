package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPTFLOW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPTFLOW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.RestHost, "OPTFLOW_FEED_REST_HOST")
	setStr(&cfg.Feed.WsHost, "OPTFLOW_FEED_WS_HOST")
	setStringSlice(&cfg.Feed.Roots, "OPTFLOW_FEED_ROOTS")
	setDuration(&cfg.Feed.SpotPollInterval, "OPTFLOW_FEED_SPOT_POLL_INTERVAL")
	setDuration(&cfg.Feed.ReconnectBackoff, "OPTFLOW_FEED_RECONNECT_BACKOFF")
	setDuration(&cfg.Feed.MaxReconnectWait, "OPTFLOW_FEED_MAX_RECONNECT_WAIT")

	// ── Buffer ──
	setFloat64(&cfg.Buffer.MaxRelSpread, "OPTFLOW_BUFFER_MAX_REL_SPREAD")

	// ── Solver ──
	setFloat64(&cfg.Solver.RiskFreeRate, "OPTFLOW_SOLVER_RISK_FREE_RATE")
	setFloat64(&cfg.Solver.DividendYield, "OPTFLOW_SOLVER_DIVIDEND_YIELD")
	setFloat64(&cfg.Solver.MinVol, "OPTFLOW_SOLVER_MIN_VOL")
	setFloat64(&cfg.Solver.MaxVol, "OPTFLOW_SOLVER_MAX_VOL")
	setFloat64(&cfg.Solver.SanityMin, "OPTFLOW_SOLVER_SANITY_MIN")
	setFloat64(&cfg.Solver.SanityMax, "OPTFLOW_SOLVER_SANITY_MAX")
	setInt(&cfg.Solver.MaxIterations, "OPTFLOW_SOLVER_MAX_ITERATIONS")

	// ── Fitter ──
	setInt(&cfg.Fitter.MinStrikes, "OPTFLOW_FITTER_MIN_STRIKES")
	setFloat64(&cfg.Fitter.ButterflyWeight, "OPTFLOW_FITTER_BUTTERFLY_WEIGHT")
	setFloat64(&cfg.Fitter.CalendarWeight, "OPTFLOW_FITTER_CALENDAR_WEIGHT")
	setInt(&cfg.Fitter.MaxIterations, "OPTFLOW_FITTER_MAX_ITERATIONS")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.Interval, "OPTFLOW_SCHEDULER_INTERVAL")
	setDuration(&cfg.Scheduler.MinInterval, "OPTFLOW_SCHEDULER_MIN_INTERVAL")
	setDuration(&cfg.Scheduler.SpotMaxAge, "OPTFLOW_SCHEDULER_SPOT_MAX_AGE")
	setInt(&cfg.Scheduler.ExpiryCutoffHour, "OPTFLOW_SCHEDULER_EXPIRY_CUTOFF_HOUR")

	// ── Flow ──
	setDuration(&cfg.Flow.QuoteWindow, "OPTFLOW_FLOW_QUOTE_WINDOW")
	setInt(&cfg.Flow.MaxQuotesPerKey, "OPTFLOW_FLOW_MAX_QUOTES_PER_KEY")
	setInt(&cfg.Flow.InsertBatchSize, "OPTFLOW_FLOW_INSERT_BATCH_SIZE")
	setInt(&cfg.Flow.NetFlowWindowMin, "OPTFLOW_FLOW_NET_FLOW_WINDOW_MIN")

	// ── Database ──
	setStr(&cfg.Database.DSN, "OPTFLOW_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "OPTFLOW_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "OPTFLOW_DATABASE_HOST")
	setInt(&cfg.Database.Port, "OPTFLOW_DATABASE_PORT")
	setStr(&cfg.Database.Database, "OPTFLOW_DATABASE_NAME")
	setStr(&cfg.Database.User, "OPTFLOW_DATABASE_USER")
	setStr(&cfg.Database.Password, "OPTFLOW_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "OPTFLOW_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "OPTFLOW_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "OPTFLOW_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "OPTFLOW_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OPTFLOW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPTFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPTFLOW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPTFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPTFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPTFLOW_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "OPTFLOW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "OPTFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPTFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPTFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPTFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPTFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPTFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPTFLOW_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "OPTFLOW_S3_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "OPTFLOW_S3_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OPTFLOW_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OPTFLOW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPTFLOW_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OPTFLOW_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPTFLOW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPTFLOW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPTFLOW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPTFLOW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OPTFLOW_MODE")
	setStr(&cfg.LogLevel, "OPTFLOW_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
