package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/escrowbot/internal/secret"
)

// Load reads the TOML file at path over the defaults, loads .env if
// present, applies environment overrides and opens a sealed bot token. A
// missing file is not an error, so env-only deployments work. The result is
// not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if cfg.Telegram.Token == "" && cfg.Telegram.TokenFile != "" {
		token, err := secret.Resolve(secret.Source{
			SealedPath: cfg.Telegram.TokenFile,
			Password:   cfg.Telegram.TokenPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("config: telegram token: %w", err)
		}
		cfg.Telegram.Token = strings.TrimSpace(token)
	}

	return &cfg, nil
}

// applyEnvOverrides applies the unprefixed variable names older deployments
// use first, then ESCROWBOT_* variables, which win.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Wallets.BTC, "BTC_WALLET")
	setStr(&cfg.Wallets.LTC, "LTC_WALLET")
	setStr(&cfg.Wallets.XMR, "XMR_WALLET")
	setStr(&cfg.Wallets.ETH, "ETH_WALLET")

	setStr(&cfg.LogLevel, "ESCROWBOT_LOG_LEVEL")

	// ── Telegram ──
	setStr(&cfg.Telegram.Token, "ESCROWBOT_TELEGRAM_TOKEN")
	setStr(&cfg.Telegram.TokenFile, "ESCROWBOT_TELEGRAM_TOKEN_FILE")
	setStr(&cfg.Telegram.TokenPassword, "ESCROWBOT_TELEGRAM_TOKEN_PASSWORD")
	setStr(&cfg.Telegram.APIBaseURL, "ESCROWBOT_TELEGRAM_API_BASE_URL")
	setDuration(&cfg.Telegram.PollTimeout, "ESCROWBOT_TELEGRAM_POLL_TIMEOUT")
	setDuration(&cfg.Telegram.HTTPTimeout, "ESCROWBOT_TELEGRAM_HTTP_TIMEOUT")
	setInt64(&cfg.Telegram.OperatorChatID, "ESCROWBOT_TELEGRAM_OPERATOR_CHAT_ID")

	// ── Wallets ──
	setStr(&cfg.Wallets.BTC, "ESCROWBOT_WALLETS_BTC")
	setStr(&cfg.Wallets.LTC, "ESCROWBOT_WALLETS_LTC")
	setStr(&cfg.Wallets.XMR, "ESCROWBOT_WALLETS_XMR")
	setStr(&cfg.Wallets.ETH, "ESCROWBOT_WALLETS_ETH")

	// ── Escrow ──
	setDuration(&cfg.Escrow.TradeTTL, "ESCROWBOT_ESCROW_TRADE_TTL")
	setDuration(&cfg.Escrow.SweepInterval, "ESCROWBOT_ESCROW_SWEEP_INTERVAL")
	setDuration(&cfg.Escrow.SweepInitialDelay, "ESCROWBOT_ESCROW_SWEEP_INITIAL_DELAY")
	setInt(&cfg.Escrow.SweepConcurrency, "ESCROWBOT_ESCROW_SWEEP_CONCURRENCY")
	setInt(&cfg.Escrow.EscrowStartsPerHour, "ESCROWBOT_ESCROW_STARTS_PER_HOUR")
	setInt(&cfg.Escrow.EventQueueSize, "ESCROWBOT_ESCROW_EVENT_QUEUE_SIZE")

	// ── Delivery ──
	setInt(&cfg.Delivery.MaxAttempts, "ESCROWBOT_DELIVERY_MAX_ATTEMPTS")
	setDuration(&cfg.Delivery.RetryDelay, "ESCROWBOT_DELIVERY_RETRY_DELAY")
	setFloat64(&cfg.Delivery.MessagesPerSecond, "ESCROWBOT_DELIVERY_MESSAGES_PER_SECOND")
	setInt(&cfg.Delivery.Workers, "ESCROWBOT_DELIVERY_WORKERS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ESCROWBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ESCROWBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROWBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROWBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROWBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROWBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROWBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ESCROWBOT_REDIS_KEY_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ESCROWBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ESCROWBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ESCROWBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROWBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROWBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROWBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROWBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROWBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESCROWBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESCROWBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ESCROWBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ESCROWBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ESCROWBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROWBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROWBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ESCROWBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ESCROWBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROWBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROWBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROWBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ESCROWBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "ESCROWBOT_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "ESCROWBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROWBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RequestsPerMinute, "ESCROWBOT_SERVER_REQUESTS_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROWBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "ESCROWBOT_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "ESCROWBOT_NOTIFY_EVENTS")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
