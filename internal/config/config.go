// Package config defines the escrow bot's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/wallet"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then overridden by ESCROWBOT_* environment variables.
type Config struct {
	LogLevel string         `toml:"log_level"`
	Telegram TelegramConfig `toml:"telegram"`
	Wallets  WalletsConfig  `toml:"wallets"`
	Escrow   EscrowConfig   `toml:"escrow"`
	Delivery DeliveryConfig `toml:"delivery"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// TelegramConfig holds the Bot API credentials and polling parameters.
type TelegramConfig struct {
	Token string `toml:"token"`
	// TokenFile is a token sealed with `escrowbot -seal-token`, opened with
	// TokenPassword. Token wins when both are set.
	TokenFile     string   `toml:"token_file"`
	TokenPassword string   `toml:"token_password"`
	APIBaseURL    string   `toml:"api_base_url"`
	PollTimeout   duration `toml:"poll_timeout"`
	HTTPTimeout   duration `toml:"http_timeout"`
	// OperatorChatID receives operator alerts. Zero disables them.
	OperatorChatID int64 `toml:"operator_chat_id"`
}

// WalletsConfig holds the escrow deposit address for each currency.
type WalletsConfig struct {
	BTC string `toml:"btc"`
	LTC string `toml:"ltc"`
	XMR string `toml:"xmr"`
	ETH string `toml:"eth"`
}

// Addresses returns the wallet addresses keyed by currency.
func (w WalletsConfig) Addresses() map[domain.Currency]string {
	return map[domain.Currency]string{
		domain.CurrencyBTC: w.BTC,
		domain.CurrencyLTC: w.LTC,
		domain.CurrencyXMR: w.XMR,
		domain.CurrencyETH: w.ETH,
	}
}

// EscrowConfig holds trade lifecycle parameters.
type EscrowConfig struct {
	TradeTTL            duration `toml:"trade_ttl"`
	SweepInterval       duration `toml:"sweep_interval"`
	SweepInitialDelay   duration `toml:"sweep_initial_delay"`
	SweepConcurrency    int      `toml:"sweep_concurrency"`
	EscrowStartsPerHour int      `toml:"escrow_starts_per_hour"`
	EventQueueSize      int      `toml:"event_queue_size"`
}

// DeliveryConfig controls outbound message delivery and update dispatch.
type DeliveryConfig struct {
	MaxAttempts       int      `toml:"max_attempts"`
	RetryDelay        duration `toml:"retry_delay"`
	MessagesPerSecond float64  `toml:"messages_per_second"`
	Workers           int      `toml:"workers"`
}

// RedisConfig holds Redis connection parameters. With Redis enabled the
// poller takes a distributed lease, rate limits are shared, and trade
// events go over Redis Pub/Sub.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds the audit database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds the expired-trade archive bucket parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the operator API parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Addr              string   `toml:"addr"`
	APIKey            string   `toml:"api_key"`
	CORSOrigins       []string `toml:"cors_origins"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// NotifyConfig selects which trade events reach operators, and where.
type NotifyConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding ("30s", "24h").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the documented defaults. Wallets
// and the bot token have no defaults.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Telegram: TelegramConfig{
			APIBaseURL:  "https://api.telegram.org",
			PollTimeout: duration{30 * time.Second},
			HTTPTimeout: duration{45 * time.Second},
		},
		Escrow: EscrowConfig{
			TradeTTL:            duration{24 * time.Hour},
			SweepInterval:       duration{time.Hour},
			SweepInitialDelay:   duration{10 * time.Second},
			SweepConcurrency:    8,
			EscrowStartsPerHour: 10,
			EventQueueSize:      256,
		},
		Delivery: DeliveryConfig{
			MaxAttempts:       3,
			RetryDelay:        duration{5 * time.Second},
			MessagesPerSecond: 25,
			Workers:           4,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "escrowbot",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "escrowbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "escrowbot-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerMinute: 120,
		},
		Notify: NotifyConfig{
			DiscordUsername: "escrowbot",
			Events: []string{
				string(domain.EventTradeCreated),
				string(domain.EventPaymentAsserted),
				string(domain.EventTradeExpired),
			},
		},
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var knownEvents = map[string]bool{
	string(domain.EventTradeCreated):       true,
	string(domain.EventTradeApproved):      true,
	string(domain.EventTradeFullyApproved): true,
	string(domain.EventPaymentAsserted):    true,
	string(domain.EventTradeCompleted):     true,
	string(domain.EventTradeRemoved):       true,
	string(domain.EventTradeExpired):       true,
}

// Validate checks Config for missing or invalid values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Telegram
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, "telegram: token (or token_file) must be set")
	}
	if c.Telegram.APIBaseURL == "" {
		errs = append(errs, "telegram: api_base_url must not be empty")
	}
	if c.Telegram.PollTimeout.Duration <= 0 {
		errs = append(errs, "telegram: poll_timeout must be > 0")
	}
	if c.Telegram.HTTPTimeout.Duration <= c.Telegram.PollTimeout.Duration {
		errs = append(errs, "telegram: http_timeout must exceed poll_timeout")
	}

	// Wallets: every supported currency needs a well-formed address.
	addrs := c.Wallets.Addresses()
	for _, cur := range domain.SupportedCurrencies {
		addr := addrs[cur]
		if addr == "" {
			errs = append(errs, fmt.Sprintf("wallets: %s address must be set", strings.ToLower(string(cur))))
			continue
		}
		if err := wallet.Validate(cur, addr); err != nil {
			errs = append(errs, fmt.Sprintf("wallets: %s: %v", strings.ToLower(string(cur)), err))
		}
	}

	// Escrow
	if c.Escrow.TradeTTL.Duration <= 0 {
		errs = append(errs, "escrow: trade_ttl must be > 0")
	}
	if c.Escrow.SweepInterval.Duration <= 0 {
		errs = append(errs, "escrow: sweep_interval must be > 0")
	}
	if c.Escrow.SweepInitialDelay.Duration < 0 {
		errs = append(errs, "escrow: sweep_initial_delay must be >= 0")
	}
	if c.Escrow.SweepConcurrency < 1 {
		errs = append(errs, "escrow: sweep_concurrency must be >= 1")
	}
	if c.Escrow.EscrowStartsPerHour < 0 {
		errs = append(errs, "escrow: escrow_starts_per_hour must be >= 0")
	}

	// Delivery
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, "delivery: max_attempts must be >= 1")
	}
	if c.Delivery.RetryDelay.Duration < 0 {
		errs = append(errs, "delivery: retry_delay must be >= 0")
	}
	if c.Delivery.MessagesPerSecond < 0 {
		errs = append(errs, "delivery: messages_per_second must be >= 0")
	}
	if c.Delivery.Workers < 1 {
		errs = append(errs, "delivery: workers must be >= 1")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Addr == "" {
			errs = append(errs, "server: addr must not be empty")
		}
		if strings.TrimSpace(c.Server.APIKey) == "" {
			errs = append(errs, "server: api_key must be set when the server is enabled")
		}
		if c.Server.RequestsPerMinute < 0 {
			errs = append(errs, "server: requests_per_minute must be >= 0")
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !knownEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
