package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/escrowbot/internal/blob/s3"
	"github.com/alanyoungcy/escrowbot/internal/bot"
	"github.com/alanyoungcy/escrowbot/internal/cache/memory"
	"github.com/alanyoungcy/escrowbot/internal/cache/redis"
	"github.com/alanyoungcy/escrowbot/internal/config"
	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/escrow"
	"github.com/alanyoungcy/escrowbot/internal/notify"
	"github.com/alanyoungcy/escrowbot/internal/platform/telegram"
	"github.com/alanyoungcy/escrowbot/internal/server"
	"github.com/alanyoungcy/escrowbot/internal/server/handler"
	"github.com/alanyoungcy/escrowbot/internal/server/ws"
	"github.com/alanyoungcy/escrowbot/internal/service"
	"github.com/alanyoungcy/escrowbot/internal/store/postgres"
	"github.com/alanyoungcy/escrowbot/internal/wallet"
)

// Dependencies bundles everything Run starts. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	Telegram *telegram.Client
	Gateway  *notify.Gateway

	Registry  *escrow.Registry
	Protocol  *escrow.Protocol
	Collector *escrow.Collector
	Sweeper   *escrow.Sweeper

	Bot    *bot.Bot
	Poller *bot.Poller

	// Optional infrastructure. Interfaces are nil when disabled.
	AuditStore  domain.AuditStore
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Deduper     domain.Deduper
	Archiver    domain.TradeArchiver
	Alerts      *notify.Notifier

	Recorder *service.EventRecorder
	Hub      *ws.Hub
	Server   *server.Server
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Redis, Postgres, S3 and the
// operator API are each optional; Redis-backed pieces fall back to
// in-process ones.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}
	checks := map[string]handler.Check{}

	book, err := wallet.NewBook(cfg.Wallets.Addresses())
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- PostgreSQL ---
	var archivers []domain.TradeArchiver
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		archivers = append(archivers, postgres.NewArchiveStore(pgClient.Pool()))
		checks["postgres"] = pgClient.Ping
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Deduper = redis.NewDedup(redisClient)
		checks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		deps.RateLimiter = memory.NewRateLimiter()
		deps.SignalBus = memory.NewSignalBus()
		deps.Deduper = memory.NewDedup()
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		archivers = append(archivers, s3blob.NewArchiver(s3blob.NewWriter(s3Client, cfg.S3.Prefix)))
		checks["s3"] = s3Client.Health
		logger.InfoContext(ctx, "s3 configured", slog.String("bucket", s3Client.Bucket()))
	}
	if len(archivers) > 0 {
		deps.Archiver = newFanoutArchiver(archivers, logger)
	}

	// --- Telegram + delivery ---
	deps.Telegram = telegram.NewClient(cfg.Telegram.APIBaseURL, cfg.Telegram.Token, cfg.Telegram.HTTPTimeout.Duration)
	deps.Gateway = notify.NewGateway(deps.Telegram, notify.GatewayConfig{
		MaxAttempts:       cfg.Delivery.MaxAttempts,
		RetryDelay:        cfg.Delivery.RetryDelay.Duration,
		MessagesPerSecond: cfg.Delivery.MessagesPerSecond,
	}, logger)

	// --- Operator alerts ---
	var senders []notify.Sender
	if cfg.Telegram.OperatorChatID != 0 {
		senders = append(senders, notify.NewTelegramSender(deps.Gateway, cfg.Telegram.OperatorChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	var alerts service.Alerter
	if len(senders) > 0 {
		deps.Alerts = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		alerts = deps.Alerts
	}

	deps.Recorder = service.NewEventRecorder(deps.AuditStore, deps.SignalBus, alerts, cfg.Escrow.EventQueueSize, logger)

	// --- Escrow core ---
	clock := escrow.SystemClock{}
	deps.Registry = escrow.NewRegistry(escrow.RandomIDs{}, clock)
	deps.Collector = escrow.NewCollector(deps.Registry, deps.Recorder, logger)
	chat := bot.NewChatNotifier(deps.Gateway)
	deps.Protocol = escrow.NewProtocol(deps.Registry, chat, book, deps.Recorder, logger)

	deps.Sweeper = escrow.NewSweeper(deps.Registry, chat, deps.Archiver, deps.Recorder, clock, escrow.SweeperConfig{
		TTL:          cfg.Escrow.TradeTTL.Duration,
		Interval:     cfg.Escrow.SweepInterval.Duration,
		InitialDelay: cfg.Escrow.SweepInitialDelay.Duration,
		Concurrency:  cfg.Escrow.SweepConcurrency,
	}, logger)

	// --- Conversation ---
	sessions := bot.NewSessionStore(clock)
	deps.Sweeper.AlsoPrune(sessions)
	deps.Bot = bot.New(bot.Deps{
		API:       deps.Telegram,
		Out:       deps.Gateway,
		Registry:  deps.Registry,
		Collector: deps.Collector,
		Protocol:  deps.Protocol,
		Sessions:  sessions,
		Limiter:   deps.RateLimiter,
		Audit:     deps.AuditStore,
		Clock:     clock,
	}, bot.Config{EscrowStartsPerHour: cfg.Escrow.EscrowStartsPerHour}, logger)

	deps.Poller = bot.NewPoller(deps.Telegram, deps.Bot, deps.LockManager, bot.PollerConfig{
		PollTimeout: cfg.Telegram.PollTimeout.Duration,
		Workers:     cfg.Delivery.Workers,
		LockKey:     "poller",
		LockTTL:     30 * time.Second,
	}, logger)
	// Telegram keeps unconfirmed updates for a day.
	deps.Poller.UseDedup(deps.Deduper, 24*time.Hour)

	// --- Operator API ---
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(deps.SignalBus, ws.Config{
			Channels:     []string{service.EventsChannel},
			ActiveTrades: deps.Registry.Len,
		}, logger)

		h := server.Handlers{
			Health: handler.NewHealthHandler(checks, deps.Registry.Len, logger),
			Trades: handler.NewTradeHandler(deps.Registry, deps.Protocol, logger),
			Hub:    deps.Hub,
		}
		if deps.AuditStore != nil {
			h.Audit = handler.NewAuditHandler(deps.AuditStore, logger)
		}
		deps.Server = server.New(server.Config{
			Addr:              cfg.Server.Addr,
			CORSOrigins:       cfg.Server.CORSOrigins,
			APIKey:            cfg.Server.APIKey,
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
		}, h, deps.RateLimiter, logger)
	}

	return deps, cleanup, nil
}
