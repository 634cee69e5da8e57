package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/escrowbot/internal/platform/telegram"
)

// ErrDeliveryFailed is returned once every attempt to deliver a message
// has failed.
var ErrDeliveryFailed = errors.New("delivery failed")

// MessageAPI is the part of the Telegram client the gateway uses.
type MessageAPI interface {
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (telegram.Message, error)
}

// GatewayConfig controls retries and pacing.
type GatewayConfig struct {
	// MaxAttempts is the total number of tries per message.
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between tries.
	RetryDelay time.Duration
	// MessagesPerSecond caps outbound traffic across all chats. Zero
	// disables pacing.
	MessagesPerSecond float64
}

// DefaultGatewayConfig mirrors the Bot API's limits: three tries five
// seconds apart, at most 25 messages a second.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{MaxAttempts: 3, RetryDelay: 5 * time.Second, MessagesPerSecond: 25}
}

// Gateway delivers chat messages with bounded retries. Every attempt first
// waits on a shared token bucket so bursts (a sweep notifying many parties)
// stay under Telegram's flood limit.
type Gateway struct {
	api     MessageAPI
	cfg     GatewayConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a Gateway on top of api.
func NewGateway(api MessageAPI, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MessagesPerSecond > 0 {
		burst := int(cfg.MessagesPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), burst)
	}
	return &Gateway{
		api:     api,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "gateway")),
		sleep:   sleepCtx,
	}
}

// Send delivers p, retrying transient failures. Permanent API errors, such
// as a user who blocked the bot, end the attempt loop at once.
func (g *Gateway) Send(ctx context.Context, p telegram.SendMessageParams) (telegram.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return telegram.Message{}, fmt.Errorf("notify: send to %d: %w", p.ChatID, err)
		}

		msg, err := g.api.SendMessage(ctx, p)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			break
		}
		if attempt == g.cfg.MaxAttempts {
			break
		}

		delay := g.cfg.RetryDelay * time.Duration(attempt)
		if apiErr != nil && apiErr.RetryAfter > delay {
			delay = apiErr.RetryAfter
		}
		g.logger.WarnContext(ctx, "send failed, retrying",
			slog.Int64("chat_id", p.ChatID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := g.sleep(ctx, delay); err != nil {
			return telegram.Message{}, fmt.Errorf("notify: send to %d: %w", p.ChatID, err)
		}
	}

	g.logger.ErrorContext(ctx, "giving up on message",
		slog.Int64("chat_id", p.ChatID),
		slog.String("error", lastErr.Error()),
	)
	return telegram.Message{}, fmt.Errorf("notify: send to %d: %w: %w", p.ChatID, ErrDeliveryFailed, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
