// Package bot is the chat front end of the escrow: it routes Telegram
// updates to the session collector and the approval protocol, and renders
// their results as messages and buttons.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/escrow"
	"github.com/alanyoungcy/escrowbot/internal/platform/telegram"
)

// API is the subset of the Telegram client used to react to button presses.
type API interface {
	EditMessageText(ctx context.Context, p telegram.EditMessageTextParams) error
	EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, queryID, text string) error
}

// Config holds the bot's tunables.
type Config struct {
	// EscrowStartsPerHour limits /escrow per user. Zero disables the limit.
	EscrowStartsPerHour int
}

// Deps are the collaborators a Bot needs. Limiter and Audit may be nil.
type Deps struct {
	API       API
	Out       Sender
	Registry  *escrow.Registry
	Collector *escrow.Collector
	Protocol  *escrow.Protocol
	Sessions  *SessionStore
	Limiter   domain.RateLimiter
	Audit     domain.AuditStore
	Clock     escrow.Clock
}

// Bot handles one Telegram update at a time per user. Different users may
// be handled concurrently.
type Bot struct {
	api       API
	out       Sender
	registry  *escrow.Registry
	collector *escrow.Collector
	protocol  *escrow.Protocol
	sessions  *SessionStore
	limiter   domain.RateLimiter
	audit     domain.AuditStore
	clock     escrow.Clock
	cfg       Config
	logger    *slog.Logger
}

// New creates a Bot.
func New(deps Deps, cfg Config, logger *slog.Logger) *Bot {
	if deps.Clock == nil {
		deps.Clock = escrow.SystemClock{}
	}
	if deps.Sessions == nil {
		deps.Sessions = NewSessionStore(deps.Clock)
	}
	return &Bot{
		api:       deps.API,
		out:       deps.Out,
		registry:  deps.Registry,
		collector: deps.Collector,
		protocol:  deps.Protocol,
		sessions:  deps.Sessions,
		limiter:   deps.Limiter,
		audit:     deps.Audit,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "bot")),
	}
}

// HandleUpdate processes a single update. Panics are recovered and logged
// so one bad update cannot stop the poller.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "panic handling update",
				slog.Int64("update_id", u.UpdateID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.UpdateID, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil:
		b.handleMessage(ctx, u.UpdateID, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, updateID int64, m *telegram.Message) {
	from := domain.PartyID(m.From.ID)
	b.logger.InfoContext(ctx, "message received",
		slog.String("from", m.From.Handle()),
		slog.Int64("user_id", m.From.ID),
		slog.String("text", m.Text),
	)
	b.record(ctx, updateID, "message_received", from, "", map[string]any{"text": m.Text, "handle": m.From.Handle()})

	if m.Chat.Type != "" && m.Chat.Type != "private" {
		return
	}

	if cmd := m.Command(); cmd != "" {
		b.handleCommand(ctx, cmd, *m.From)
		return
	}

	sess, ok := b.sessions.Get(from)
	if !ok {
		b.reply(ctx, from, reply{text: "Use /escrow to start a new trade, or /my_trades to see your trades."})
		return
	}
	b.submit(ctx, sess, escrow.Text(m.Text), nil)
}

func (b *Bot) handleCommand(ctx context.Context, cmd string, user telegram.User) {
	from := domain.PartyID(user.ID)
	switch cmd {
	case "start":
		b.reply(ctx, from, welcomeReply())
	case "info":
		b.reply(ctx, from, infoReply())
	case "escrow":
		if !b.allowEscrowStart(ctx, from) {
			b.reply(ctx, from, reply{text: "⏳ You have started too many trades recently. Please try again later."})
			return
		}
		b.sessions.Start(from, user.Handle())
		b.reply(ctx, from, rolePrompt())
	case "my_trades":
		for _, r := range myTradesReply(b.registry.ListForParty(from), from) {
			b.reply(ctx, from, r)
		}
	case "cancel":
		b.sessions.Drop(from)
		b.reply(ctx, from, reply{text: "❌ Transaction cancelled"})
	default:
		b.reply(ctx, from, reply{text: "Unknown command. Use /start to see what I can do."})
	}
}

func (b *Bot) allowEscrowStart(ctx context.Context, p domain.PartyID) bool {
	if b.limiter == nil || b.cfg.EscrowStartsPerHour <= 0 {
		return true
	}
	ok, err := b.limiter.Allow(ctx, "escrow_start:"+p.String(), b.cfg.EscrowStartsPerHour, time.Hour)
	if err != nil {
		b.logger.WarnContext(ctx, "rate limiter unavailable, allowing",
			slog.String("party", p.String()),
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}

// submit feeds input into the session. prompt is the message holding the
// buttons the input came from; when set it is edited in place instead of
// sending a new message.
func (b *Bot) submit(ctx context.Context, sess *escrow.Session, in escrow.Input, prompt *telegram.Message) {
	owner := sess.Owner
	trade, err := b.collector.Submit(ctx, sess, in)
	switch {
	case err == nil && trade != nil:
		b.sessions.Drop(owner)
		b.reply(ctx, owner, summaryReply(*trade))
	case err == nil:
		next := promptFor(*sess)
		if prompt != nil && b.edit(ctx, prompt, next) {
			return
		}
		b.reply(ctx, owner, next)
	case escrow.IsValidation(err):
		b.reply(ctx, owner, validationReply(err, *sess))
	case errors.Is(err, escrow.ErrSessionFinished):
		b.sessions.Drop(owner)
		b.reply(ctx, owner, reply{text: "That trade was already created. Use /escrow to start another."})
	default:
		b.logger.ErrorContext(ctx, "create trade failed",
			slog.String("party", owner.String()),
			slog.String("error", err.Error()),
		)
		b.reply(ctx, owner, reply{text: "⚠️ Something went wrong creating the trade. Please try again."})
	}
}

func (b *Bot) handleCallback(ctx context.Context, updateID int64, q *telegram.CallbackQuery) {
	from := domain.PartyID(q.From.ID)
	b.logger.InfoContext(ctx, "button pressed",
		slog.String("from", q.From.Handle()),
		slog.Int64("user_id", q.From.ID),
		slog.String("data", q.Data),
	)

	var toast string
	defer func() {
		if err := b.api.AnswerCallbackQuery(ctx, q.ID, toast); err != nil {
			b.logger.DebugContext(ctx, "answer callback failed", slog.String("error", err.Error()))
		}
	}()

	actor := escrow.Actor{ID: from, Name: q.From.Handle()}
	switch {
	case strings.HasPrefix(q.Data, cbRole), strings.HasPrefix(q.Data, cbCurrency):
		b.record(ctx, updateID, "button_pressed", from, "", map[string]any{"data": q.Data})
		sess, ok := b.sessions.Get(from)
		if !ok {
			toast = "This form has expired. Use /escrow to start again."
			return
		}
		value := q.Data[strings.IndexByte(q.Data, '_')+1:]
		b.submit(ctx, sess, escrow.Choice(value), q.Message)

	case strings.HasPrefix(q.Data, cbConfirm):
		id := strings.TrimPrefix(q.Data, cbConfirm)
		b.record(ctx, updateID, "button_pressed", from, id, map[string]any{"data": q.Data})
		res, err := b.protocol.RecordApproval(ctx, id, actor)
		if err != nil {
			toast = b.tradeError(ctx, from, id, err)
			return
		}
		if q.Message != nil {
			b.edit(ctx, q.Message, approvedEcho(res.Trade, actor.Name))
		}

	case strings.HasPrefix(q.Data, cbSent):
		id := strings.TrimPrefix(q.Data, cbSent)
		b.record(ctx, updateID, "button_pressed", from, id, map[string]any{"data": q.Data})
		res, err := b.protocol.RecordPaymentSent(ctx, id, actor)
		if err != nil {
			toast = b.tradeError(ctx, from, id, err)
			return
		}
		if q.Message != nil {
			b.replaceWithReceipt(ctx, q.Message, res.Trade)
		}

	default:
		b.record(ctx, updateID, "button_pressed", from, "", map[string]any{"data": q.Data})
		toast = "Unknown action."
	}
}

// replaceWithReceipt strips the Payment Sent button first so a second press
// is impossible even if the text edit fails, then swaps the text.
func (b *Bot) replaceWithReceipt(ctx context.Context, m *telegram.Message, t domain.Trade) {
	if err := b.api.EditMessageReplyMarkup(ctx, m.Chat.ID, m.MessageID, nil); err != nil {
		b.logger.DebugContext(ctx, "remove keyboard failed", slog.String("error", err.Error()))
	}
	receipt := paymentReceipt(t, b.clock.Now())
	if !b.edit(ctx, m, receipt) {
		b.reply(ctx, domain.PartyID(m.Chat.ID), receipt)
	}
}

// tradeError tells the party why a trade action failed and returns the
// toast text for the button press.
func (b *Bot) tradeError(ctx context.Context, from domain.PartyID, id string, err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		b.reply(ctx, from, tradeGoneReply(id))
		return "Trade no longer exists."
	case errors.Is(err, escrow.ErrNotParticipant):
		return "You are not part of this trade."
	case errors.Is(err, escrow.ErrNotBuyer):
		return "Only the buyer can report a payment."
	default:
		b.logger.ErrorContext(ctx, "trade action failed",
			slog.String("trade_id", id),
			slog.String("party", from.String()),
			slog.String("error", err.Error()),
		)
		return "Something went wrong. Please try again."
	}
}

func (b *Bot) reply(ctx context.Context, to domain.PartyID, r reply) {
	_, err := b.out.Send(ctx, telegram.SendMessageParams{
		ChatID:                int64(to),
		Text:                  r.text,
		ParseMode:             telegram.ParseModeHTML,
		DisableWebPagePreview: true,
		ReplyMarkup:           r.markup,
	})
	if err != nil {
		b.logger.WarnContext(ctx, "reply not delivered",
			slog.String("to", to.String()),
			slog.String("error", err.Error()),
		)
	}
}

// edit rewrites a message the bot sent. It reports whether the edit took.
func (b *Bot) edit(ctx context.Context, m *telegram.Message, r reply) bool {
	err := b.api.EditMessageText(ctx, telegram.EditMessageTextParams{
		ChatID:      m.Chat.ID,
		MessageID:   m.MessageID,
		Text:        r.text,
		ParseMode:   telegram.ParseModeHTML,
		ReplyMarkup: r.markup,
	})
	if err == nil {
		return true
	}
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) && apiErr.NotModified() {
		return true
	}
	b.logger.WarnContext(ctx, "edit failed",
		slog.Int64("chat_id", m.Chat.ID),
		slog.Int64("message_id", m.MessageID),
		slog.String("error", err.Error()),
	)
	return false
}

func (b *Bot) record(ctx context.Context, updateID int64, event string, party domain.PartyID, tradeID string, detail map[string]any) {
	if b.audit == nil {
		return
	}
	err := b.audit.Log(ctx, domain.AuditEntry{
		Event:         event,
		CorrelationID: "update:" + strconv.FormatInt(updateID, 10),
		PartyID:       party,
		TradeID:       tradeID,
		Detail:        detail,
		CreatedAt:     b.clock.Now(),
	})
	if err != nil {
		b.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
