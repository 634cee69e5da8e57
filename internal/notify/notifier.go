// Package notify delivers outbound messages. Gateway sends chat messages to
// trade parties with retries and pacing; Notifier fans operator alerts out
// to every configured channel, filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Sender is one operator alert channel.
type Sender interface {
	// Send delivers an alert with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches operator alerts to one or more Senders. Only event
// types in the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Wants reports whether alerts for event pass the filter.
func (n *Notifier) Wants(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends an alert to all senders if the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Wants(event) {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// AlertTrade renders a trade lifecycle event and sends it through Notify.
func (n *Notifier) AlertTrade(ctx context.Context, ev domain.TradeEvent) error {
	title, message := FormatTradeAlert(ev)
	return n.Notify(ctx, string(ev.Type), title, message)
}

// NotifyAll sends an alert to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. One failing sender does not stop the
// others; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// FormatTradeAlert returns the operator-facing title and body for ev.
func FormatTradeAlert(ev domain.TradeEvent) (title, message string) {
	t := ev.Trade
	summary := fmt.Sprintf("Trade %s: %s %s (fee %s, total %s)\nBuyer: %s\nSeller: %s\nTerms: %s",
		t.ID, t.Amount, t.Currency, t.Fee, t.Total,
		t.NameOf(t.BuyerID()), t.NameOf(t.SellerID()), t.Terms)

	switch ev.Type {
	case domain.EventTradeCreated:
		title = "New escrow trade"
	case domain.EventTradeFullyApproved:
		title = "Trade fully approved"
	case domain.EventPaymentAsserted:
		title = "Payment reported, verify on chain"
	case domain.EventTradeCompleted:
		title = "Trade completed"
	case domain.EventTradeRemoved:
		title = "Trade removed by operator"
	case domain.EventTradeExpired:
		title = "Trade expired"
		if !t.Completed && t.PaymentAsserted {
			title = "Trade expired with unverified payment"
		}
	default:
		title = "Trade update: " + string(ev.Type)
	}
	return title, summary
}
