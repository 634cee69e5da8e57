// Package escrow holds the trade state machine and registry: the
// conversational form collector, the mutual approval protocol, and the
// expiry sweeper. Transport, rendering and storage are reached through the
// small interfaces declared here.
package escrow

import (
	"context"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// NoticeKind identifies what a Notice tells its recipient.
type NoticeKind int

const (
	// NoticePaymentInstructions carries the wallet address and total, with a
	// "payment sent" action. Sent to the buyer only.
	NoticePaymentInstructions NoticeKind = iota + 1
	// NoticeFullyApproved tells the seller both sides approved.
	NoticeFullyApproved
	// NoticeApprovalRequested nudges the party that has not approved yet,
	// with an approve action.
	NoticeApprovalRequested
	// NoticePaymentAcknowledged confirms a payment assertion was recorded.
	NoticePaymentAcknowledged
	// NoticeTradeExpired tells a participant the trade was reaped.
	NoticeTradeExpired
)

func (k NoticeKind) String() string {
	switch k {
	case NoticePaymentInstructions:
		return "payment_instructions"
	case NoticeFullyApproved:
		return "fully_approved"
	case NoticeApprovalRequested:
		return "approval_requested"
	case NoticePaymentAcknowledged:
		return "payment_acknowledged"
	case NoticeTradeExpired:
		return "trade_expired"
	default:
		return "unknown"
	}
}

// Notice is a party-facing message in structured form. Rendering to text is
// the transport's job.
type Notice struct {
	Kind  NoticeKind
	Trade domain.Trade
	// WalletAddress is set for NoticePaymentInstructions.
	WalletAddress string
	// From is the handle of the party whose action caused the notice.
	From string
}

// Notifier delivers notices to parties. Implementations retry transient
// failures themselves; a returned error means delivery was given up.
type Notifier interface {
	Notify(ctx context.Context, to domain.PartyID, n Notice) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IdlePruner drops conversation state idle for longer than ttl and reports
// how much went.
type IdlePruner interface {
	PruneIdle(ttl time.Duration) int
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator issues candidate trade ids. Uniqueness is checked by the
// registry.
type IDGenerator interface {
	NewID() string
}

// WalletBook maps a currency to the escrow deposit address.
type WalletBook interface {
	AddressFor(c domain.Currency) (string, bool)
}

// EventSink receives trade lifecycle events after they are committed. It
// must not block for long and never fails the caller.
type EventSink interface {
	Record(ctx context.Context, ev domain.TradeEvent)
}

type nopSink struct{}

func (nopSink) Record(context.Context, domain.TradeEvent) {}
