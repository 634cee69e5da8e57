package escrow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Actor is the party performing an action, with the chat handle it was seen
// under.
type Actor struct {
	ID   domain.PartyID
	Name string
}

// ApprovalResult describes what an approval changed.
type ApprovalResult struct {
	Trade domain.Trade
	Role  domain.Role
	// Repeated is true when the actor had already approved.
	Repeated bool
	// BecameFullyApproved is true only on the event that set the second flag.
	BecameFullyApproved bool
}

// PaymentResult describes a payment assertion.
type PaymentResult struct {
	Trade           domain.Trade
	AlreadyAsserted bool
}

// Protocol applies approval and payment events to trades and decides which
// notices they release. State is committed before any notice is sent, and a
// failed notice never rolls the state back.
type Protocol struct {
	registry *Registry
	notifier Notifier
	wallets  WalletBook
	events   EventSink
	logger   *slog.Logger
}

// NewProtocol creates a Protocol. events may be nil.
func NewProtocol(registry *Registry, notifier Notifier, wallets WalletBook, events EventSink, logger *slog.Logger) *Protocol {
	if events == nil {
		events = nopSink{}
	}
	return &Protocol{
		registry: registry,
		notifier: notifier,
		wallets:  wallets,
		events:   events,
		logger:   logger.With(slog.String("component", "protocol")),
	}
}

// RecordApproval sets the actor's approval flag.
//
// A buyer receives payment instructions on every approval they make. The
// seller is told the trade is fully approved once, on the transition to
// both flags set. While one side is still missing, that side is nudged.
func (p *Protocol) RecordApproval(ctx context.Context, tradeID string, actor Actor) (ApprovalResult, error) {
	var res ApprovalResult

	trade, err := p.registry.Update(tradeID, func(t *domain.Trade) error {
		role, ok := t.RoleOf(actor.ID)
		if !ok {
			return ErrNotParticipant
		}
		res.Role = role
		res.Repeated = t.ApprovedBy(actor.ID)
		wasFull := t.FullyApproved()

		if actor.ID == t.InitiatorID {
			t.InitiatorApproved = true
			if actor.Name != "" {
				t.InitiatorName = actor.Name
			}
		} else {
			t.CounterpartyApproved = true
			if actor.Name != "" {
				t.CounterpartyName = actor.Name
			}
		}
		res.BecameFullyApproved = !wasFull && t.FullyApproved()
		return nil
	})
	if err != nil {
		return ApprovalResult{}, fmt.Errorf("escrow: approve %s: %w", tradeID, err)
	}
	res.Trade = trade

	p.logger.InfoContext(ctx, "trade approved",
		slog.String("trade_id", trade.ID),
		slog.String("party", actor.ID.String()),
		slog.String("role", string(res.Role)),
		slog.Bool("repeated", res.Repeated),
		slog.Bool("fully_approved", trade.FullyApproved()),
	)
	p.emit(ctx, domain.EventTradeApproved, actor.ID, trade)
	if res.BecameFullyApproved {
		p.emit(ctx, domain.EventTradeFullyApproved, actor.ID, trade)
	}

	if res.Role == domain.RoleBuyer {
		p.sendInstructions(ctx, trade)
	}
	switch {
	case res.BecameFullyApproved:
		p.send(ctx, trade.SellerID(), Notice{Kind: NoticeFullyApproved, Trade: trade, From: trade.NameOf(actor.ID)})
	case !trade.FullyApproved():
		p.send(ctx, trade.OtherParty(actor.ID), Notice{Kind: NoticeApprovalRequested, Trade: trade, From: trade.NameOf(actor.ID)})
	}
	return res, nil
}

func (p *Protocol) sendInstructions(ctx context.Context, trade domain.Trade) {
	addr, ok := p.wallets.AddressFor(trade.Currency)
	if !ok {
		// Config validation requires every wallet, so this is a startup bug.
		p.logger.ErrorContext(ctx, "no wallet for currency",
			slog.String("trade_id", trade.ID),
			slog.String("currency", string(trade.Currency)),
		)
		return
	}
	p.send(ctx, trade.BuyerID(), Notice{Kind: NoticePaymentInstructions, Trade: trade, WalletAddress: addr})
}

// RecordPaymentSent records the buyer's claim that payment went out. No
// on-chain check happens here; the claim is left for manual verification.
// Approval state is not checked.
func (p *Protocol) RecordPaymentSent(ctx context.Context, tradeID string, actor Actor) (PaymentResult, error) {
	var already bool
	trade, err := p.registry.Update(tradeID, func(t *domain.Trade) error {
		role, ok := t.RoleOf(actor.ID)
		if !ok {
			return ErrNotParticipant
		}
		if role != domain.RoleBuyer {
			return ErrNotBuyer
		}
		already = t.PaymentAsserted
		t.PaymentAsserted = true
		return nil
	})
	if err != nil {
		return PaymentResult{}, fmt.Errorf("escrow: payment sent %s: %w", tradeID, err)
	}

	p.logger.InfoContext(ctx, "payment asserted",
		slog.String("trade_id", trade.ID),
		slog.String("party", actor.ID.String()),
		slog.Bool("repeated", already),
	)
	if !already {
		p.emit(ctx, domain.EventPaymentAsserted, actor.ID, trade)
	}
	p.send(ctx, actor.ID, Notice{Kind: NoticePaymentAcknowledged, Trade: trade})
	return PaymentResult{Trade: trade, AlreadyAsserted: already}, nil
}

// MarkCompleted sets the completed flag. It is the hook for whoever
// verifies the payment out of band.
func (p *Protocol) MarkCompleted(ctx context.Context, tradeID string) (domain.Trade, error) {
	var changed bool
	trade, err := p.registry.Update(tradeID, func(t *domain.Trade) error {
		changed = !t.Completed
		t.Completed = true
		return nil
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("escrow: complete %s: %w", tradeID, err)
	}
	if changed {
		p.logger.InfoContext(ctx, "trade completed", slog.String("trade_id", trade.ID))
		p.emit(ctx, domain.EventTradeCompleted, 0, trade)
	}
	return trade, nil
}

// Remove deletes a trade outside the sweeper, without notifying parties.
func (p *Protocol) Remove(ctx context.Context, tradeID string) (domain.Trade, error) {
	trade, err := p.registry.Remove(tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("escrow: remove %s: %w", tradeID, err)
	}
	p.logger.InfoContext(ctx, "trade removed", slog.String("trade_id", trade.ID))
	p.emit(ctx, domain.EventTradeRemoved, 0, trade)
	return trade, nil
}

func (p *Protocol) send(ctx context.Context, to domain.PartyID, n Notice) {
	if err := p.notifier.Notify(ctx, to, n); err != nil {
		p.logger.WarnContext(ctx, "notice not delivered",
			slog.String("trade_id", n.Trade.ID),
			slog.String("to", to.String()),
			slog.String("kind", n.Kind.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Protocol) emit(ctx context.Context, typ domain.TradeEventType, party domain.PartyID, trade domain.Trade) {
	p.events.Record(ctx, domain.TradeEvent{
		Type:    typ,
		TradeID: trade.ID,
		PartyID: party,
		Trade:   trade,
		At:      trade.LastActivityAt,
	})
}
