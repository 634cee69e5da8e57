package escrow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Collector drives Sessions and promotes finished ones into the Registry.
type Collector struct {
	registry *Registry
	events   EventSink
	logger   *slog.Logger
}

// NewCollector creates a Collector. events may be nil.
func NewCollector(registry *Registry, events EventSink, logger *slog.Logger) *Collector {
	if events == nil {
		events = nopSink{}
	}
	return &Collector{
		registry: registry,
		events:   events,
		logger:   logger.With(slog.String("component", "collector")),
	}
}

// Submit feeds one input into the session. The session is only modified
// when the input is accepted. When the input completes the form, the trade
// is created and returned; the caller should then discard the session.
func (c *Collector) Submit(ctx context.Context, s *Session, in Input) (*domain.Trade, error) {
	next, eff, err := Advance(*s, in)
	if err != nil {
		return nil, err
	}

	if eff != EffectCreateTrade {
		*s = next
		return nil, nil
	}

	trade, err := c.registry.Create(next.Params())
	if err != nil {
		return nil, fmt.Errorf("escrow: create trade: %w", err)
	}
	next.TradeID = trade.ID
	*s = next

	c.logger.InfoContext(ctx, "trade created",
		slog.String("trade_id", trade.ID),
		slog.String("initiator", trade.InitiatorID.String()),
		slog.String("counterparty", trade.CounterpartyID.String()),
		slog.String("role", string(trade.InitiatorRole)),
		slog.String("currency", string(trade.Currency)),
		slog.String("amount", trade.Amount.String()),
	)
	c.events.Record(ctx, domain.TradeEvent{
		Type:    domain.EventTradeCreated,
		TradeID: trade.ID,
		PartyID: trade.InitiatorID,
		Trade:   trade,
		At:      trade.CreatedAt,
	})
	return &trade, nil
}
