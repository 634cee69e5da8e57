// Package service holds the background services that sit between the
// escrow core and the outside world.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// EventsChannel is the SignalBus channel trade events are published on.
const EventsChannel = "escrow:events"

const flushTimeout = 5 * time.Second

// Alerter forwards selected trade events to operators. notify.Notifier
// satisfies it.
type Alerter interface {
	AlertTrade(ctx context.Context, ev domain.TradeEvent) error
}

// EventRecorder fans trade events out to the audit log, the signal bus and
// operator alerts. Record only enqueues; Run does the I/O so a slow sink
// never holds up a chat handler. Any sink may be nil.
type EventRecorder struct {
	audit  domain.AuditStore
	bus    domain.SignalBus
	alerts Alerter
	queue  chan domain.TradeEvent
	logger *slog.Logger
}

// NewEventRecorder creates an EventRecorder buffering up to queueSize
// events.
func NewEventRecorder(
	audit domain.AuditStore,
	bus domain.SignalBus,
	alerts Alerter,
	queueSize int,
	logger *slog.Logger,
) *EventRecorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &EventRecorder{
		audit:  audit,
		bus:    bus,
		alerts: alerts,
		queue:  make(chan domain.TradeEvent, queueSize),
		logger: logger.With(slog.String("component", "event_recorder")),
	}
}

// Record enqueues ev. When the queue is full the event is dropped and
// logged.
func (r *EventRecorder) Record(ctx context.Context, ev domain.TradeEvent) {
	select {
	case r.queue <- ev:
	default:
		r.logger.WarnContext(ctx, "event queue full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.String("trade_id", ev.TradeID),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then flushes whatever
// is still buffered.
func (r *EventRecorder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		case <-ctx.Done():
			r.flush()
			return ctx.Err()
		}
	}
}

func (r *EventRecorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (r *EventRecorder) deliver(ctx context.Context, ev domain.TradeEvent) {
	if r.audit != nil {
		err := r.audit.Log(ctx, domain.AuditEntry{
			Event:         string(ev.Type),
			CorrelationID: uuid.NewString(),
			PartyID:       ev.PartyID,
			TradeID:       ev.TradeID,
			Detail:        eventDetail(ev),
			CreatedAt:     ev.At,
		})
		if err != nil {
			r.logger.WarnContext(ctx, "audit log failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = r.bus.Publish(ctx, EventsChannel, payload)
		}
		if err != nil {
			r.logger.WarnContext(ctx, "publish event failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.alerts != nil {
		if err := r.alerts.AlertTrade(ctx, ev); err != nil {
			r.logger.WarnContext(ctx, "operator alert failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func eventDetail(ev domain.TradeEvent) map[string]any {
	t := ev.Trade
	return map[string]any{
		"currency":              string(t.Currency),
		"amount":                t.Amount.String(),
		"total":                 t.Total.String(),
		"initiator_id":          int64(t.InitiatorID),
		"counterparty_id":       int64(t.CounterpartyID),
		"initiator_role":        string(t.InitiatorRole),
		"initiator_approved":    t.InitiatorApproved,
		"counterparty_approved": t.CounterpartyApproved,
		"payment_asserted":      t.PaymentAsserted,
		"completed":             t.Completed,
	}
}
