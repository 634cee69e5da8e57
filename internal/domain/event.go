package domain

import "time"

// TradeEventType names a step in a trade's lifecycle.
type TradeEventType string

const (
	EventTradeCreated       TradeEventType = "trade_created"
	EventTradeApproved      TradeEventType = "trade_approved"
	EventTradeFullyApproved TradeEventType = "trade_fully_approved"
	EventPaymentAsserted    TradeEventType = "payment_asserted"
	EventTradeCompleted     TradeEventType = "trade_completed"
	EventTradeRemoved       TradeEventType = "trade_removed"
	EventTradeExpired       TradeEventType = "trade_expired"
)

// TradeEvent is emitted after a trade mutation has been committed.
type TradeEvent struct {
	Type    TradeEventType `json:"type"`
	TradeID string         `json:"trade_id"`
	PartyID PartyID        `json:"party_id,omitempty"`
	Trade   Trade          `json:"trade"`
	At      time.Time      `json:"at"`
}
