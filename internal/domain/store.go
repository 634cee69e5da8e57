package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID            int64          `json:"id"`
	Event         string         `json:"event"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	PartyID       PartyID        `json:"party_id,omitempty"`
	TradeID       string         `json:"trade_id,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log of inbound chat activity and
// trade lifecycle events.
type AuditStore interface {
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
