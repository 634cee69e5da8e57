package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// ArchiveStore keeps a row per trade removed by the expiry sweep.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore creates an ArchiveStore backed by the given pool.
func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// ArchiveTrade records t. Archiving the same trade twice is a no-op.
func (s *ArchiveStore) ArchiveTrade(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO archived_trades (
			trade_id, initiator_id, counterparty_id, initiator_role, currency,
			amount, fee, total, terms,
			initiator_approved, counterparty_approved, payment_asserted, completed,
			created_at, last_activity_at
		) VALUES (
			$1, $2, $3, $4, $5,
			CAST($6::text AS NUMERIC), CAST($7::text AS NUMERIC), CAST($8::text AS NUMERIC), $9,
			$10, $11, $12, $13,
			$14, $15
		)
		ON CONFLICT (trade_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, int64(t.InitiatorID), int64(t.CounterpartyID), string(t.InitiatorRole), string(t.Currency),
		t.Amount.String(), t.Fee.String(), t.Total.String(), t.Terms,
		t.InitiatorApproved, t.CounterpartyApproved, t.PaymentAsserted, t.Completed,
		t.CreatedAt, t.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: archive trade %s: %w", t.ID, err)
	}
	return nil
}

var _ domain.TradeArchiver = (*ArchiveStore)(nil)
