package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// fanoutArchiver hands a reaped trade to every configured archiver. A
// failing archiver does not stop the rest; their errors are joined.
type fanoutArchiver struct {
	archivers []domain.TradeArchiver
	logger    *slog.Logger
}

var _ domain.TradeArchiver = (*fanoutArchiver)(nil)

func newFanoutArchiver(archivers []domain.TradeArchiver, logger *slog.Logger) *fanoutArchiver {
	return &fanoutArchiver{
		archivers: archivers,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

func (f *fanoutArchiver) ArchiveTrade(ctx context.Context, t domain.Trade) error {
	var errs []error
	for i, a := range f.archivers {
		if err := a.ArchiveTrade(ctx, t); err != nil {
			f.logger.WarnContext(ctx, "archive failed",
				slog.Int("archiver", i),
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("archive trade %s: %w", t.ID, errors.Join(errs...))
	}
	return nil
}
