package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// SweeperConfig controls the expiry sweep.
type SweeperConfig struct {
	// TTL is the inactivity after which a trade is reaped.
	TTL time.Duration
	// Interval between sweeps.
	Interval time.Duration
	// InitialDelay before the first sweep.
	InitialDelay time.Duration
	// Concurrency bounds the number of reaped trades handled at once.
	Concurrency int
}

// DefaultSweeperConfig returns a 24h TTL checked hourly, first after 10s.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		TTL:          24 * time.Hour,
		Interval:     time.Hour,
		InitialDelay: 10 * time.Second,
		Concurrency:  8,
	}
}

// Sweeper periodically reaps inactive trades and tells both parties.
type Sweeper struct {
	registry *Registry
	notifier Notifier
	archiver domain.TradeArchiver
	events   EventSink
	clock    Clock
	cfg      SweeperConfig
	pruners  []IdlePruner
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. archiver and events may be nil.
func NewSweeper(registry *Registry, notifier Notifier, archiver domain.TradeArchiver, events EventSink, clock Clock, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if events == nil {
		events = nopSink{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Sweeper{
		registry: registry,
		notifier: notifier,
		archiver: archiver,
		events:   events,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// AlsoPrune makes every sweep call p with the trade TTL. Call it before Run.
func (s *Sweeper) AlsoPrune(p IdlePruner) {
	s.pruners = append(s.pruners, p)
}

// Run sweeps after InitialDelay and then every Interval until ctx is done.
// A failing or panicking sweep is logged and the schedule continues.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper started",
		slog.Duration("ttl", s.cfg.TTL),
		slog.Duration("interval", s.cfg.Interval),
	)

	first := time.NewTimer(s.cfg.InitialDelay)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-first.C:
	}
	s.runOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "sweep reaped trades", slog.Int("count", n))
	}
}

// Sweep removes every trade idle for longer than TTL and returns how many
// were removed. Removal happens first; archiving, notification and event
// emission follow per trade and their failures are only logged. Registered
// pruners run last.
func (s *Sweeper) Sweep(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("escrow: sweep panic: %v", r)
		}
	}()

	now := s.clock.Now()
	stale := func(t domain.Trade) bool { return now.Sub(t.LastActivityAt) > s.cfg.TTL }

	var reaped []domain.Trade
	for _, id := range s.registry.IDs() {
		t, removed, err := s.registry.RemoveIf(id, stale)
		if err != nil || !removed {
			continue
		}
		reaped = append(reaped, t)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, t := range reaped {
		g.Go(func() error {
			s.handleReaped(gctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range s.pruners {
		if dropped := p.PruneIdle(s.cfg.TTL); dropped > 0 {
			s.logger.InfoContext(ctx, "pruned idle sessions", slog.Int("count", dropped))
		}
	}
	return len(reaped), nil
}

func (s *Sweeper) handleReaped(ctx context.Context, t domain.Trade) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "panic handling reaped trade",
				slog.String("trade_id", t.ID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	s.logger.InfoContext(ctx, "trade expired",
		slog.String("trade_id", t.ID),
		slog.Time("last_activity_at", t.LastActivityAt),
		slog.Bool("completed", t.Completed),
	)

	if s.archiver != nil {
		if err := s.archiver.ArchiveTrade(ctx, t); err != nil {
			s.logger.WarnContext(ctx, "archive failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if !t.Completed {
		for _, party := range []domain.PartyID{t.InitiatorID, t.CounterpartyID} {
			if err := s.notifier.Notify(ctx, party, Notice{Kind: NoticeTradeExpired, Trade: t}); err != nil {
				s.logger.WarnContext(ctx, "expiry notice not delivered",
					slog.String("trade_id", t.ID),
					slog.String("to", party.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.events.Record(ctx, domain.TradeEvent{
		Type:    domain.EventTradeExpired,
		TradeID: t.ID,
		Trade:   t,
		At:      s.clock.Now(),
	})
}
