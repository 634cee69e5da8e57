package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/platform/telegram"
)

// UpdateSource long-polls Telegram for updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Handler processes one update.
type Handler interface {
	HandleUpdate(ctx context.Context, u telegram.Update)
}

// PollerConfig controls long polling and dispatch.
type PollerConfig struct {
	// PollTimeout is the long-poll wait passed to getUpdates.
	PollTimeout time.Duration
	// Workers is the number of dispatch shards. Updates from one user always
	// land on the same shard, so they are handled in order.
	Workers int
	// LockKey and LockTTL configure the single-poller lease when a
	// LockManager is supplied.
	LockKey string
	LockTTL time.Duration
}

// Poller reads updates and hands them to a Handler.
type Poller struct {
	src     UpdateSource
	handler Handler
	locks   domain.LockManager
	cfg     PollerConfig
	logger  *slog.Logger

	dedup    domain.Deduper
	dedupTTL time.Duration

	mu     sync.Mutex
	offset int64
}

// NewPoller creates a Poller. locks may be nil, in which case polling starts
// immediately with no coordination between replicas.
func NewPoller(src UpdateSource, handler Handler, locks domain.LockManager, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "escrowbot:poller"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Poller{
		src:     src,
		handler: handler,
		locks:   locks,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "poller")),
	}
}

// UseDedup makes the poller skip updates d has seen within ttl. With a
// shared Deduper a replica that takes over the lease does not replay updates
// its predecessor already handled.
func (p *Poller) UseDedup(d domain.Deduper, ttl time.Duration) {
	p.dedup = d
	p.dedupTTL = ttl
}

// Run polls until ctx is cancelled. With a LockManager it first waits to
// become the only poller for the bot token, and steps back to standby if
// the lease is lost.
func (p *Poller) Run(ctx context.Context) error {
	if p.locks == nil {
		return p.poll(ctx)
	}

	for {
		lease, err := p.locks.Acquire(ctx, p.cfg.LockKey, p.cfg.LockTTL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, domain.ErrLockHeld) {
				p.logger.WarnContext(ctx, "poller lease acquire failed", slog.String("error", err.Error()))
			}
			if err := sleepCtx(ctx, p.cfg.LockTTL/2); err != nil {
				return err
			}
			continue
		}

		p.logger.InfoContext(ctx, "poller lease acquired", slog.String("key", p.cfg.LockKey))
		err = p.runWithLease(ctx, lease)
		lease.Release()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.WarnContext(ctx, "poller lease lost, standing by", slog.String("error", errString(err)))
	}
}

func (p *Poller) runWithLease(ctx context.Context, lease domain.Lease) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(p.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := lease.Extend(gctx, p.cfg.LockTTL); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		return p.poll(gctx)
	})
	return g.Wait()
}

// poll runs the getUpdates loop and the dispatch shards.
func (p *Poller) poll(ctx context.Context) error {
	shards := make([]chan telegram.Update, p.cfg.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		ch := make(chan telegram.Update, 64)
		shards[i] = ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range ch {
				p.handler.HandleUpdate(ctx, u)
			}
		}()
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	p.logger.InfoContext(ctx, "polling for updates",
		slog.Duration("timeout", p.cfg.PollTimeout),
		slog.Int("workers", p.cfg.Workers),
	)

	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := p.src.GetUpdates(ctx, p.nextOffset(), p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := backoff
			var apiErr *telegram.APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > delay {
				delay = apiErr.RetryAfter
			}
			p.logger.WarnContext(ctx, "getUpdates failed",
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			p.advance(u.UpdateID)
			if p.duplicate(ctx, u) {
				continue
			}
			ch := shards[shardFor(u, len(shards))]
			select {
			case ch <- u:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// duplicate fails open: an unavailable Deduper never drops an update.
func (p *Poller) duplicate(ctx context.Context, u telegram.Update) bool {
	if p.dedup == nil {
		return false
	}
	seen, err := p.dedup.Seen(ctx, "update:"+strconv.FormatInt(u.UpdateID, 10), p.dedupTTL)
	if err != nil {
		p.logger.WarnContext(ctx, "dedup check failed",
			slog.Int64("update_id", u.UpdateID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if seen {
		p.logger.DebugContext(ctx, "skipping duplicate update", slog.Int64("update_id", u.UpdateID))
	}
	return seen
}

func (p *Poller) nextOffset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

func (p *Poller) advance(updateID int64) {
	p.mu.Lock()
	if updateID >= p.offset {
		p.offset = updateID + 1
	}
	p.mu.Unlock()
}

func shardFor(u telegram.Update, n int) int {
	sender := u.Sender()
	if sender == nil {
		return 0
	}
	return int(uint64(sender.ID) % uint64(n))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
