package escrow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

func newTestSweeper(reg *Registry, n Notifier, a domain.TradeArchiver, sink EventSink, clock Clock) *Sweeper {
	cfg := DefaultSweeperConfig()
	return NewSweeper(reg, n, a, sink, clock, cfg, discardLogger())
}

func TestSweeper_RemovesOnlyStaleTrades(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	notifier := &recordingNotifier{}
	sink := &recordingSink{}

	old, err := reg.Create(params(partyA, partyB, domain.RoleBuyer, "1"))
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	recent, err := reg.Create(params(partyA, 3003, domain.RoleBuyer, "1"))
	require.NoError(t, err)

	// old is now 25h idle, recent 23h.
	clock.Advance(23 * time.Hour)

	s := newTestSweeper(reg, notifier, nil, sink, clock)
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = reg.Get(old.ID)
	assert.ErrorIs(t, err, ErrTradeNotFound)
	_, err = reg.Get(recent.ID)
	assert.NoError(t, err)

	left := reg.ListForParty(partyA)
	require.Len(t, left, 1)
	assert.Equal(t, recent.ID, left[0].ID)
	assert.Empty(t, reg.ListForParty(partyB))

	assert.Equal(t, []NoticeKind{NoticeTradeExpired}, notifier.kinds(partyA))
	assert.Equal(t, []NoticeKind{NoticeTradeExpired}, notifier.kinds(partyB))
	assert.Empty(t, notifier.kinds(3003))
	assert.Equal(t, []domain.TradeEventType{domain.EventTradeExpired}, sink.types())
}

func TestSweeper_ActivityKeepsTradeAlive(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	proto := NewProtocol(reg, &recordingNotifier{}, testWallets, nil, discardLogger())

	tr, err := reg.Create(params(partyA, partyB, domain.RoleBuyer, "1"))
	require.NoError(t, err)
	clock.Advance(20 * time.Hour)
	_, err = proto.RecordApproval(context.Background(), tr.ID, Actor{ID: partyB})
	require.NoError(t, err)
	clock.Advance(20 * time.Hour)

	n, err := newTestSweeper(reg, &recordingNotifier{}, nil, nil, clock).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = reg.Get(tr.ID)
	assert.NoError(t, err)
}

func TestSweeper_CompletedTradesAreRemovedSilently(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	notifier := &recordingNotifier{}

	tr, err := reg.Create(params(partyA, partyB, domain.RoleBuyer, "1"))
	require.NoError(t, err)
	_, err = reg.Update(tr.ID, func(t *domain.Trade) error {
		t.Completed = true
		return nil
	})
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)

	n, err := newTestSweeper(reg, notifier, nil, nil, clock).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, notifier.all())
	assert.Zero(t, reg.Len())
}

func TestSweeper_NotifyFailureDoesNotStopSweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	notifier := &recordingNotifier{failTo: map[domain.PartyID]bool{partyA: true}}
	archiver := &recordingArchiver{fails: true}

	for _, cp := range []domain.PartyID{2, 3, 4} {
		_, err := reg.Create(params(partyA, cp, domain.RoleBuyer, "1"))
		require.NoError(t, err)
	}
	clock.Advance(48 * time.Hour)

	n, err := newTestSweeper(reg, notifier, archiver, nil, clock).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, reg.Len())
	assert.Len(t, notifier.all(), 6)
	assert.Len(t, archiver.ids, 3)
}

func TestSweeper_PanickingNotifierIsContained(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	_, err := reg.Create(params(partyA, partyB, domain.RoleBuyer, "1"))
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)

	s := newTestSweeper(reg, &recordingNotifier{panics: true}, nil, nil, clock)
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, reg.Len())
}

type countingClock struct {
	*fakeClock
	calls  atomic.Int32
	panicN int32
}

func (c *countingClock) Now() time.Time {
	if c.calls.Add(1) == c.panicN {
		panic("clock exploded")
	}
	return c.fakeClock.Now()
}

func TestSweeper_PanicInOneSweepDoesNotStopSchedule(t *testing.T) {
	t.Parallel()

	clock := &countingClock{fakeClock: newFakeClock(), panicN: 1}
	reg := NewRegistry(nil, newFakeClock())
	_, err := reg.Create(params(partyA, partyB, domain.RoleBuyer, "1"))
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)

	cfg := SweeperConfig{TTL: 24 * time.Hour, Interval: 5 * time.Millisecond, InitialDelay: time.Millisecond, Concurrency: 2}
	s := NewSweeper(reg, &recordingNotifier{}, nil, nil, clock, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSweeper_SweepReportsPanic(t *testing.T) {
	t.Parallel()

	clock := &countingClock{fakeClock: newFakeClock(), panicN: 1}
	s := NewSweeper(NewRegistry(nil, nil), &recordingNotifier{}, nil, nil, clock, DefaultSweeperConfig(), discardLogger())

	_, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clock exploded")
}

type recordingPruner struct {
	mu   sync.Mutex
	ttls []time.Duration
}

func (p *recordingPruner) PruneIdle(ttl time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttls = append(p.ttls, ttl)
	return 3
}

func TestSweeper_RunsPrunersWithTradeTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	p := &recordingPruner{}

	s := newTestSweeper(reg, &recordingNotifier{}, nil, nil, clock)
	s.AlsoPrune(p)

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	_, err = s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{24 * time.Hour, 24 * time.Hour}, p.ttls)
}
