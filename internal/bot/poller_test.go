package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/platform/telegram"
)

type scriptedSource struct {
	mu      sync.Mutex
	errs    []error
	batches [][]telegram.Update
	offsets []int64
}

func (s *scriptedSource) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]telegram.Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return nil, err
	}
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedSource) seenOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

type recordingHandler struct {
	mu   sync.Mutex
	seen map[int64][]int64
	n    int
}

func (h *recordingHandler) HandleUpdate(_ context.Context, u telegram.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = make(map[int64][]int64)
	}
	uid := u.Sender().ID
	h.seen[uid] = append(h.seen[uid], u.UpdateID)
	h.n++
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func textFrom(updateID, userID int64) telegram.Update {
	return telegram.Update{UpdateID: updateID, Message: &telegram.Message{
		From: &telegram.User{ID: userID},
		Chat: telegram.Chat{ID: userID, Type: "private"},
	}}
}

func runPoller(t *testing.T, p *Poller) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("poller did not stop")
			return nil
		}
	}
}

func TestPoller_PreservesPerUserOrder(t *testing.T) {
	t.Parallel()

	var first, second []telegram.Update
	for i := int64(1); i <= 20; i++ {
		first = append(first, textFrom(i, 100+i%3))
	}
	for i := int64(21); i <= 40; i++ {
		second = append(second, textFrom(i, 100+i%3))
	}
	src := &scriptedSource{batches: [][]telegram.Update{first, second}}
	h := &recordingHandler{}
	p := NewPoller(src, h, nil, PollerConfig{Workers: 2}, discardLogger())

	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return h.count() == 40 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(src.seenOffsets()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, stop(), context.Canceled)

	for uid, ids := range h.seen {
		for i := 1; i < len(ids); i++ {
			assert.Less(t, ids[i-1], ids[i], "user %d handled out of order", uid)
		}
	}
	assert.Equal(t, []int64{0, 21, 41}, src.seenOffsets())
}

func TestPoller_RetriesFailedPolls(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{
		errs:    []error{errors.New("connection reset")},
		batches: [][]telegram.Update{{textFrom(7, 1)}},
	}
	h := &recordingHandler{}
	p := NewPoller(src, h, nil, PollerConfig{}, discardLogger())

	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(src.seenOffsets()) == 3 }, 3*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)
	assert.Equal(t, 1, h.count())
	assert.Equal(t, []int64{0, 0, 8}, src.seenOffsets())
}

type mapDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *mapDedup) Seen(_ context.Context, key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[key] {
		return true, nil
	}
	d.seen[key] = true
	return false, nil
}

func TestPoller_SkipsReplayedUpdates(t *testing.T) {
	t.Parallel()

	// Update 2 was handled by a previous lease holder.
	dedup := &mapDedup{seen: map[string]bool{"update:2": true}}
	src := &scriptedSource{batches: [][]telegram.Update{
		{textFrom(1, 5), textFrom(2, 5), textFrom(3, 6)},
	}}
	h := &recordingHandler{}
	p := NewPoller(src, h, nil, PollerConfig{}, discardLogger())
	p.UseDedup(dedup, time.Hour)

	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(src.seenOffsets()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []int64{1}, h.seen[5])
	assert.Equal(t, []int64{3}, h.seen[6])
	assert.Equal(t, []int64{0, 4}, src.seenOffsets())
}

func TestPoller_DedupFailureFailsOpen(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{batches: [][]telegram.Update{{textFrom(1, 5)}}}
	h := &recordingHandler{}
	p := NewPoller(src, h, nil, PollerConfig{}, discardLogger())
	p.UseDedup(&mapDedup{err: errors.New("redis down")}, time.Hour)

	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)
}

func TestShardFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, shardFor(textFrom(1, 42), 4), shardFor(textFrom(2, 42), 4))
	assert.Equal(t, 2, shardFor(textFrom(1, 42), 4))
	assert.Equal(t, 0, shardFor(telegram.Update{UpdateID: 3}, 4))
}

type fakeLease struct {
	mu       sync.Mutex
	extends  int
	released bool
	lost     bool
}

func (l *fakeLease) Extend(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	if l.lost {
		return domain.ErrLockLost
	}
	return nil
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	l.released = true
	l.mu.Unlock()
}

func (l *fakeLease) wasReleased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

type fakeLocks struct {
	mu       sync.Mutex
	heldFor  int
	attempts int
	leases   []*fakeLease
	loseAll  bool
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.heldFor {
		return nil, domain.ErrLockHeld
	}
	l := &fakeLease{lost: f.loseAll}
	f.leases = append(f.leases, l)
	return l, nil
}

func (f *fakeLocks) granted() []*fakeLease {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeLease(nil), f.leases...)
}

func TestPoller_WaitsForLease(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{batches: [][]telegram.Update{{textFrom(1, 5)}}}
	h := &recordingHandler{}
	locks := &fakeLocks{heldFor: 2}
	p := NewPoller(src, h, locks, PollerConfig{LockTTL: 30 * time.Millisecond}, discardLogger())

	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		leases := locks.granted()
		if len(leases) != 1 {
			return false
		}
		leases[0].mu.Lock()
		defer leases[0].mu.Unlock()
		return leases[0].extends > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)

	leases := locks.granted()
	require.Len(t, leases, 1)
	assert.True(t, leases[0].wasReleased())
}

func TestPoller_StandsDownWhenLeaseLost(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{}
	locks := &fakeLocks{loseAll: true}
	p := NewPoller(src, &recordingHandler{}, locks, PollerConfig{LockTTL: 30 * time.Millisecond}, discardLogger())

	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(locks.granted()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)

	for _, l := range locks.granted()[:1] {
		assert.True(t, l.wasReleased())
	}
}
