package escrow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

func TestRandomIDs(t *testing.T) {
	t.Parallel()

	for range 1000 {
		id := RandomIDs{}.NewID()
		require.Len(t, id, IDLength)
		require.True(t, ValidID(id), id)
	}
	assert.False(t, ValidID("ABCDEFG0"))
	assert.False(t, ValidID("ABCDEFGHI"))
	assert.False(t, ValidID("abcdefgh"))
}

func TestRegistry_CreateComputesFee(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)

	tr, err := reg.Create(params(1, 2, domain.RoleBuyer, "1.0"))
	require.NoError(t, err)

	assert.True(t, ValidID(tr.ID))
	assert.Equal(t, "0.02", tr.Fee.String())
	assert.Equal(t, "1.02", tr.Total.String())
	assert.False(t, tr.InitiatorApproved)
	assert.False(t, tr.CounterpartyApproved)
	assert.Equal(t, clock.Now(), tr.CreatedAt)
	assert.Equal(t, clock.Now(), tr.LastActivityAt)

	got, err := reg.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr, got)
}

func TestRegistry_CreateRejectsBadParams(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, nil)
	cases := map[string]CreateParams{
		"self trade":   params(1, 1, domain.RoleBuyer, "1"),
		"zero amount":  params(1, 2, domain.RoleBuyer, "0"),
		"negative":     params(1, 2, domain.RoleSeller, "-3"),
		"missing role": params(1, 2, "", "1"),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Create(p)
			assert.ErrorIs(t, err, ErrInvariant)
		})
	}
	assert.Zero(t, reg.Len())
}

func TestRegistry_RetriesOnCollision(t *testing.T) {
	t.Parallel()

	ids := &seqIDs{ids: []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}}
	reg := NewRegistry(ids, nil)

	first, err := reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	require.NoError(t, err)
	second, err := reg.Create(params(3, 4, domain.RoleBuyer, "1"))
	require.NoError(t, err)

	assert.Equal(t, "AAAAAAAA", first.ID)
	assert.Equal(t, "BBBBBBBB", second.ID)
}

type constantIDs string

func (c constantIDs) NewID() string { return string(c) }

func TestRegistry_IDSpaceExhausted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(constantIDs("AAAAAAAA"), nil)
	_, err := reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	require.NoError(t, err)

	_, err = reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ConcurrentCreateYieldsDistinctIDs(t *testing.T) {
	t.Parallel()

	const n = 500
	reg := NewRegistry(nil, nil)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := reg.Create(params(domain.PartyID(i+1), domain.PartyID(i+100000), domain.RoleSeller, "2"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[tr.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n)
	assert.Equal(t, n, reg.Len())
	for id := range ids {
		_, err := reg.Get(id)
		assert.NoError(t, err)
	}
}

func TestRegistry_ListForPartyInsertionOrder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(&seqIDs{ids: []string{"ZZZZZZZZ", "AAAAAAAA", "MMMMMMMM"}}, clock)

	for _, cp := range []domain.PartyID{2, 3, 4} {
		_, err := reg.Create(params(1, cp, domain.RoleBuyer, "1"))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	var got []string
	for _, tr := range reg.ListForParty(1) {
		got = append(got, tr.ID)
	}
	assert.Equal(t, []string{"ZZZZZZZZ", "AAAAAAAA", "MMMMMMMM"}, got)

	only := reg.ListForParty(3)
	require.Len(t, only, 1)
	assert.Equal(t, "AAAAAAAA", only[0].ID)

	assert.Empty(t, reg.ListForParty(99))
}

func TestRegistry_RemovePrunesIndex(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, nil)
	a, err := reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	require.NoError(t, err)
	b, err := reg.Create(params(1, 3, domain.RoleSeller, "1"))
	require.NoError(t, err)

	removed, err := reg.Remove(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, removed.ID)

	_, err = reg.Get(a.ID)
	assert.ErrorIs(t, err, ErrTradeNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	left := reg.ListForParty(1)
	require.Len(t, left, 1)
	assert.Equal(t, b.ID, left[0].ID)
	assert.Empty(t, reg.ListForParty(2))

	_, err = reg.Remove(a.ID)
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestRegistry_UpdateStampsActivity(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	tr, err := reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	updated, err := reg.Update(tr.ID, func(t *domain.Trade) error {
		t.InitiatorApproved = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), updated.LastActivityAt)
	assert.True(t, updated.InitiatorApproved)
}

func TestRegistry_UpdateErrorLeavesTradeUntouched(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	tr, err := reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	require.NoError(t, err)

	boom := errors.New("boom")
	clock.Advance(time.Hour)
	_, err = reg.Update(tr.ID, func(t *domain.Trade) error {
		t.InitiatorApproved = true
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := reg.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr, got)
}

func TestRegistry_UpdateEnforcesInvariants(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, nil)
	tr, err := reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	require.NoError(t, err)

	_, err = reg.Update(tr.ID, func(t *domain.Trade) error {
		t.CounterpartyApproved = true
		return nil
	})
	require.NoError(t, err)

	_, err = reg.Update(tr.ID, func(t *domain.Trade) error {
		t.CounterpartyApproved = false
		return nil
	})
	assert.ErrorIs(t, err, ErrInvariant)

	_, err = reg.Update(tr.ID, func(t *domain.Trade) error {
		t.Total = t.Total.Add(t.Total)
		return nil
	})
	assert.ErrorIs(t, err, ErrInvariant)

	got, err := reg.Get(tr.ID)
	require.NoError(t, err)
	assert.True(t, got.CounterpartyApproved)
	assert.Equal(t, "1.02", got.Total.String())
}

func TestRegistry_ConcurrentApprovalsAreNotLost(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, nil)
	tr, err := reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, party := range []domain.PartyID{1, 2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Update(tr.ID, func(t *domain.Trade) error {
				if party == t.InitiatorID {
					t.InitiatorApproved = true
				} else {
					t.CounterpartyApproved = true
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := reg.Get(tr.ID)
	require.NoError(t, err)
	assert.True(t, got.FullyApproved())
}

func TestRegistry_UpdateAfterRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, nil)
	tr, err := reg.Create(params(1, 2, domain.RoleBuyer, "1"))
	require.NoError(t, err)
	_, err = reg.Remove(tr.ID)
	require.NoError(t, err)

	_, err = reg.Update(tr.ID, func(*domain.Trade) error { return nil })
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestRegistry_AllOrderedByCreation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(nil, clock)
	var want []string
	for i := range 5 {
		tr, err := reg.Create(params(domain.PartyID(i+1), 100, domain.RoleBuyer, "1"))
		require.NoError(t, err)
		want = append(want, tr.ID)
		clock.Advance(time.Minute)
	}

	var got []string
	for _, tr := range reg.All() {
		got = append(got, tr.ID)
	}
	assert.Equal(t, want, got)
}
