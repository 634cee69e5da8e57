package escrow

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

const maxIDAttempts = 32

// CreateParams holds everything collected before a trade is created.
type CreateParams struct {
	InitiatorID    domain.PartyID
	InitiatorName  string
	CounterpartyID domain.PartyID
	InitiatorRole  domain.Role
	Currency       domain.Currency
	Amount         decimal.Decimal
	Terms          string
}

func (p CreateParams) validate() error {
	if p.InitiatorID == p.CounterpartyID {
		return fmt.Errorf("%w: initiator and counterparty are the same party", ErrInvariant)
	}
	if p.InitiatorRole != domain.RoleBuyer && p.InitiatorRole != domain.RoleSeller {
		return fmt.Errorf("%w: role %q", ErrInvariant, p.InitiatorRole)
	}
	if _, err := domain.ParseCurrency(string(p.Currency)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	if err := domain.CheckAmount(p.Amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	return nil
}

type tradeEntry struct {
	mu      sync.Mutex
	trade   domain.Trade
	removed bool
}

// Registry is the in-memory set of live trades. Lookups and creation take
// the registry lock; mutations of a single trade take only that trade's
// lock, so unrelated trades never wait on each other.
//
// Lock order is registry, then entry. No method holds an entry lock while
// acquiring the registry lock.
type Registry struct {
	ids   IDGenerator
	clock Clock

	mu      sync.RWMutex
	trades  map[string]*tradeEntry
	byParty map[domain.PartyID][]string
}

// NewRegistry creates an empty registry.
func NewRegistry(ids IDGenerator, clock Clock) *Registry {
	if ids == nil {
		ids = RandomIDs{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{
		ids:     ids,
		clock:   clock,
		trades:  make(map[string]*tradeEntry),
		byParty: make(map[domain.PartyID][]string),
	}
}

// Create allocates a fresh id and stores a new trade with no approvals.
// Fee and total are derived from the amount here and never change.
func (r *Registry) Create(p CreateParams) (domain.Trade, error) {
	if err := p.validate(); err != nil {
		return domain.Trade{}, err
	}

	now := r.clock.Now()
	fee, total := domain.ComputeFee(p.Amount)

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.allocateLocked()
	if err != nil {
		return domain.Trade{}, err
	}

	t := domain.Trade{
		ID:             id,
		InitiatorID:    p.InitiatorID,
		CounterpartyID: p.CounterpartyID,
		InitiatorRole:  p.InitiatorRole,
		Currency:       p.Currency,
		Amount:         p.Amount,
		Fee:            fee,
		Total:          total,
		Terms:          p.Terms,
		InitiatorName:  p.InitiatorName,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.trades[id] = &tradeEntry{trade: t}
	r.byParty[p.InitiatorID] = append(r.byParty[p.InitiatorID], id)
	r.byParty[p.CounterpartyID] = append(r.byParty[p.CounterpartyID], id)
	return t, nil
}

func (r *Registry) allocateLocked() (string, error) {
	for range maxIDAttempts {
		id := r.ids.NewID()
		if _, taken := r.trades[id]; !taken && id != "" {
			return id, nil
		}
	}
	return "", ErrIDSpaceExhausted
}

func (r *Registry) entry(id string) (*tradeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.trades[id]
	return e, ok
}

// Get returns a copy of the trade.
func (r *Registry) Get(id string) (domain.Trade, error) {
	e, ok := r.entry(id)
	if !ok {
		return domain.Trade{}, ErrTradeNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.Trade{}, ErrTradeNotFound
	}
	return e.trade, nil
}

// Update applies fn to the trade under its lock and stamps the activity
// time. fn works on a copy; if it returns an error nothing is stored. The
// registry rejects changes to immutable fields and any flag moving from
// true back to false.
func (r *Registry) Update(id string, fn func(t *domain.Trade) error) (domain.Trade, error) {
	e, ok := r.entry(id)
	if !ok {
		return domain.Trade{}, ErrTradeNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.Trade{}, ErrTradeNotFound
	}

	next := e.trade
	if err := fn(&next); err != nil {
		return domain.Trade{}, err
	}
	if err := checkTransition(e.trade, next); err != nil {
		return domain.Trade{}, err
	}
	next.LastActivityAt = r.clock.Now()
	e.trade = next
	return next, nil
}

func checkTransition(prev, next domain.Trade) error {
	switch {
	case prev.ID != next.ID,
		prev.InitiatorID != next.InitiatorID,
		prev.CounterpartyID != next.CounterpartyID,
		prev.InitiatorRole != next.InitiatorRole,
		prev.Currency != next.Currency,
		!prev.Amount.Equal(next.Amount),
		!prev.Fee.Equal(next.Fee),
		!prev.Total.Equal(next.Total),
		prev.Terms != next.Terms,
		!prev.CreatedAt.Equal(next.CreatedAt):
		return fmt.Errorf("%w: immutable field changed on %s", ErrInvariant, prev.ID)
	case prev.InitiatorApproved && !next.InitiatorApproved,
		prev.CounterpartyApproved && !next.CounterpartyApproved,
		prev.PaymentAsserted && !next.PaymentAsserted,
		prev.Completed && !next.Completed:
		return fmt.Errorf("%w: flag reset on %s", ErrInvariant, prev.ID)
	}
	return nil
}

// Remove deletes the trade and returns its last state.
func (r *Registry) Remove(id string) (domain.Trade, error) {
	t, removed, err := r.RemoveIf(id, func(domain.Trade) bool { return true })
	if err != nil {
		return domain.Trade{}, err
	}
	if !removed {
		return domain.Trade{}, ErrTradeNotFound
	}
	return t, nil
}

// RemoveIf deletes the trade only if pred holds for its current state. The
// predicate runs under the trade lock, so an update that lands first is
// seen by it.
func (r *Registry) RemoveIf(id string, pred func(t domain.Trade) bool) (domain.Trade, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.trades[id]
	if !ok {
		return domain.Trade{}, false, ErrTradeNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !pred(e.trade) {
		return e.trade, false, nil
	}

	e.removed = true
	delete(r.trades, id)
	r.unindexLocked(e.trade.InitiatorID, id)
	r.unindexLocked(e.trade.CounterpartyID, id)
	return e.trade, true, nil
}

func (r *Registry) unindexLocked(p domain.PartyID, id string) {
	ids := slices.DeleteFunc(r.byParty[p], func(s string) bool { return s == id })
	if len(ids) == 0 {
		delete(r.byParty, p)
		return
	}
	r.byParty[p] = ids
}

// ListForParty returns the party's live trades in creation order.
func (r *Registry) ListForParty(p domain.PartyID) []domain.Trade {
	r.mu.RLock()
	entries := make([]*tradeEntry, 0, len(r.byParty[p]))
	for _, id := range r.byParty[p] {
		if e, ok := r.trades[id]; ok {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	return collect(entries)
}

// IDs returns the ids of all live trades at the moment of the call.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.trades))
	for id := range r.trades {
		ids = append(ids, id)
	}
	return ids
}

// All returns every live trade ordered by creation time.
func (r *Registry) All() []domain.Trade {
	r.mu.RLock()
	entries := make([]*tradeEntry, 0, len(r.trades))
	for _, e := range r.trades {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := collect(entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live trades.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trades)
}

func collect(entries []*tradeEntry) []domain.Trade {
	out := make([]domain.Trade, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.trade)
		}
		e.mu.Unlock()
	}
	return out
}
