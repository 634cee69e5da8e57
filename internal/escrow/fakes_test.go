package escrow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// seqIDs returns the given ids in order, then falls back to random ones.
type seqIDs struct {
	mu  sync.Mutex
	ids []string
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return RandomIDs{}.NewID()
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id
}

type sent struct {
	To     domain.PartyID
	Notice Notice
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []sent
	failTo map[domain.PartyID]bool
	panics bool
}

var errDeliveryFailed = errors.New("delivery failed")

func (n *recordingNotifier) Notify(_ context.Context, to domain.PartyID, notice Notice) error {
	if n.panics {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{To: to, Notice: notice})
	if n.failTo[to] {
		return errDeliveryFailed
	}
	return nil
}

func (n *recordingNotifier) all() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}

func (n *recordingNotifier) kinds(to domain.PartyID) []NoticeKind {
	var out []NoticeKind
	for _, s := range n.all() {
		if s.To == to {
			out = append(out, s.Notice.Kind)
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.sent = nil
	n.mu.Unlock()
}

type staticWallets map[domain.Currency]string

func (w staticWallets) AddressFor(c domain.Currency) (string, bool) {
	addr, ok := w[c]
	return addr, ok
}

var testWallets = staticWallets{
	domain.CurrencyBTC: "bc1qtestbtcaddress",
	domain.CurrencyLTC: "ltc1qtestltcaddress",
	domain.CurrencyXMR: "4testxmraddress",
	domain.CurrencyETH: "0x52908400098527886E0F7030069857D2E4169EE7",
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.TradeEvent
}

func (s *recordingSink) Record(_ context.Context, ev domain.TradeEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) types() []domain.TradeEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TradeEventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingArchiver struct {
	mu    sync.Mutex
	ids   []string
	fails bool
}

func (a *recordingArchiver) ArchiveTrade(_ context.Context, t domain.Trade) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, t.ID)
	if a.fails {
		return errors.New("bucket unavailable")
	}
	return nil
}

func params(initiator, counterparty domain.PartyID, role domain.Role, amount string) CreateParams {
	return CreateParams{
		InitiatorID:    initiator,
		CounterpartyID: counterparty,
		InitiatorRole:  role,
		Currency:       domain.CurrencyBTC,
		Amount:         decimal.RequireFromString(amount),
		Terms:          "2 widgets",
	}
}
