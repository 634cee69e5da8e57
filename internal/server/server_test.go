package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/cache/memory"
	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/escrow"
	"github.com/alanyoungcy/escrowbot/internal/server/handler"
	"github.com/alanyoungcy/escrowbot/internal/server/ws"
)

const apiKey = "s3cret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type silentNotifier struct{}

func (silentNotifier) Notify(context.Context, domain.PartyID, escrow.Notice) error { return nil }

type noWallets struct{}

func (noWallets) AddressFor(domain.Currency) (string, bool) { return "addr", true }

type fixture struct {
	srv      *httptest.Server
	registry *escrow.Registry
	bus      *memory.SignalBus
	trade    domain.Trade
}

func newFixture(t *testing.T, cfg Config, checks map[string]handler.Check) *fixture {
	t.Helper()
	logger := discardLogger()
	reg := escrow.NewRegistry(nil, nil)
	proto := escrow.NewProtocol(reg, silentNotifier{}, noWallets{}, nil, logger)
	bus := memory.NewSignalBus()

	tr, err := reg.Create(escrow.CreateParams{
		InitiatorID:    1001,
		CounterpartyID: 2002,
		InitiatorRole:  domain.RoleBuyer,
		Currency:       domain.CurrencyBTC,
		Amount:         decimal.RequireFromString("1.0"),
		Terms:          "widgets",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(bus, ws.Config{Channels: []string{"escrow:events"}, ActiveTrades: reg.Len}, logger)
	go func() { _ = hub.Run(ctx) }()

	cfg.APIKey = apiKey
	s := New(cfg, Handlers{
		Health: handler.NewHealthHandler(checks, reg.Len, logger),
		Trades: handler.NewTradeHandler(reg, proto, logger),
		Audit:  handler.NewAuditHandler(&staticAudit{}, logger),
		Hub:    hub,
	}, memory.NewRateLimiter(), logger)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return &fixture{srv: ts, registry: reg, bus: bus, trade: tr}
}

type staticAudit struct{}

func (*staticAudit) Log(context.Context, domain.AuditEntry) error { return nil }

func (*staticAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if opts.Since != nil {
		return nil, nil
	}
	return []domain.AuditEntry{{ID: 1, Event: "trade_created", TradeID: "ABCD2345"}}, nil
}

func (f *fixture) do(t *testing.T, method, path string, authed bool) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
	})
	resp, body := f.do(t, http.MethodGet, "/api/health", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["active_trades"])

	f = newFixture(t, Config{}, map[string]handler.Check{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	resp, body = f.do(t, http.MethodGet, "/api/health", false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["dependencies"].(map[string]any)["postgres"])
}

func TestTrades_RequireAuth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	resp, _ := f.do(t, http.MethodGet, "/api/trades", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/trades", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTrades_ListAndGet(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)

	resp, body := f.do(t, http.MethodGet, "/api/trades", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
	trades := body["trades"].([]any)
	require.Len(t, trades, 1)
	first := trades[0].(map[string]any)
	assert.Equal(t, f.trade.ID, first["id"])
	assert.Equal(t, "1.02", first["total"])
	assert.Equal(t, false, first["fully_approved"])

	_, body = f.do(t, http.MethodGet, "/api/trades?party=3003", true)
	assert.EqualValues(t, 0, body["total"])

	resp, _ = f.do(t, http.MethodGet, "/api/trades?party=alice", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/trades/"+f.trade.ID, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "widgets", body["terms"])

	resp, _ = f.do(t, http.MethodGet, "/api/trades/NOPENOPE", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrades_CompleteAndDelete(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)

	resp, body := f.do(t, http.MethodPost, "/api/trades/"+f.trade.ID+"/complete", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["completed"])

	got, err := f.registry.Get(f.trade.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)

	resp, body = f.do(t, http.MethodDelete, "/api/trades/"+f.trade.ID, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, f.trade.ID, body["removed"])
	assert.Empty(t, f.registry.ListForParty(1001))

	resp, _ = f.do(t, http.MethodDelete, "/api/trades/"+f.trade.ID, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAudit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	resp, body := f.do(t, http.MethodGet, "/api/audit?limit=10", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "trade_created", entries[0].(map[string]any)["event"])

	_, body = f.do(t, http.MethodGet, "/api/audit?since=2025-01-01T00:00:00Z", true)
	assert.Empty(t, body["entries"])

	resp, _ = f.do(t, http.MethodGet, "/api/audit?since=yesterday", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{RequestsPerMinute: 2}, nil)
	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodGet, "/api/health", false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := f.do(t, http.MethodGet, "/api/health", false)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CORSOrigins: []string{"https://ops.example"}}, nil)
	req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/trades", nil)
	req.Header.Set("Origin", "https://ops.example")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://ops.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + apiKey

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hub_status", hello["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"types": []string{"payment_asserted"}}))

	// Give the read pump a moment to apply the filter.
	time.Sleep(50 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, f.bus.Publish(ctx, "escrow:events", []byte(`{"type":"trade_approved","trade_id":"A"}`)))
	require.NoError(t, f.bus.Publish(ctx, "escrow:events", []byte(`{"type":"payment_asserted","trade_id":"B"}`)))

	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "payment_asserted", ev["type"])
	assert.Equal(t, "B", ev["trade_id"])
}

func TestWebSocketRequiresToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
