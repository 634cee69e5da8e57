package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/escrow"
)

// TradeHandler exposes the live trade registry to operators.
type TradeHandler struct {
	registry *escrow.Registry
	protocol *escrow.Protocol
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(registry *escrow.Registry, protocol *escrow.Protocol, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		registry: registry,
		protocol: protocol,
		logger:   logHandler(logger, "trades"),
	}
}

type tradeView struct {
	domain.Trade
	FullyApproved bool `json:"fully_approved"`
}

func viewOf(t domain.Trade) tradeView {
	return tradeView{Trade: t, FullyApproved: t.FullyApproved()}
}

// ListTrades returns live trades, oldest first. ?party=<id> restricts the
// list to one party's trades.
// GET /api/trades
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	var trades []domain.Trade
	if v := r.URL.Query().Get("party"); v != "" {
		p, err := domain.ParsePartyID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "party must be a numeric id")
			return
		}
		trades = h.registry.ListForParty(p)
	} else {
		trades = h.registry.All()
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range page(trades, parseListOpts(r)) {
		views = append(views, viewOf(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(trades),
		"trades": views,
	})
}

// GetTrade returns one trade.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

// CompleteTrade marks a trade completed after off-band payment
// verification. Completed trades expire without notifying the parties.
// POST /api/trades/{id}/complete
func (h *TradeHandler) CompleteTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.protocol.MarkCompleted(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "complete", err)
		return
	}
	h.logger.InfoContext(r.Context(), "trade completed by operator", slog.String("trade_id", t.ID))
	writeJSON(w, http.StatusOK, viewOf(t))
}

// DeleteTrade removes a trade from the registry.
// DELETE /api/trades/{id}
func (h *TradeHandler) DeleteTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.protocol.Remove(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "delete", err)
		return
	}
	h.logger.InfoContext(r.Context(), "trade removed by operator", slog.String("trade_id", t.ID))
	writeJSON(w, http.StatusOK, map[string]any{"removed": t.ID})
}

func (h *TradeHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "trade "+op+" failed",
		slog.String("trade_id", r.PathValue("id")),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
