package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/service"
)

// TradeService defines the methods the trade handler requires from the
// service layer.
type TradeService interface {
	ExecuteTrade(ctx context.Context, p service.TradeParams) (service.TradeReceipt, error)
	PreviewTrade(ctx context.Context, p service.TradeParams) (service.TradeReceipt, error)
	ListByMarket(ctx context.Context, marketID uuid.UUID, opts domain.ListOpts) ([]domain.Trade, error)
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error)
	ListPositionsByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error)
}

// TradeHandler serves trade execution, quoting, and history endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// tradeRequest is the body for both execution and quoting. Amount is a
// decimal string: tokens to spend for buys, shares to sell for sells.
type tradeRequest struct {
	UserID  string `json:"user_id"`
	Outcome string `json:"outcome"`
	Side    string `json:"side"`
	Amount  string `json:"amount"`
}

// receiptResponse is the wire form of an executed or previewed trade.
type receiptResponse struct {
	TradeID       string            `json:"trade_id,omitempty"`
	MarketID      string            `json:"market_id"`
	Outcome       string            `json:"outcome"`
	Side          string            `json:"side"`
	Tokens        string            `json:"tokens"`
	Shares        string            `json:"shares"`
	Pools         map[string]string `json:"pools"`
	Probabilities map[string]string `json:"probabilities"`
}

func toReceiptResponse(r service.TradeReceipt) receiptResponse {
	out := receiptResponse{
		MarketID:      r.MarketID.String(),
		Outcome:       r.Outcome,
		Side:          string(r.Side),
		Tokens:        r.Tokens.String(),
		Shares:        r.Shares.String(),
		Pools:         decimalStrings(r.Pools),
		Probabilities: decimalStrings(r.Probabilities),
	}
	if r.TradeID != uuid.Nil {
		out.TradeID = r.TradeID.String()
	}
	return out
}

// parseTradeParams validates a trade request body against the market path
// parameter.
func parseTradeParams(r *http.Request) (service.TradeParams, string) {
	id, ok := pathUUID(r, "id")
	if !ok {
		return service.TradeParams{}, "invalid market id"
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return service.TradeParams{}, "invalid request body"
	}
	if req.UserID == "" {
		return service.TradeParams{}, "user_id is required"
	}
	side := domain.TradeSide(req.Side)
	if side != domain.TradeSideBuy && side != domain.TradeSideSell {
		return service.TradeParams{}, "side must be buy or sell"
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return service.TradeParams{}, "amount must be a decimal string"
	}

	return service.TradeParams{
		MarketID: id,
		UserID:   req.UserID,
		Outcome:  req.Outcome,
		Side:     side,
		Amount:   amount,
	}, ""
}

// ExecuteTrade executes a trade against a market.
// POST /api/markets/{id}/trades
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	params, msg := parseTradeParams(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	receipt, err := h.trades.ExecuteTrade(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReceiptResponse(receipt))
}

// QuoteTrade previews a trade without executing it.
// POST /api/markets/{id}/quote
func (h *TradeHandler) QuoteTrade(w http.ResponseWriter, r *http.Request) {
	params, msg := parseTradeParams(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	receipt, err := h.trades.PreviewTrade(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

// tradeResponse is the wire form of a logged trade.
type tradeResponse struct {
	ID         string            `json:"id"`
	MarketID   string            `json:"market_id"`
	UserID     string            `json:"user_id"`
	Outcome    string            `json:"outcome"`
	Side       string            `json:"side"`
	Tokens     string            `json:"tokens"`
	Shares     string            `json:"shares"`
	PoolsAfter map[string]string `json:"pools_after"`
	CreatedAt  time.Time         `json:"created_at"`
}

func toTradeResponse(t domain.Trade) tradeResponse {
	return tradeResponse{
		ID:         t.ID.String(),
		MarketID:   t.MarketID.String(),
		UserID:     t.UserID,
		Outcome:    t.Outcome,
		Side:       string(t.Side),
		Tokens:     t.Tokens.String(),
		Shares:     t.Shares.String(),
		PoolsAfter: decimalStrings(t.PoolsAfter),
		CreatedAt:  t.CreatedAt,
	}
}

// ListMarketTrades returns a market's trade log, oldest first.
// GET /api/markets/{id}/trades
func (h *TradeHandler) ListMarketTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	opts := parseListOpts(r)

	trades, err := h.trades.ListByMarket(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": out,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// ListUserTrades returns a user's trades, newest first.
// GET /api/users/{user}/trades
func (h *TradeHandler) ListUserTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	opts := parseListOpts(r)

	trades, err := h.trades.ListByUser(r.Context(), userID, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": out,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// positionResponse is the wire form of a position.
type positionResponse struct {
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
	Shares   string `json:"shares"`
	Cost     string `json:"cost"`
}

// ListUserPositions returns a user's positions across markets.
// GET /api/users/{user}/positions
func (h *TradeHandler) ListUserPositions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	opts := parseListOpts(r)

	positions, err := h.trades.ListPositionsByUser(r.Context(), userID, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			MarketID: p.MarketID.String(),
			Outcome:  p.Outcome,
			Shares:   p.Shares.String(),
			Cost:     p.Cost.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": out,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}
