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

// MarketService defines the methods the market handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, p service.CreateMarketParams) (domain.Market, error)
	GetMarket(ctx context.Context, id uuid.UUID) (domain.Market, error)
	GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error)
	ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Probabilities(ctx context.Context, id uuid.UUID) (map[string]decimal.Decimal, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// marketResponse is the wire form of a market. Pool and liquidity values are
// decimal strings.
type marketResponse struct {
	ID             string            `json:"id"`
	Question       string            `json:"question"`
	Slug           string            `json:"slug"`
	Type           string            `json:"type"`
	Outcomes       []string          `json:"outcomes"`
	Pools          map[string]string `json:"pools"`
	Liquidity      string            `json:"liquidity"`
	Status         string            `json:"status"`
	WinningOutcome *string           `json:"winning_outcome,omitempty"`
	ClosesAt       *time.Time        `json:"closes_at,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toMarketResponse(m domain.Market) marketResponse {
	return marketResponse{
		ID:             m.ID.String(),
		Question:       m.Question,
		Slug:           m.Slug,
		Type:           string(m.Type),
		Outcomes:       m.Outcomes,
		Pools:          decimalStrings(m.Pools),
		Liquidity:      m.Liquidity.String(),
		Status:         string(m.Status),
		WinningOutcome: m.WinningOutcome,
		ClosesAt:       m.ClosesAt,
		ResolvedAt:     m.ResolvedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// createMarketRequest is the body for market creation. Liquidity is an
// optional decimal string; when omitted the server default applies.
type createMarketRequest struct {
	Question  string     `json:"question"`
	Slug      string     `json:"slug"`
	Type      string     `json:"type"`
	Outcomes  []string   `json:"outcomes"`
	Liquidity string     `json:"liquidity"`
	ClosesAt  *time.Time `json:"closes_at"`
}

// CreateMarket creates a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" || req.Slug == "" {
		writeError(w, http.StatusBadRequest, "question and slug are required")
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), service.CreateMarketParams{
		Question:  req.Question,
		Slug:      req.Slug,
		Type:      domain.MarketType(req.Type),
		Outcomes:  req.Outcomes,
		Liquidity: req.Liquidity,
		ClosesAt:  req.ClosesAt,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMarketResponse(market))
}

// listMarketsResponse wraps the list endpoint output with pagination echo.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListMarkets returns open markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListOpen(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: out,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(market))
}

// GetMarketBySlug returns a single market by its URL slug.
// GET /api/markets/slug/{slug}
func (h *MarketHandler) GetMarketBySlug(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if slug == "" {
		writeError(w, http.StatusBadRequest, "missing slug")
		return
	}

	market, err := h.markets.GetMarketBySlug(r.Context(), slug)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(market))
}

// GetProbabilities returns the implied probabilities for a market.
// GET /api/markets/{id}/probabilities
func (h *MarketHandler) GetProbabilities(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	probs, err := h.markets.Probabilities(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":     id.String(),
		"probabilities": decimalStrings(probs),
	})
}
