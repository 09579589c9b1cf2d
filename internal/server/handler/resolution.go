package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/marketd/internal/domain"
)

// ResolutionService defines the methods the resolution handler requires from
// the service layer.
type ResolutionService interface {
	Resolve(ctx context.Context, marketID uuid.UUID, winningOutcome string) (domain.Resolution, error)
	GetByMarket(ctx context.Context, marketID uuid.UUID) (domain.Resolution, error)
}

// ResolutionHandler serves market settlement endpoints.
type ResolutionHandler struct {
	resolutions ResolutionService
	logger      *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler with the given service and
// logger.
func NewResolutionHandler(resolutions ResolutionService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolutions: resolutions,
		logger:      logger,
	}
}

// payoutLineResponse is the wire form of one winner's payout.
type payoutLineResponse struct {
	UserID string `json:"user_id"`
	Shares string `json:"shares"`
	Cost   string `json:"cost"`
	Amount string `json:"amount"`
}

// resolutionResponse is the wire form of a settlement record.
type resolutionResponse struct {
	ID                 string               `json:"id"`
	MarketID           string               `json:"market_id"`
	WinningOutcome     string               `json:"winning_outcome"`
	Policy             string               `json:"policy"`
	TotalPool          string               `json:"total_pool"`
	TotalWinningShares string               `json:"total_winning_shares"`
	TotalWinningCost   string               `json:"total_winning_cost"`
	Payouts            []payoutLineResponse `json:"payouts"`
	ResolvedAt         time.Time            `json:"resolved_at"`
}

func toResolutionResponse(res domain.Resolution) resolutionResponse {
	payouts := make([]payoutLineResponse, 0, len(res.Payouts))
	for _, line := range res.Payouts {
		payouts = append(payouts, payoutLineResponse{
			UserID: line.UserID,
			Shares: line.Shares.String(),
			Cost:   line.Cost.String(),
			Amount: line.Amount.String(),
		})
	}
	return resolutionResponse{
		ID:                 res.ID.String(),
		MarketID:           res.MarketID.String(),
		WinningOutcome:     res.WinningOutcome,
		Policy:             res.Policy,
		TotalPool:          res.TotalPool.String(),
		TotalWinningShares: res.TotalWinningShares.String(),
		TotalWinningCost:   res.TotalWinningCost.String(),
		Payouts:            payouts,
		ResolvedAt:         res.ResolvedAt,
	}
}

// resolveRequest is the body for market resolution.
type resolveRequest struct {
	WinningOutcome string `json:"winning_outcome"`
}

// ResolveMarket settles a market on a winning outcome.
// POST /api/markets/{id}/resolve
func (h *ResolutionHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WinningOutcome == "" {
		writeError(w, http.StatusBadRequest, "winning_outcome is required")
		return
	}

	res, err := h.resolutions.Resolve(r.Context(), id, req.WinningOutcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResolutionResponse(res))
}

// GetResolution returns the settlement record for a market.
// GET /api/markets/{id}/resolution
func (h *ResolutionHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	res, err := h.resolutions.GetByMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toResolutionResponse(res))
}
