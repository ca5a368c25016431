package handlers

import (
	"net/http"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// TradingHandler handles account and position endpoints
// ⭐ SSOT: broker read API handlers live in this struct only
type TradingHandler struct {
	pipeline Pipeline
	logger   *logger.Logger
}

// NewTradingHandler creates a new trading handler
func NewTradingHandler(p Pipeline, log *logger.Logger) *TradingHandler {
	return &TradingHandler{
		pipeline: p,
		logger:   log.WithField("module", "api"),
	}
}

// PositionsResponse lists open positions with totals
type PositionsResponse struct {
	Count        int                  `json:"count"`
	MarketValue  float64              `json:"market_value"`
	UnrealizedPL float64              `json:"unrealized_pl"`
	Positions    []contracts.Position `json:"positions"`
}

// GetPositions returns the broker's open positions
// GET /api/positions
func (h *TradingHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.pipeline.Broker().GetPositions(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get positions")
		respondErr(w, err)
		return
	}
	resp := PositionsResponse{Count: len(positions), Positions: positions}
	if resp.Positions == nil {
		resp.Positions = []contracts.Position{}
	}
	for _, p := range positions {
		resp.MarketValue += p.MarketValue
		resp.UnrealizedPL += p.UnrealizedPL
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetAccount returns the broker account snapshot
// GET /api/account
func (h *TradingHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.pipeline.Broker().GetAccount(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get account")
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}
