package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// ListHistory queries the history ledger, newest first.
// GET /v1/history?market_type=&status=&q=
func (h *Handler) ListHistory(c echo.Context) error {
	filter := domain.HistoryFilter{
		MarketType: domain.MarketType(c.QueryParam("market_type")),
		Status:     domain.SessionStatus(c.QueryParam("status")),
		Text:       c.QueryParam("q"),
	}

	entries, err := h.service.History(filter)
	if err != nil {
		return respondError(c, err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, domain.HistoryResponse{Entries: entries})
}

// GetAdmission reports whether a new session for a market would fit.
// GET /v1/admission?market_type=
func (h *Handler) GetAdmission(c echo.Context) error {
	ctx := c.Request().Context()

	market := domain.MarketType(c.QueryParam("market_type"))
	if market == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "market_type is required"})
	}

	adm, err := h.service.Admission(ctx, market)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, adm)
}

// GetConnectivity reports push channel state.
// GET /v1/connectivity
func (h *Handler) GetConnectivity(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Connectivity())
}
