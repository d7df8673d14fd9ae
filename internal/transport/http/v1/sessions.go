package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// ListActiveSessions returns the active view.
// GET /v1/sessions
func (h *Handler) ListActiveSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.ActiveSessions())
}

// TrackSession registers a session created by the start-analysis call.
// POST /v1/sessions
func (h *Handler) TrackSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.TrackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	sess, err := h.service.TrackSession(ctx, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// HydrateSessions rebuilds every slice from a server snapshot.
// PUT /v1/sessions
func (h *Handler) HydrateSessions(c echo.Context) error {
	ctx := c.Request().Context()

	var snap domain.Snapshot
	if err := c.Bind(&snap); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := h.service.Hydrate(ctx, snap); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.service.ActiveSessions())
}

// GetSession returns one tracked session.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.service.GetSession(c.Param("session_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// RemoveSession tears down one session. market_type and status may be given
// as query parameters for sessions the store no longer tracks.
// DELETE /v1/sessions/:session_id
func (h *Handler) RemoveSession(c echo.Context) error {
	ctx := c.Request().Context()

	req := domain.RemoveRequest{
		MarketType: domain.MarketType(c.QueryParam("market_type")),
		Status:     domain.SessionStatus(c.QueryParam("status")),
	}
	out, err := h.service.RemoveSession(ctx, c.Param("session_id"), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// RecordDecision submits a human decision on the pending proposal.
// POST /v1/sessions/:session_id/decision
func (h *Handler) RecordDecision(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.DecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Decision == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "decision is required"})
	}

	res, err := h.service.RecordDecision(ctx, c.Param("session_id"), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ResetMarket returns a market slice to idle.
// POST /v1/markets/:market_type/reset
func (h *Handler) ResetMarket(c echo.Context) error {
	ids, err := h.service.ResetMarket(domain.MarketType(c.Param("market_type")))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"removed": ids,
	})
}
