// Package v1 provides the dashboard REST handlers.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the v1 routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Sessions
	e.GET("/v1/sessions", h.ListActiveSessions)
	e.POST("/v1/sessions", h.TrackSession)
	e.PUT("/v1/sessions", h.HydrateSessions)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.DELETE("/v1/sessions/:session_id", h.RemoveSession)
	e.POST("/v1/sessions/:session_id/decision", h.RecordDecision)
	e.POST("/v1/markets/:market_type/reset", h.ResetMarket)

	// Read models
	e.GET("/v1/history", h.ListHistory)
	e.GET("/v1/admission", h.GetAdmission)
	e.GET("/v1/connectivity", h.GetConnectivity)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorStatus maps an error kind to an HTTP status code.
func errorStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindNotFound, domain.KindRoutingMismatch:
		return http.StatusNotFound
	case domain.KindPreconditionFailed, domain.KindInvalidTransition:
		return http.StatusConflict
	case domain.KindRemoteCallFailed:
		return http.StatusBadGateway
	case domain.KindChannelDisconnected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c echo.Context, err error) error {
	return c.JSON(errorStatus(err), map[string]string{"error": err.Error()})
}
