// Package http provides the HTTP server implementation for the dashboard core.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/service"
	v1 "github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/transport/http/v1"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/transport/ws"
)

// NewServer creates and configures the dashboard HTTP server: the v1 REST
// routes plus the session stream, when stream is not nil.
func NewServer(svc *service.Service, stream *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	if stream != nil {
		e.GET("/v1/stream", stream.HandleStream)
	}

	return e
}
