// Package ws streams the active session view to dashboard clients.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/hub"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/session"
)

// Message types pushed to clients.
const (
	TypeSnapshot = "snapshot"
	TypeChange   = "change"
)

// StreamMessage is one frame of the dashboard stream. Every frame carries
// the full active view, so a client that missed frames is never stale.
type StreamMessage struct {
	Type     string           `json:"type"`
	Ts       int64            `json:"ts"`
	Change   *domain.Change   `json:"change,omitempty"`
	Sessions []domain.Summary `json:"sessions"`
	Capacity domain.Capacity  `json:"capacity"`
}

// Source is the part of session.Store the stream reads.
type Source interface {
	ActiveSessions() []domain.Summary
	Capacity() domain.Capacity
	Subscribe(fn session.Observer) func()
}

// Config holds connection settings.
type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Server handles dashboard WebSocket connections.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	source   Source
	upgrader websocket.Upgrader
	logger   *logrus.Entry
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, h *hub.Hub, source Source, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		cfg:    cfg,
		hub:    h,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.WithField("component", "stream"),
	}
}

// Watch broadcasts the active view after every registry change. The
// returned function stops watching.
func (s *Server) Watch() func() {
	return s.source.Subscribe(func(change domain.Change) {
		ch := change
		if err := s.hub.BroadcastJSON(s.message(TypeChange, &ch)); err != nil {
			s.logger.WithError(err).Warn("failed to encode stream message")
		}
	})
}

func (s *Server) message(typ string, change *domain.Change) StreamMessage {
	return StreamMessage{
		Type:     typ,
		Ts:       time.Now().UnixMilli(),
		Change:   change,
		Sessions: s.source.ActiveSessions(),
		Capacity: s.source.Capacity(),
	}
}

// HandleStream upgrades the request and starts pumping.
// GET /v1/stream
func (s *Server) HandleStream(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.WithError(err).Warn("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	// The snapshot is queued before registering so it is the first frame.
	if err := s.hub.SendJSONToConnection(conn, s.message(TypeSnapshot, nil)); err != nil {
		s.logger.WithError(err).Warn("failed to queue snapshot")
	}
	if !s.hub.Register(conn) {
		_ = ws.Close()
		return nil
	}

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump discards client frames and keeps the read deadline fresh.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithField("conn_id", conn.ID).WithError(err).Info("stream client error")
			}
			return
		}
	}
}

// writePump writes queued frames and pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.WithField("conn_id", conn.ID).WithError(err).Debug("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
