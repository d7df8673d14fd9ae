package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Message is one raw frame with its local receive time.
type Message struct {
	Data       []byte
	ReceivedAt time.Time
}

// Client is a single push channel for one session.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Messages delivers frames in arrival order.
	Messages() <-chan Message

	// Errors delivers at most one terminal read or heartbeat error.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// ClientFactory builds the client for a session's stream.
type ClientFactory func(sessionID string, market domain.MarketType) Client

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string
	PingInterval time.Duration // how often we ping the server
	PingTimeout  time.Duration // max time without pong before the connection is stale
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 15 * time.Second,
		PingTimeout:  45 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}

// streamPaths maps a market to its stream route.
var streamPaths = map[domain.MarketType]string{
	domain.MarketStock:  "/ws/analysis/",
	domain.MarketCoin:   "/ws/coin/analysis/",
	domain.MarketKiwoom: "/ws/kr-stocks/analysis/",
}

// StreamURL returns the stream URL for a session under base
// (e.g. ws://localhost:8000).
func StreamURL(base string, market domain.MarketType, sessionID string) string {
	return strings.TrimRight(base, "/") + streamPaths[market] + url.PathEscape(sessionID)
}

// NewClientFactory returns a factory dialing StreamURL(base, ...) with cfg.
func NewClientFactory(base string, cfg ClientConfig, logger *logrus.Entry) ClientFactory {
	return func(sessionID string, market domain.MarketType) Client {
		c := cfg
		c.URL = StreamURL(base, market, sessionID)
		var l *logrus.Entry
		if logger != nil {
			l = logger.WithFields(logrus.Fields{"session_id": sessionID, "market": market})
		}
		return NewClient(c, l)
	}
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *logrus.Entry

	conn *websocket.Conn

	messages chan Message
	errors   chan error
	done     chan struct{}

	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	lastPongAt time.Time
	closed     bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *logrus.Entry) Client {
	def := DefaultClientConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan Message, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	// Server pings count as liveness too.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.WithField("url", c.cfg.URL).Debug("websocket connected")
	return nil
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan Message {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	select {
	case c.errors <- err:
	default:
	}
}

// readLoop forwards frames in order. A full buffer applies backpressure
// rather than dropping, since every frame mutates session state.
func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(err)
			}
			return
		}

		select {
		case c.messages <- Message{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop pings the server and reports a stale connection.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Debug("failed to send ping")
			}

			c.mu.RLock()
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if time.Since(lastPong) > c.cfg.PingTimeout {
				c.logger.WithFields(logrus.Fields{
					"last_pong": lastPong,
					"timeout":   c.cfg.PingTimeout,
				}).Warn("no pong received, connection stale")
				c.fail(ErrStaleConnection)
				_ = c.conn.Close()
				return
			}
		}
	}
}
