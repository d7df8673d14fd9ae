package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// Applier receives decoded events. session.Store satisfies it.
type Applier interface {
	ApplyMarketEvent(market domain.MarketType, sessionID string, ev domain.Event) error
}

// ResyncFunc is called after a subscription reconnects, so state missed
// while the channel was down can be reconciled by polling. Returning true
// reports the session reached a terminal state and ends the subscription.
type ResyncFunc func(ctx context.Context, sessionID string, market domain.MarketType) (terminal bool)

// ConnectivityFunc is called whenever a subscription's connected flag flips.
type ConnectivityFunc func(sessionID string, connected bool)

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	ConnectTimeout    time.Duration // bound for each dial
	ReconnectBaseWait time.Duration // first reconnect wait, doubled per failure
	ReconnectMaxWait  time.Duration
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout:    10 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithResync sets the post-reconnect hook.
func WithResync(fn ResyncFunc) ManagerOption {
	return func(m *Manager) { m.resync = fn }
}

// WithConnectivity sets the connectivity hook.
func WithConnectivity(fn ConnectivityFunc) ManagerOption {
	return func(m *Manager) { m.onConnectivity = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Entry) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// subscription is the live channel of one session.
type subscription struct {
	sessionID string
	market    domain.MarketType
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
}

// Manager owns one push subscription per tracked session. Each
// subscription has a single reader goroutine, so a session's events are
// applied in arrival order.
type Manager struct {
	cfg            ManagerConfig
	factory        ClientFactory
	applier        Applier
	resync         ResyncFunc
	onConnectivity ConnectivityFunc
	logger         *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewManager creates a manager that applies events to applier.
func NewManager(cfg ManagerConfig, factory ClientFactory, applier Applier, opts ...ManagerOption) *Manager {
	def := DefaultManagerConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		factory: factory,
		applier: applier,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	m.logger = m.logger.WithField("component", "realtime")
	return m
}

// Connect attaches a push channel for sessionID. Connecting an id that
// already has a subscription is a no-op. If the first dial fails the
// subscription stays registered and keeps retrying in the background; the
// returned error is a channel-disconnected error.
func (m *Manager) Connect(ctx context.Context, sessionID string, market domain.MarketType) error {
	const op = "connect"
	if sessionID == "" || !market.Valid() {
		return domain.NewError(domain.KindInvalidArgument, op, sessionID, "session id and market are required")
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return domain.NewError(domain.KindChannelDisconnected, op, sessionID, "manager stopped")
	}
	if _, ok := m.subs[sessionID]; ok {
		m.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(m.ctx)
	sub := &subscription{
		sessionID: sessionID,
		market:    market,
		ctx:       subCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.subs[sessionID] = sub
	m.wg.Add(1)
	m.mu.Unlock()

	client := m.factory(sessionID, market)
	err := m.dial(ctx, sub, client)
	if err != nil {
		client = nil
		m.logger.WithFields(logrus.Fields{"session_id": sessionID, "market": market}).
			WithError(err).Warn("initial connect failed, retrying in background")
	}
	go m.run(sub, client)

	if err != nil {
		return domain.WrapError(domain.KindChannelDisconnected, op, sessionID, err)
	}
	return nil
}

// Disconnect closes the subscription of sessionID and waits for its reader
// to stop. Unknown ids are ignored.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	sub, ok := m.subs[sessionID]
	if ok {
		delete(m.subs, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.cancel()
	<-sub.done
}

// Has reports whether sessionID has a subscription.
func (m *Manager) Has(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[sessionID]
	return ok
}

// Connected reports whether sessionID's channel is currently up.
func (m *Manager) Connected(sessionID string) bool {
	m.mu.Lock()
	sub, ok := m.subs[sessionID]
	m.mu.Unlock()
	return ok && sub.connected.Load()
}

// Connectivity is the aggregate channel state.
type Connectivity struct {
	Subscriptions int      `json:"subscriptions"`
	Connected     int      `json:"connected"`
	Disconnected  []string `json:"disconnected"`
}

// Connectivity reports the state of every subscription.
func (m *Manager) Connectivity() Connectivity {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Connectivity{Subscriptions: len(m.subs), Disconnected: []string{}}
	for id, sub := range m.subs {
		if sub.connected.Load() {
			c.Connected++
		} else {
			c.Disconnected = append(c.Disconnected, id)
		}
	}
	sort.Strings(c.Disconnected)
	return c
}

// Stop closes every subscription and waits for their readers.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.cancel()
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("realtime manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, readers still running")
		return ctx.Err()
	}
}

func (m *Manager) dial(ctx context.Context, sub *subscription, client Client) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	// Either the caller or Disconnect may abort the dial.
	stop := context.AfterFunc(sub.ctx, cancel)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return err
	}
	m.setConnected(sub, true)
	return nil
}

func (m *Manager) setConnected(sub *subscription, connected bool) {
	if sub.connected.Swap(connected) == connected {
		return
	}
	if m.onConnectivity != nil {
		m.onConnectivity(sub.sessionID, connected)
	}
}

// run is the single reader of sub. client is nil when the first dial failed.
func (m *Manager) run(sub *subscription, client Client) {
	defer m.wg.Done()
	defer m.finish(sub)

	log := m.logger.WithFields(logrus.Fields{"session_id": sub.sessionID, "market": sub.market})
	for {
		if client != nil {
			terminal := m.pump(sub, client, log)
			_ = client.Close()
			m.setConnected(sub, false)
			if terminal {
				log.Debug("subscription closed after terminal event")
				return
			}
		}
		if sub.ctx.Err() != nil {
			return
		}

		client = m.reconnect(sub, log)
		if client == nil {
			return
		}
		if m.resync != nil && m.resync(sub.ctx, sub.sessionID, sub.market) {
			_ = client.Close()
			m.setConnected(sub, false)
			log.Debug("subscription closed, session finished while disconnected")
			return
		}
	}
}

// pump applies frames until the channel fails, the subscription is
// cancelled, or a terminal event arrives (reported as true).
func (m *Manager) pump(sub *subscription, client Client, log *logrus.Entry) bool {
	for {
		select {
		case <-sub.ctx.Done():
			return false
		case msg := <-client.Messages():
			if m.handle(sub, msg, log) {
				return true
			}
		case err := <-client.Errors():
			// Frames read before the failure are still applied in order.
			if m.drain(sub, client, log) {
				return true
			}
			log.WithError(err).Info("stream disconnected")
			return false
		}
	}
}

func (m *Manager) drain(sub *subscription, client Client, log *logrus.Entry) bool {
	for {
		select {
		case msg := <-client.Messages():
			if m.handle(sub, msg, log) {
				return true
			}
		default:
			return false
		}
	}
}

// handle decodes and applies one frame. It reports whether the frame was a
// terminal event.
func (m *Manager) handle(sub *subscription, msg Message, log *logrus.Entry) bool {
	ev, ok, err := decodeEvent(msg.Data)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable frame")
		return false
	}
	if !ok {
		return false
	}
	if ev.SessionID != "" && ev.SessionID != sub.sessionID {
		log.WithFields(logrus.Fields{"event": ev.Type, "event_session_id": ev.SessionID}).Debug("dropping frame addressed to another session")
		return false
	}
	if ev.Ts.IsZero() {
		ev.Ts = msg.ReceivedAt
	}

	if err := m.applier.ApplyMarketEvent(sub.market, sub.sessionID, ev); err != nil {
		switch {
		case errors.Is(err, domain.ErrRoutingMismatch), errors.Is(err, domain.ErrInvalidTransition):
			log.WithField("event", ev.Type).WithError(err).Debug("event not applied")
		default:
			log.WithField("event", ev.Type).WithError(err).Warn("failed to apply event")
		}
	}
	return isTerminalEvent(ev.Type)
}

// reconnect dials with exponential backoff until it succeeds or the
// subscription is cancelled (nil).
func (m *Manager) reconnect(sub *subscription, log *logrus.Entry) Client {
	wait := m.cfg.ReconnectBaseWait
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(wait)
		select {
		case <-sub.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		log.WithField("attempt", attempt).Info("attempting reconnection")
		client := m.factory(sub.sessionID, sub.market)
		if err := m.dial(sub.ctx, sub, client); err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("reconnection failed")
			wait = nextWait(wait, m.cfg.ReconnectMaxWait)
			continue
		}
		log.WithField("attempt", attempt).Info("reconnected")
		return client
	}
}

func nextWait(wait, maxWait time.Duration) time.Duration {
	wait *= 2
	if wait > maxWait {
		wait = maxWait
	}
	return wait
}

// finish unregisters sub if it is still the live subscription of its id.
func (m *Manager) finish(sub *subscription) {
	m.mu.Lock()
	if cur, ok := m.subs[sub.sessionID]; ok && cur == sub {
		delete(m.subs, sub.sessionID)
	}
	m.mu.Unlock()
	sub.cancel()
	m.setConnected(sub, false)
	close(sub.done)
}
