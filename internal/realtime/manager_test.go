package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/session"
)

type fakeClient struct {
	connectErr error
	msgs       chan Message
	errs       chan error

	mu        sync.Mutex
	connected bool
	closed    bool
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{
		connectErr: connectErr,
		msgs:       make(chan Message, 64),
		errs:       make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Messages() <-chan Message { return f.msgs }
func (f *fakeClient) Errors() <-chan error     { return f.errs }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeClient) send(t *testing.T, ev domain.Event) {
	t.Helper()
	data, err := encodeEvent(ev)
	require.NoError(t, err)
	f.msgs <- Message{Data: data, ReceivedAt: time.Now()}
}

// fakeFactory hands out the queued clients in order, then healthy ones.
type fakeFactory struct {
	mu      sync.Mutex
	queue   []*fakeClient
	created []*fakeClient
}

func (f *fakeFactory) build(string, domain.MarketType) Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c *fakeClient
	if len(f.queue) > 0 {
		c, f.queue = f.queue[0], f.queue[1:]
	} else {
		c = newFakeClient(nil)
	}
	f.created = append(f.created, c)
	return c
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout:    time.Second,
		ReconnectBaseWait: 5 * time.Millisecond,
		ReconnectMaxWait:  20 * time.Millisecond,
	}
}

func trackedStore(t *testing.T, id string, market domain.MarketType) *session.Store {
	t.Helper()
	s := session.NewStore(session.DefaultConfig())
	_, err := s.Track(domain.TrackRequest{SessionID: id, MarketType: market, Ticker: "T" + id, Status: domain.StatusRunning})
	require.NoError(t, err)
	return s
}

func TestConnectIsIdempotent(t *testing.T) {
	store := trackedStore(t, "s1", domain.MarketStock)
	factory := &fakeFactory{}
	m := NewManager(testManagerConfig(), factory.build, store)
	defer m.Stop(context.Background())

	require.NoError(t, m.Connect(context.Background(), "s1", domain.MarketStock))
	require.NoError(t, m.Connect(context.Background(), "s1", domain.MarketStock))

	assert.Equal(t, 1, factory.count())
	assert.True(t, m.Has("s1"))
	assert.True(t, m.Connected("s1"))
	assert.Equal(t, Connectivity{Subscriptions: 1, Connected: 1, Disconnected: []string{}}, m.Connectivity())
}

func TestEventsAppliedInArrivalOrder(t *testing.T) {
	store := trackedStore(t, "k1", domain.MarketKiwoom)
	factory := &fakeFactory{}
	m := NewManager(testManagerConfig(), factory.build, store)
	defer m.Stop(context.Background())
	require.NoError(t, m.Connect(context.Background(), "k1", domain.MarketKiwoom))

	c := factory.client(0)
	c.send(t, domain.Event{Type: domain.EventStageUpdate, Stage: "technical"})
	for _, text := range []string{"one", "two", "three"} {
		c.send(t, domain.Event{Type: domain.EventReasoningAppend, Text: text})
	}

	require.Eventually(t, func() bool {
		sess, _ := store.Session("k1")
		return len(sess.ReasoningLog) == 3
	}, time.Second, 5*time.Millisecond)

	sess, _ := store.Session("k1")
	assert.Equal(t, []string{"one", "two", "three"}, sess.ReasoningLog)
	assert.Equal(t, "technical", sess.CurrentStage)
}

func TestTerminalEventClosesSubscription(t *testing.T) {
	store := trackedStore(t, "c1", domain.MarketCoin)
	factory := &fakeFactory{}
	m := NewManager(testManagerConfig(), factory.build, store)
	defer m.Stop(context.Background())
	require.NoError(t, m.Connect(context.Background(), "c1", domain.MarketCoin))

	c := factory.client(0)
	c.send(t, domain.Event{Type: domain.EventCancelled})

	require.Eventually(t, func() bool { return !m.Has("c1") }, time.Second, 5*time.Millisecond)
	assert.True(t, c.isClosed())
	sess, _ := store.Session("c1")
	assert.Equal(t, domain.StatusCancelled, sess.Status)
	assert.Equal(t, 1, factory.count(), "no reconnect after terminal event")
}

func TestDisconnect(t *testing.T) {
	store := trackedStore(t, "s1", domain.MarketStock)
	factory := &fakeFactory{}
	m := NewManager(testManagerConfig(), factory.build, store)
	defer m.Stop(context.Background())

	m.Disconnect("unknown")

	require.NoError(t, m.Connect(context.Background(), "s1", domain.MarketStock))
	m.Disconnect("s1")
	assert.False(t, m.Has("s1"))
	assert.False(t, m.Connected("s1"))
	assert.True(t, factory.client(0).isClosed())

	// Events after disconnect never reach the store.
	version := store.Version()
	select {
	case factory.client(0).msgs <- Message{Data: []byte(`{"type":"completed"}`)}:
	default:
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, version, store.Version())
}

func TestReconnectWithBackoffAndResync(t *testing.T) {
	store := trackedStore(t, "s1", domain.MarketStock)
	factory := &fakeFactory{queue: []*fakeClient{
		newFakeClient(nil),
		newFakeClient(errors.New("dial tcp: connection refused")),
		newFakeClient(errors.New("dial tcp: connection refused")),
	}}

	var resyncs atomic.Int32
	var mu sync.Mutex
	var flips []bool
	m := NewManager(testManagerConfig(), factory.build, store,
		WithResync(func(ctx context.Context, id string, market domain.MarketType) bool {
			assert.Equal(t, "s1", id)
			assert.Equal(t, domain.MarketStock, market)
			resyncs.Add(1)
			return false
		}),
		WithConnectivity(func(id string, connected bool) {
			mu.Lock()
			flips = append(flips, connected)
			mu.Unlock()
		}),
	)
	defer m.Stop(context.Background())
	require.NoError(t, m.Connect(context.Background(), "s1", domain.MarketStock))

	first := factory.client(0)
	first.send(t, domain.Event{Type: domain.EventReasoningAppend, Text: "before drop"})
	first.errs <- errors.New("websocket: close 1006 (abnormal closure)")

	require.Eventually(t, func() bool { return resyncs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, factory.count())
	assert.True(t, m.Connected("s1"))
	assert.True(t, m.Has("s1"))

	sess, _ := store.Session("s1")
	assert.Equal(t, []string{"before drop"}, sess.ReasoningLog, "frames read before the drop are applied")

	factory.client(3).send(t, domain.Event{Type: domain.EventStageUpdate, Stage: "risk"})
	require.Eventually(t, func() bool {
		sess, _ := store.Session("s1")
		return sess.CurrentStage == "risk"
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{true, false, true}, flips)
	mu.Unlock()
}

func TestResyncReportingTerminalEndsSubscription(t *testing.T) {
	store := trackedStore(t, "c1", domain.MarketCoin)
	factory := &fakeFactory{}
	m := NewManager(testManagerConfig(), factory.build, store,
		WithResync(func(ctx context.Context, id string, market domain.MarketType) bool {
			// The session completed while the channel was down.
			require.NoError(t, store.ApplyEvent(id, domain.Event{Type: domain.EventCompleted}))
			return true
		}),
	)
	defer m.Stop(context.Background())
	require.NoError(t, m.Connect(context.Background(), "c1", domain.MarketCoin))

	factory.client(0).errs <- errors.New("eof")

	require.Eventually(t, func() bool { return !m.Has("c1") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, factory.count())
	assert.True(t, factory.client(1).isClosed())
}

func TestConnectFailureKeepsRetrying(t *testing.T) {
	store := trackedStore(t, "k1", domain.MarketKiwoom)
	factory := &fakeFactory{queue: []*fakeClient{newFakeClient(errors.New("handshake timeout"))}}
	m := NewManager(testManagerConfig(), factory.build, store)
	defer m.Stop(context.Background())

	err := m.Connect(context.Background(), "k1", domain.MarketKiwoom)
	assert.ErrorIs(t, err, domain.ErrChannelDisconnected)
	assert.True(t, m.Has("k1"))

	require.Eventually(t, func() bool { return m.Connected("k1") }, time.Second, 5*time.Millisecond)
}

func TestStaleStateKeptWhileDisconnected(t *testing.T) {
	store := trackedStore(t, "s1", domain.MarketStock)
	factory := &fakeFactory{queue: []*fakeClient{
		newFakeClient(nil),
		newFakeClient(errors.New("refused")),
		newFakeClient(errors.New("refused")),
		newFakeClient(errors.New("refused")),
	}}
	cfg := testManagerConfig()
	cfg.ReconnectBaseWait = 50 * time.Millisecond
	cfg.ReconnectMaxWait = 50 * time.Millisecond
	m := NewManager(cfg, factory.build, store)
	defer m.Stop(context.Background())
	require.NoError(t, m.Connect(context.Background(), "s1", domain.MarketStock))

	before, _ := store.Session("s1")
	factory.client(0).errs <- errors.New("eof")

	require.Eventually(t, func() bool { return !m.Connected("s1") }, time.Second, 5*time.Millisecond)
	after, _ := store.Session("s1")
	assert.Equal(t, before, after)
	assert.Equal(t, domain.StatusRunning, store.Status(domain.MarketStock))
	assert.Equal(t, []string{"s1"}, m.Connectivity().Disconnected)
}

func TestMisaddressedFramesAreDropped(t *testing.T) {
	store := trackedStore(t, "s1", domain.MarketStock)
	factory := &fakeFactory{}
	m := NewManager(testManagerConfig(), factory.build, store)
	defer m.Stop(context.Background())
	require.NoError(t, m.Connect(context.Background(), "s1", domain.MarketStock))

	c := factory.client(0)
	c.send(t, domain.Event{Type: domain.EventCompleted, SessionID: "other"})
	c.msgs <- Message{Data: []byte(`not json`)}
	c.msgs <- Message{Data: []byte(`{"type":"heartbeat"}`)}
	c.send(t, domain.Event{Type: domain.EventReasoningAppend, Text: "mine", SessionID: "s1"})

	require.Eventually(t, func() bool {
		sess, _ := store.Session("s1")
		return len(sess.ReasoningLog) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatusRunning, store.Status(domain.MarketStock))
	assert.True(t, m.Has("s1"), "a misaddressed terminal frame does not end the subscription")
}

func TestStopClosesEverything(t *testing.T) {
	store := trackedStore(t, "s1", domain.MarketStock)
	factory := &fakeFactory{}
	m := NewManager(testManagerConfig(), factory.build, store)
	require.NoError(t, m.Connect(context.Background(), "s1", domain.MarketStock))

	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, m.Has("s1"))
	assert.True(t, factory.client(0).isClosed())
	assert.ErrorIs(t, m.Connect(context.Background(), "s2", domain.MarketCoin), domain.ErrChannelDisconnected)
}

func TestNextWait(t *testing.T) {
	wait := time.Second
	var got []time.Duration
	for i := 0; i < 6; i++ {
		wait = nextWait(wait, 10*time.Second)
		got = append(got, wait)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second}, got)
}
