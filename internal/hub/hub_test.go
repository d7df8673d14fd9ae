package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func recv(t *testing.T, c *Connection) []byte {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		return data
	case <-time.After(time.Second):
		t.Fatal("no message")
		return nil
	}
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	h, _ := runHub(t)
	a, b := h.NewConnection(nil), h.NewConnection(nil)
	require.True(t, h.Register(a))
	require.True(t, h.Register(b))
	assert.NotEqual(t, a.ID, b.ID)

	require.NoError(t, h.BroadcastJSON(map[string]string{"type": "change"}))
	assert.JSONEq(t, `{"type":"change"}`, string(recv(t, a)))
	assert.JSONEq(t, `{"type":"change"}`, string(recv(t, b)))
	assert.Equal(t, 2, h.GetConnectionCount())
}

func TestUnregisterClosesSend(t *testing.T) {
	h, _ := runHub(t)
	c := h.NewConnection(nil)
	require.True(t, h.Register(c))
	h.Unregister(c)

	_, ok := <-c.Send
	assert.False(t, ok)
	assert.Equal(t, 0, h.GetConnectionCount())

	// A second unregister is harmless.
	h.Unregister(c)
}

func TestSlowConnectionIsDropped(t *testing.T) {
	h, _ := runHub(t)
	slow := h.NewConnection(nil)
	require.True(t, h.Register(slow))

	for i := 0; i < cap(slow.Send)+1; i++ {
		h.Broadcast([]byte(`{}`))
		// Let the hub drain the broadcast queue so nothing is dropped there.
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool { return h.GetConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopClosesConnections(t *testing.T) {
	h, cancel := runHub(t)
	c := h.NewConnection(nil)
	require.True(t, h.Register(c))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-c.Send:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.False(t, h.Register(h.NewConnection(nil)))
	h.Unregister(c)
}

func TestSendJSONToConnectionBufferFull(t *testing.T) {
	h := NewHub(nil)
	c := h.NewConnection(nil)
	for i := 0; i < cap(c.Send); i++ {
		require.NoError(t, h.SendJSONToConnection(c, i))
	}
	assert.ErrorIs(t, h.SendJSONToConnection(c, "overflow"), ErrBufferFull)
}
