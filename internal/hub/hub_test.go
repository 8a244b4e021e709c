package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/groupwatch/internal/config"
)

func testConfig(buffer int) config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     buffer,
	}
}

func runHub(t *testing.T, buffer int) *Hub {
	t.Helper()
	h := NewHub(testConfig(buffer))
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func drained(c *Client) bool {
	for {
		select {
		case _, ok := <-c.Send:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := runHub(t, 4)
	c := NewClient("a", h, nil)

	h.Register(c)
	assert.Equal(t, 1, h.ClientCount())

	h.Unregister(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return drained(c) }, time.Second, 5*time.Millisecond)

	// A second unregister must not panic on the closed channel.
	h.Unregister(c)
}

func TestClient_DeliverAfterCloseIsDropped(t *testing.T) {
	h := runHub(t, 4)
	c := NewClient("a", h, nil)
	h.Register(c)
	h.Unregister(c)

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Deliver([]byte(`{}`)))
}

func TestClient_FullBufferEvicts(t *testing.T) {
	h := runHub(t, 2)
	slow := NewClient("slow", h, nil)
	other := NewClient("other", h, nil)
	h.Register(slow)
	h.Register(other)

	assert.True(t, slow.Deliver([]byte("1")))
	assert.True(t, slow.Deliver([]byte("2")))
	assert.False(t, slow.Deliver([]byte("3")))

	assert.True(t, other.Deliver([]byte("1")))

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, slow.Deliver([]byte("4")))
}

func TestClient_SendMessage(t *testing.T) {
	h := runHub(t, 2)
	c := NewClient("a", h, nil)
	h.Register(c)

	require.NoError(t, c.SendMessage(map[string]string{"type": "pong"}))
	select {
	case data := <-c.Send:
		assert.JSONEq(t, `{"type":"pong"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("frame not queued")
	}

	assert.Error(t, c.SendMessage(func() {}))
}

func TestHub_StopClosesClients(t *testing.T) {
	h := NewHub(testConfig(2))
	go h.Run()

	c := NewClient("a", h, nil)
	h.Register(c)
	h.Stop()

	assert.Equal(t, 0, h.ClientCount())
	assert.True(t, drained(c))

	// Calls after Stop return instead of blocking on the dead loop.
	h.Register(NewClient("b", h, nil))
	h.Unregister(c)
	h.Stop()
}

func TestNewHub_DefaultSendBuffer(t *testing.T) {
	h := NewHub(config.WebSocketConfig{PingInterval: time.Second})
	c := NewClient("a", h, nil)
	assert.Equal(t, 256, cap(c.Send))
}
