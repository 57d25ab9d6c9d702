package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/events"
)

func newTestClient(hub *Hub, buffer int) *Client {
	c := &Client{hub: hub, send: make(chan []byte, buffer)}
	hub.register <- c
	return c
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
		return nil
	}
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := newTestClient(hub, sendBuffer)
	b := newTestClient(hub, sendBuffer)

	msg := ProgressEvent(events.Event{Phase: events.PhaseDrain, ItemRef: "c777/2", Status: events.StatusDone})
	require.True(t, hub.Broadcast(msg))

	assert.Equal(t, msg, receive(t, a))
	assert.Equal(t, msg, receive(t, b))
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	gone := newTestClient(hub, sendBuffer)
	stays := newTestClient(hub, sendBuffer)
	hub.unregister <- gone

	_, ok := <-gone.send
	assert.False(t, ok)

	require.True(t, hub.Broadcast([]byte(`{"type":"drain"}`)))
	assert.Equal(t, []byte(`{"type":"drain"}`), receive(t, stays))

	// a second unregister is a no-op
	hub.unregister <- gone
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	slow := newTestClient(hub, 1)
	fast := newTestClient(hub, sendBuffer)

	hub.Broadcast([]byte("1"))
	hub.Broadcast([]byte("2"))

	assert.Equal(t, []byte("1"), receive(t, fast))
	assert.Equal(t, []byte("2"), receive(t, fast))

	assert.Equal(t, []byte("1"), <-slow.send)
	_, ok := <-slow.send
	assert.False(t, ok, "slow client should be dropped")
}
