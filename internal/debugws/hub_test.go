package debugws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{id: generateClientID(), send: make(chan []byte, 64)}
}

func TestHubFansOutToAttachedClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Shutdown()

	c1 := newTestClient()
	c2 := newTestClient()
	hub.RegisterClient(c1)
	hub.RegisterClient(c2)

	// Registration is processed asynchronously by Run; give it a moment.
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, time.Millisecond)

	hub.Publish(Event{Type: EventConnectionUp, Addr: "10.0.0.1:9000"})

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			var ev Event
			require.NoError(t, json.Unmarshal(msg, &ev))
			assert.Equal(t, EventConnectionUp, ev.Type)
			assert.Equal(t, "10.0.0.1:9000", ev.Addr)
		case <-time.After(time.Second):
			t.Fatal("client never received the event")
		}
	}
}

func TestHubForceUnregistersSlowClient(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Shutdown()

	slow := &Client{id: generateClientID(), send: make(chan []byte)} // unbuffered, never drained
	hub.RegisterClient(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	hub.Publish(Event{Type: EventHeartbeat})

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, time.Millisecond)
}
