package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/bus"
	"companion/internal/events"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestRelay(t *testing.T) {
	var upgrader ws.Upgrader
	outbound := make(chan Message, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(Message{From: "alice", To: "companion", Kind: KindInput, Content: "hi there"})
		_ = conn.WriteJSON(Message{From: "bob", To: "someone-else", Kind: KindInput, Content: "not for us"})
		_ = conn.WriteJSON(Message{From: "mod", To: ToAll, Kind: KindCommand, Content: "sleep"})
		_ = conn.WriteJSON(Message{From: "mod", Kind: KindCommand, Content: "dance"})

		var m Message
		if err := conn.ReadJSON(&m); err == nil {
			outbound <- m
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	b := bus.New()
	h, err := New(b, Config{URL: wsURL(srv), Reconnect: 10 * time.Millisecond})
	require.NoError(t, err)

	inputs := make(chan events.UserInputEvent, 4)
	commands := make(chan events.Command, 4)
	up := make(chan bool, 4)
	_, err = bus.On(b, bus.TypeOf[events.UserInputEvent](), func(_ context.Context, e events.UserInputEvent) error {
		inputs <- e
		return nil
	})
	require.NoError(t, err)
	_, err = bus.On(b, bus.TypeOf[events.CommandEvent](), func(_ context.Context, e events.CommandEvent) error {
		commands <- e.Command
		return nil
	})
	require.NoError(t, err)
	_, err = bus.On(b, events.OutputAvailabilityFilter{}, func(_ context.Context, e events.OutputAvailabilityEvent) error {
		assert.Equal(t, events.DestTwitch, e.Output)
		up <- e.Available
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	assert.True(t, wait(t, up))

	in := wait(t, inputs)
	assert.Equal(t, "hi there", in.Text)
	assert.Equal(t, "alice", in.UserName)
	assert.Equal(t, events.InputTwitch, in.Input)
	assert.Equal(t, h.Pipe(), in.Sender)
	assert.Equal(t, events.CommandSleep, wait(t, commands))

	require.NoError(t, b.Publish(ctx, events.OutputRoutingEvent{Text: "hello chat", Destination: events.DestTwitch}))
	out := wait(t, outbound)
	assert.Equal(t, Message{From: "companion", To: ToAll, Kind: KindOutput, Content: "hello chat"}, out)

	cancel()
	require.NoError(t, wait(t, done))
	assert.False(t, wait(t, up))
}

func TestReconnects(t *testing.T) {
	var upgrader ws.Upgrader
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseGoingAway, "bye"))
		conn.Close()
	}))
	defer srv.Close()

	b := bus.New()
	h, err := New(b, Config{URL: wsURL(srv), Reconnect: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, wait(t, done))
}

func TestWriteWithoutConnection(t *testing.T) {
	b := bus.New()
	_, err := New(b, Config{URL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)

	err = b.Publish(context.Background(), events.OutputRoutingEvent{Text: "x", Destination: events.DestAll})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(bus.New(), Config{})
	assert.Error(t, err)
}
