// Package hub relays chat through the websocket hub. Viewers' messages
// arrive as input, replies routed to the chat go back out.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	ws "github.com/gorilla/websocket"

	"companion/internal/bus"
	"companion/internal/events"
)

const PipeType = "hub"

// Message kinds on the hub.
const (
	KindInput   = "input"
	KindCommand = "command"
	KindOutput  = "output"
)

// Broadcast recipient.
const ToAll = "ALL"

type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type Config struct {
	URL   string
	Shard string
	// Reconnect is the pause between dial attempts.
	Reconnect time.Duration
}

type Hub struct {
	bus   *bus.Bus
	pipe  events.Pipe
	shard string
	ws    *socket

	sub *bus.Subscription
}

func New(b *bus.Bus, cfg Config) (*Hub, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("hub: url is required")
	}
	if cfg.Shard == "" {
		cfg.Shard = "companion"
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 5 * time.Second
	}

	h := &Hub{
		bus:   b,
		pipe:  events.NewPipe(PipeType),
		shard: cfg.Shard,
		ws:    newSocket(cfg.URL, cfg.Reconnect),
	}

	sub, err := bus.On(b, events.RoutedTo(events.DestTwitch), h.onRouted)
	if err != nil {
		return nil, err
	}
	h.sub = sub
	return h, nil
}

func (h *Hub) Pipe() events.Pipe { return h.pipe }

func (h *Hub) Close() { h.bus.Unsubscribe(h.sub) }

// Run keeps a connection to the hub until ctx is done, redialling whenever
// it drops. Chat is announced as an output only while connected.
func (h *Hub) Run(ctx context.Context) error {
	for {
		conn, err := h.ws.connect(ctx)
		if err != nil {
			return nil
		}
		log.Info("Connected to hub", "url", h.ws.url)

		h.announce(ctx, true)
		err = h.read(ctx, conn)
		h.announce(context.WithoutCancel(ctx), false)

		if ctx.Err() != nil {
			return nil
		}
		if isClosed(err) {
			log.Warn("Trying to reconnect on", "url", h.ws.url)
		} else {
			log.Error("Failed to read", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.ws.reconn):
		}
	}
}

func (h *Hub) announce(ctx context.Context, available bool) {
	ev := events.OutputAvailabilityEvent{Output: events.DestTwitch, Available: available}
	if err := h.bus.Publish(ctx, ev); err != nil {
		log.Warn("Hub availability handlers failed", "err", err)
	}
}

func (h *Hub) read(ctx context.Context, conn *ws.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer h.ws.drop(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		log.Debug("Read ws", "msg", string(data))

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn("Failed to parse", "msg", string(data), "err", err)
			continue
		}
		if !h.forUs(m) {
			continue
		}
		if err := h.handle(ctx, m); err != nil {
			return err
		}
	}
}

func (h *Hub) forUs(m Message) bool {
	return m.To == "" || m.To == ToAll || strings.EqualFold(m.To, h.shard)
}

func (h *Hub) handle(ctx context.Context, m Message) error {
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return nil
	}

	switch m.Kind {
	case KindInput:
		return h.bus.Post(ctx, events.UserInputEvent{
			Text:     text,
			Sender:   h.pipe,
			Input:    events.InputTwitch,
			UserName: m.From,
		})
	case KindCommand:
		cmd, ok := events.ParseCommand(text)
		if !ok {
			log.Warn("Unknown hub command", "from", m.From, "command", text)
			return nil
		}
		return h.bus.Post(ctx, events.CommandEvent{Command: cmd})
	default:
		log.Debug("Ignoring hub message", "kind", m.Kind, "from", m.From)
		return nil
	}
}

func (h *Hub) onRouted(ctx context.Context, e events.OutputRoutingEvent) error {
	m := Message{From: h.shard, To: ToAll, Kind: KindOutput, Content: e.Text}
	if err := h.ws.writeJSON(m); err != nil {
		return fmt.Errorf("hub write: %w", err)
	}
	return h.bus.Publish(ctx, events.OutputDeliveryEvent{Text: e.Text, Sender: h.pipe, Destination: events.DestTwitch})
}
