// Package monitor logs the messages flowing between pipeline stages.
package monitor

import (
	"context"
	log "log/slog"

	"companion/internal/bus"
	"companion/internal/events"
)

type Monitor struct {
	bus    *bus.Bus
	logger *log.Logger
	subs   []*bus.Subscription
}

// New logs every message from sources. A nil logger uses the default one.
func New(b *bus.Bus, logger *log.Logger, sources ...events.Source) (*Monitor, error) {
	if logger == nil {
		logger = log.Default()
	}
	m := &Monitor{bus: b, logger: logger}

	subs, err := events.SubscribeSources(b, m.onMessage, sources...)
	if err != nil {
		return nil, err
	}
	m.subs = subs
	return m, nil
}

func (m *Monitor) Close() {
	events.Unsubscribe(m.bus, m.subs)
	m.subs = nil
}

func (m *Monitor) onMessage(ctx context.Context, msg events.Message) error {
	sender := "unknown"
	if p := msg.Origin(); !p.IsZero() {
		sender = p.Type()
	}
	m.logger.InfoContext(ctx, "Message", "kind", msg.Kind(), "from", sender, "text", msg.String())
	return nil
}
