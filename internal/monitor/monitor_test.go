package monitor

import (
	"bytes"
	"context"
	log "log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/bus"
	"companion/internal/events"
)

func TestLogsMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.NewTextHandler(&buf, nil))

	b := bus.New()
	llm := events.NewPipe("conversation")
	m, err := New(b, logger, llm, events.MessagesOf[events.OutputRoutingEvent]())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.MessageEvent{Text: "[voice] hi", Sender: llm}))
	require.NoError(t, b.Publish(ctx, events.MessageEvent{Text: "someone else", Sender: events.NewPipe("other")}))
	require.NoError(t, b.Publish(ctx, events.OutputRoutingEvent{Text: "hi", Destination: events.DestVoice}))

	out := buf.String()
	assert.Contains(t, out, `from=conversation text="[voice] hi"`)
	assert.Contains(t, out, `kind=output_routing from=unknown text="[voice] hi"`)
	assert.NotContains(t, out, "someone else")

	m.Close()
	buf.Reset()
	require.NoError(t, b.Publish(ctx, events.MessageEvent{Text: "late", Sender: llm}))
	assert.Empty(t, buf.String())
}

func TestNeedsSources(t *testing.T) {
	_, err := New(bus.New(), nil)
	assert.ErrorIs(t, err, events.ErrNoSources)
}
