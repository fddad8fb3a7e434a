package console

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/bus"
	"companion/internal/events"
)

type scripted struct {
	lines []string
	end   error
}

func (s *scripted) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", s.end
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scripted) Close() error { return nil }

func newInput(b *bus.Bus, r lineReader) *Input {
	in := NewInput(b, Config{})
	in.open = func(Config) (lineReader, io.Writer, error) { return r, io.Discard, nil }
	return in
}

func TestInputPostsLines(t *testing.T) {
	b := bus.New()
	in := newInput(b, &scripted{lines: []string{"hello", "   ", " there "}, end: io.EOF})

	require.NoError(t, in.Run(context.Background()))
	assert.Equal(t, 2, b.Stats().InboxDepth)

	inputs := make(chan events.UserInputEvent, 2)
	_, err := bus.On(b, bus.TypeOf[events.UserInputEvent](), func(_ context.Context, e events.UserInputEvent) error {
		inputs <- e
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	var got []events.UserInputEvent
	for range 2 {
		select {
		case e := <-inputs:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatal("input not dispatched")
		}
	}
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "there", got[1].Text)
	assert.Equal(t, events.InputConsole, got[0].Input)
	assert.Equal(t, in.Pipe(), got[0].Sender)
}

func TestInterruptRequestsStop(t *testing.T) {
	b := bus.New()
	in := newInput(b, &scripted{end: readline.ErrInterrupt})

	cmds := make(chan events.Command, 1)
	_, err := bus.On(b, bus.TypeOf[events.CommandEvent](), func(_ context.Context, e events.CommandEvent) error {
		cmds <- e.Command
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, in.Run(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	select {
	case cmd := <-cmds:
		assert.Equal(t, events.CommandStop, cmd)
	case <-time.After(time.Second):
		t.Fatal("stop not dispatched")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestOutput(t *testing.T) {
	b := bus.New()
	out := &syncBuffer{}

	o, err := NewOutput(b, func() io.Writer { return out })
	require.NoError(t, err)

	var delivered []string
	_, err = bus.On(b, events.DeliveryFilter{}, func(_ context.Context, e events.OutputDeliveryEvent) error {
		delivered = append(delivered, e.Text)
		assert.Equal(t, events.DestConsole, e.Destination)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.OutputRoutingEvent{Text: "hi", Destination: events.DestConsole}))
	require.NoError(t, b.Publish(ctx, events.OutputRoutingEvent{Text: "not mine", Destination: events.DestDiscord}))
	require.NoError(t, b.Publish(ctx, events.OutputRoutingEvent{Text: "all", Destination: events.DestAll}))

	assert.Equal(t, "\nhi\n\nall\n", out.String())
	assert.Equal(t, []string{"hi", "all"}, delivered)

	o.Close()
	require.NoError(t, b.Publish(ctx, events.OutputRoutingEvent{Text: "late", Destination: events.DestConsole}))
	assert.NotContains(t, out.String(), "late")
}

func TestOutputAvailability(t *testing.T) {
	b := bus.New()
	o, err := NewOutput(b, func() io.Writer { return io.Discard })
	require.NoError(t, err)

	var seen []bool
	_, err = bus.On(b, events.OutputAvailabilityFilter{}, func(_ context.Context, e events.OutputAvailabilityEvent) error {
		seen = append(seen, e.Available)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, o.Run(ctx))
	assert.Equal(t, []bool{true, false}, seen)
}
