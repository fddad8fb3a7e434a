package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/bus"
	"companion/internal/events"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeSpeaker struct {
	j   *journal
	err error
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.j.add("speak %s", text)
	return s.err
}

type fakeDucker struct{ j *journal }

func (d *fakeDucker) Duck(context.Context) error    { d.j.add("duck"); return nil }
func (d *fakeDucker) Restore(context.Context) error { d.j.add("restore"); return nil }

func watch(t *testing.T, b *bus.Bus, j *journal) chan struct{} {
	t.Helper()
	delivered := make(chan struct{}, 4)

	_, err := bus.On(b, bus.TypeOf[events.SpeakingStateUpdate](), func(_ context.Context, e events.SpeakingStateUpdate) error {
		j.add("speaking %v", e.Speaking)
		return nil
	})
	require.NoError(t, err)
	_, err = bus.On(b, bus.TypeOf[events.OutputDeliveryEvent](), func(_ context.Context, e events.OutputDeliveryEvent) error {
		j.add("delivered %s", e.Text)
		delivered <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	_, err = bus.On(b, bus.TypeOf[events.OutputAvailabilityEvent](), func(_ context.Context, e events.OutputAvailabilityEvent) error {
		j.add("available %s %v", e.Output, e.Available)
		return nil
	})
	require.NoError(t, err)

	return delivered
}

func TestOutput(t *testing.T) {
	b := bus.New()
	j := &journal{}
	delivered := watch(t, b, j)

	out, err := New(b, &fakeSpeaker{j: j}, 4)
	require.NoError(t, err)
	_, err = DuckWhileSpeaking(b, &fakeDucker{j: j})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- out.Run(ctx) }()

	require.NoError(t, b.Publish(context.Background(), events.OutputRoutingEvent{Text: "hello", Destination: events.DestVoice}))
	require.NoError(t, b.Publish(context.Background(), events.OutputRoutingEvent{Text: "ignored", Destination: events.DestConsole}))
	require.NoError(t, b.Publish(context.Background(), events.OutputRoutingEvent{Text: "everyone", Destination: events.DestAll}))

	for range 2 {
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatal("voice output not delivered")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{
		"available voice true",
		"speaking true", "duck", "speak hello", "speaking false", "restore", "delivered hello",
		"speaking true", "duck", "speak everyone", "speaking false", "restore", "delivered everyone",
		"available voice false",
	}, j.list())
}

func TestSpeakFailureIsNotDelivered(t *testing.T) {
	b := bus.New()
	j := &journal{}
	watch(t, b, j)

	out, err := New(b, &fakeSpeaker{j: j, err: errors.New("no device")}, 1)
	require.NoError(t, err)

	err = out.say(context.Background(), "hi")
	assert.Error(t, err)
	assert.Equal(t, []string{"speaking true", "speak hi", "speaking false"}, j.list())
}

func TestBacklogFull(t *testing.T) {
	b := bus.New()
	_, err := New(b, &fakeSpeaker{j: &journal{}}, 1)
	require.NoError(t, err)

	ev := events.OutputRoutingEvent{Text: "x", Destination: events.DestVoice}
	require.NoError(t, b.Publish(context.Background(), ev))
	assert.Error(t, b.Publish(context.Background(), ev))
}
