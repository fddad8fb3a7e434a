// Package feedback turns routing failures into corrective system messages
// for the next conversation turn.
package feedback

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"companion/internal/bus"
	"companion/internal/events"
)

const PipeType = "feedback"

type Feedback struct {
	bus  *bus.Bus
	pipe events.Pipe

	mu      sync.Mutex
	outputs map[events.Destination]struct{}

	subs []*bus.Subscription
}

func New(b *bus.Bus) (*Feedback, error) {
	f := &Feedback{
		bus:     b,
		pipe:    events.NewPipe(PipeType),
		outputs: make(map[events.Destination]struct{}),
	}

	type binding func() (*bus.Subscription, error)
	for _, subscribe := range []binding{
		func() (*bus.Subscription, error) {
			return bus.On(b, bus.TypeOf[events.OutputAvailabilityEvent](), f.onOutputs)
		},
		func() (*bus.Subscription, error) {
			return bus.On(b, bus.TypeOf[events.NoTagsEvent](), f.onNoTags)
		},
		func() (*bus.Subscription, error) {
			return bus.On(b, bus.TypeOf[events.InvalidTagEvent](), f.onInvalidTag)
		},
		func() (*bus.Subscription, error) {
			return bus.On(b, bus.TypeOf[events.InactiveOutputEvent](), f.onInactiveOutput)
		},
		func() (*bus.Subscription, error) {
			return bus.On(b, bus.TypeOf[events.InactiveCommandEvent](), f.onInactiveCommand)
		},
	} {
		sub, err := subscribe()
		if err != nil {
			f.Close()
			return nil, err
		}
		f.subs = append(f.subs, sub)
	}

	return f, nil
}

func (f *Feedback) Pipe() events.Pipe { return f.pipe }

func (f *Feedback) Close() {
	events.Unsubscribe(f.bus, f.subs)
	f.subs = nil
}

func (f *Feedback) available() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.outputs) == 0 {
		return "No outputs are available right now."
	}
	tags := make([]string, 0, len(f.outputs))
	for _, d := range slices.Sorted(maps.Keys(f.outputs)) {
		tags = append(tags, d.Tag())
	}
	return "Available outputs: " + strings.Join(tags, ", ")
}

func (f *Feedback) send(ctx context.Context, format string, args ...any) error {
	text := "[system] " + fmt.Sprintf(format, args...)
	return f.bus.Publish(ctx, events.MessageEvent{Text: text, Sender: f.pipe})
}

func (f *Feedback) onOutputs(_ context.Context, e events.OutputAvailabilityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e.Available {
		f.outputs[e.Output] = struct{}{}
	} else {
		delete(f.outputs, e.Output)
	}
	return nil
}

func (f *Feedback) onNoTags(ctx context.Context, _ events.NoTagsEvent) error {
	return f.send(ctx, "Your last reply had no output tag, so nobody saw it. Start every part with a tag. %s", f.available())
}

func (f *Feedback) onInvalidTag(ctx context.Context, e events.InvalidTagEvent) error {
	return f.send(ctx, "[%s] is not a valid tag. %s", e.Tag, f.available())
}

func (f *Feedback) onInactiveOutput(ctx context.Context, e events.InactiveOutputEvent) error {
	return f.send(ctx, "%s is not available right now, %q was not delivered. %s", e.Destination.Tag(), e.Text, f.available())
}

func (f *Feedback) onInactiveCommand(ctx context.Context, e events.InactiveCommandEvent) error {
	return f.send(ctx, "The [%s] command is not available right now.", e.Command)
}
