// Package router turns tagged LLM replies into dispatch on output channels
// and commands. A reply is read as a sequence of "[tag] text" segments;
// anything it cannot route is reported back as an event so the next turn
// can correct itself.
package router

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"

	"companion/internal/bus"
	"companion/internal/events"
)

const PipeType = "router"

var tagPattern = regexp.MustCompile(`\[.*?\]`)

type Config struct {
	// Broadcast routes every active destination to all outputs at once.
	Broadcast bool
}

type Router struct {
	bus  *bus.Bus
	pipe events.Pipe
	cfg  Config

	mu       sync.Mutex
	outputs  map[events.Destination]struct{}
	commands map[events.Command]struct{}

	subs []*bus.Subscription
}

func New(b *bus.Bus, cfg Config, sources ...events.Source) (*Router, error) {
	r := &Router{
		bus:      b,
		pipe:     events.NewPipe(PipeType),
		cfg:      cfg,
		outputs:  make(map[events.Destination]struct{}),
		commands: make(map[events.Command]struct{}),
	}

	subs, err := events.SubscribeSources(b, r.onMessage, sources...)
	if err != nil {
		return nil, fmt.Errorf("subscribe sources: %w", err)
	}
	r.subs = subs

	sub, err := bus.On(b, bus.TypeOf[events.OutputAvailabilityEvent](), r.onOutputAvailability)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.subs = append(r.subs, sub)

	sub, err = bus.On(b, bus.TypeOf[events.CommandAvailabilityEvent](), r.onCommandAvailability)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.subs = append(r.subs, sub)

	return r, nil
}

func (r *Router) Pipe() events.Pipe { return r.pipe }

func (r *Router) Close() {
	events.Unsubscribe(r.bus, r.subs)
	r.subs = nil
}

func (r *Router) ActiveOutputs() []events.Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.outputs))
}

func (r *Router) ActiveCommands() []events.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.commands))
}

type fragment struct {
	text string
	tag  bool
}

// split cuts s into alternating text and tag fragments. Blank text
// fragments are dropped, so adjacent tags end up next to each other.
func split(s string) []fragment {
	var out []fragment
	add := func(text string, tag bool) {
		if !tag && strings.TrimSpace(text) == "" {
			return
		}
		out = append(out, fragment{text: text, tag: tag})
	}

	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(s, -1) {
		add(s[last:loc[0]], false)
		add(s[loc[0]:loc[1]], true)
		last = loc[1]
	}
	add(s[last:], false)

	return out
}

func tagName(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag[1 : len(tag)-1]))
}

func (r *Router) onMessage(ctx context.Context, m events.Message) error {
	text := m.Content()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	parts := split(text)
	first := slices.IndexFunc(parts, func(f fragment) bool { return f.tag })
	if first < 0 {
		log.Debug("Reply has no tags", "sender", m.Origin())
		return r.bus.Publish(ctx, events.NoTagsEvent{Text: text})
	}

	return r.route(ctx, parts[first:])
}

func (r *Router) route(ctx context.Context, parts []fragment) error {
	var errs []error
	publish := func(e bus.Event) {
		if err := r.bus.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	for i := 0; i < len(parts); {
		if !parts[i].tag {
			i++
			continue
		}
		name := tagName(parts[i].text)

		if cmd, ok := events.ParseCommand(name); ok {
			if r.commandActive(cmd) {
				publish(events.CommandEvent{Command: cmd})
			} else {
				publish(events.InactiveCommandEvent{Command: cmd})
			}
			i++
			continue
		}

		// a tag with nothing after it routes nothing
		if i == len(parts)-1 || parts[i+1].tag {
			i++
			continue
		}
		body := strings.TrimSpace(parts[i+1].text)

		if dests, ok := events.OutputsFor(name); ok {
			for _, d := range dests {
				switch {
				case !r.outputActive(d):
					publish(events.InactiveOutputEvent{Text: body, Destination: d})
				case r.cfg.Broadcast:
					publish(events.OutputRoutingEvent{Text: body, Sender: r.pipe, Destination: events.DestAll})
				default:
					publish(events.OutputRoutingEvent{Text: body, Sender: r.pipe, Destination: d})
				}
			}
		} else {
			publish(events.InvalidTagEvent{Tag: name, Text: body})
		}
		i += 2
	}

	return errors.Join(errs...)
}

func (r *Router) outputActive(d events.Destination) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.outputs[d]
	return ok
}

func (r *Router) commandActive(c events.Command) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.commands[c]
	return ok
}

func (r *Router) onOutputAvailability(_ context.Context, e events.OutputAvailabilityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Available {
		r.outputs[e.Output] = struct{}{}
	} else {
		delete(r.outputs, e.Output)
	}
	return nil
}

func (r *Router) onCommandAvailability(_ context.Context, e events.CommandAvailabilityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Available {
		r.commands[e.Command] = struct{}{}
	} else {
		delete(r.commands, e.Command)
	}
	return nil
}
