// Package conversation runs the LLM turn: batched input goes in, a tagged
// reply comes out as a MessageEvent for the router.
package conversation

import (
	"context"
	"fmt"
	log "log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"companion/internal/bus"
	"companion/internal/events"
)

const PipeType = "conversation"

type Config struct {
	Prompt string
	// Turns kept in the context window.
	History int
	// Pending inputs waiting for a completion; more are dropped.
	Backlog int
}

type Conversation struct {
	bus  *bus.Bus
	pipe events.Pipe
	llm  Completer
	cfg  Config

	mu      sync.Mutex
	history []Turn
	outputs map[events.Destination]struct{}

	pending chan string
	subs    []*bus.Subscription
}

func New(b *bus.Bus, llm Completer, cfg Config, sources ...events.Source) (*Conversation, error) {
	if cfg.History <= 0 {
		cfg.History = 20
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 8
	}

	c := &Conversation{
		bus:     b,
		pipe:    events.NewPipe(PipeType),
		llm:     llm,
		cfg:     cfg,
		outputs: make(map[events.Destination]struct{}),
		pending: make(chan string, cfg.Backlog),
	}

	subs, err := events.SubscribeSources(b, c.onMessage, sources...)
	if err != nil {
		return nil, fmt.Errorf("subscribe sources: %w", err)
	}
	c.subs = subs

	sub, err := bus.On(b, bus.TypeOf[events.OutputAvailabilityEvent](), c.onOutputs)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.subs = append(c.subs, sub)

	return c, nil
}

func (c *Conversation) Pipe() events.Pipe { return c.pipe }

func (c *Conversation) Close() {
	events.Unsubscribe(c.bus, c.subs)
	c.subs = nil
}

// SystemPrompt is the configured prompt followed by the tags that can
// currently be routed.
func (c *Conversation) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPrompt()
}

func (c *Conversation) systemPrompt() string {
	if len(c.outputs) == 0 {
		return c.cfg.Prompt
	}

	tags := make([]string, 0, len(c.outputs))
	for _, d := range slices.Sorted(maps.Keys(c.outputs)) {
		tags = append(tags, d.Tag())
	}
	return strings.TrimSpace(c.cfg.Prompt + " Available outputs: " + strings.Join(tags, ", "))
}

func (c *Conversation) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

func (c *Conversation) onMessage(_ context.Context, m events.Message) error {
	text := m.String()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	select {
	case c.pending <- text:
	default:
		log.Warn("Conversation busy, dropping input", "sender", m.Origin(), "backlog", c.cfg.Backlog)
	}
	return nil
}

func (c *Conversation) onOutputs(_ context.Context, e events.OutputAvailabilityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Available {
		c.outputs[e.Output] = struct{}{}
	} else {
		delete(c.outputs, e.Output)
	}
	return nil
}

// Run answers pending inputs one at a time until ctx is done.
func (c *Conversation) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-c.pending:
			if err := c.turn(ctx, text); err != nil {
				log.Error("Conversation turn failed", "err", err)
			}
		}
	}
}

func (c *Conversation) turn(ctx context.Context, text string) error {
	c.mu.Lock()
	c.remember(Turn{Role: RoleUser, Text: text})
	system := c.systemPrompt()
	history := slices.Clone(c.history)
	c.mu.Unlock()

	reply, err := c.llm.Complete(ctx, system, history)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.remember(Turn{Role: RoleAssistant, Text: reply})
	c.mu.Unlock()

	log.Debug("Reply", "text", reply)
	return c.bus.Publish(ctx, events.MessageEvent{Text: reply, Sender: c.pipe})
}

// remember appends t and trims the oldest turns. Callers hold mu.
func (c *Conversation) remember(t Turn) {
	c.history = append(c.history, t)
	if over := len(c.history) - c.cfg.History; over > 0 {
		c.history = slices.Delete(c.history, 0, over)
	}
	// context must open with a user turn
	for len(c.history) > 0 && c.history[0].Role != RoleUser {
		c.history = c.history[1:]
	}
}
