// Package chunker batches bursts of user input into single messages for the
// conversation stage. Input is flushed after a quiet period, replaced by an
// idle notice after a long silence, and held back while the companion sleeps
// or the user is speaking.
package chunker

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"companion/internal/bus"
	"companion/internal/events"
	"companion/pkg/match"
)

const PipeType = "chunker"

type Config struct {
	// Quiet period after the last input before the queue is flushed.
	ProcessorDelay time.Duration
	// Silence after which an idle notice is sent, and the minimum spacing
	// between two notices.
	NoInputInterval time.Duration
	Tick            time.Duration
	Now             func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ProcessorDelay <= 0 {
		c.ProcessorDelay = time.Second
	}
	if c.NoInputInterval <= 0 {
		c.NoInputInterval = time.Minute
	}
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// State is a snapshot of the chunker flags.
type State struct {
	Sleeping bool
	Paused   bool
	Stopped  bool
	Queued   int
}

type entry struct {
	msg      events.Message
	priority int
}

type Chunker struct {
	bus  *bus.Bus
	pipe events.Pipe
	cfg  Config

	mu        sync.Mutex
	sleeping  bool
	paused    bool
	stopped   bool
	queue     []entry
	lastInput time.Time
	lastIdle  time.Time

	stop     chan struct{}
	stopOnce sync.Once
	subs     []*bus.Subscription
}

// New wires a chunker to sources. With no sources it listens to every
// UserInputEvent.
func New(b *bus.Bus, cfg Config, sources ...events.Source) (*Chunker, error) {
	cfg = cfg.withDefaults()
	if len(sources) == 0 {
		sources = []events.Source{events.MessagesOf[events.UserInputEvent]()}
	}

	now := cfg.Now()
	c := &Chunker{
		bus:       b,
		pipe:      events.NewPipe(PipeType),
		cfg:       cfg,
		lastInput: now,
		lastIdle:  now,
		stop:      make(chan struct{}),
	}

	subs, err := events.SubscribeSources(b, c.onMessage, sources...)
	if err != nil {
		return nil, fmt.Errorf("subscribe sources: %w", err)
	}
	c.subs = subs

	commands := events.CommandFilter{
		Command: match.OneOf(events.CommandSleep, events.CommandWake, events.CommandStop),
	}
	sub, err := bus.On(b, commands, c.onCommand)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe commands: %w", err)
	}
	c.subs = append(c.subs, sub)

	speaking := events.SpeakingFilter{Direction: match.Eq(events.DirectionInput)}
	sub, err = bus.On(b, speaking, c.onSpeaking)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe speaking state: %w", err)
	}
	c.subs = append(c.subs, sub)

	return c, nil
}

func (c *Chunker) Pipe() events.Pipe { return c.pipe }

func (c *Chunker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Sleeping: c.sleeping,
		Paused:   c.paused,
		Stopped:  c.stopped,
		Queued:   len(c.queue),
	}
}

// Close removes the chunker's subscriptions.
func (c *Chunker) Close() {
	events.Unsubscribe(c.bus, c.subs)
	c.subs = nil
}

// Run drives the flush loop until a STOP command arrives or ctx is done.
// Whatever is still queued at that point is flushed once.
func (c *Chunker) Run(ctx context.Context) error {
	c.mu.Lock()
	c.lastInput = c.cfg.Now()
	c.mu.Unlock()

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	log.Debug("Chunker started", "delay", c.cfg.ProcessorDelay, "idle", c.cfg.NoInputInterval)

	for {
		select {
		case <-ctx.Done():
			return c.finish(context.WithoutCancel(ctx))
		case <-c.stop:
			return c.finish(ctx)
		case <-ticker.C:
			if err := c.tick(ctx); err != nil {
				log.Error("Failed to publish chunk", "err", err)
			}
		}
	}
}

func (c *Chunker) tick(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped || c.sleeping || c.paused {
		c.mu.Unlock()
		return nil
	}

	now := c.cfg.Now()
	silence := now.Sub(c.lastInput)

	var text string
	switch {
	case len(c.queue) > 0 && silence >= c.cfg.ProcessorDelay:
		text = c.takeQueue()
		c.lastInput = now
	case len(c.queue) == 0 &&
		silence >= c.cfg.NoInputInterval &&
		now.Sub(c.lastIdle) >= c.cfg.NoInputInterval:
		text = fmt.Sprintf("[no input (%ds)]", int(silence.Seconds()))
		c.lastIdle = now
	}
	c.mu.Unlock()

	return c.send(ctx, text)
}

func (c *Chunker) finish(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	text := c.takeQueue()
	c.mu.Unlock()

	log.Debug("Chunker stopped")
	return c.send(ctx, text)
}

// takeQueue empties the queue and returns its joined text. Callers hold mu.
func (c *Chunker) takeQueue() string {
	parts := make([]string, 0, len(c.queue))
	for _, e := range c.queue {
		if s := e.msg.String(); s != "" {
			parts = append(parts, s)
		}
	}
	c.queue = nil
	return strings.Join(parts, "\n\n")
}

func (c *Chunker) send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return c.bus.Publish(ctx, events.MessageEvent{Text: text, Sender: c.pipe})
}

func (c *Chunker) onMessage(ctx context.Context, m events.Message) error {
	priority := 0
	if in, ok := m.(events.UserInputEvent); ok {
		priority = in.Priority
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}

	top, queued := c.maxPriority()
	if queued && priority < top {
		c.mu.Unlock()
		return nil
	}

	wake := c.sleeping
	c.sleeping = false

	if queued && priority > top {
		c.queue = c.queue[:0]
	}
	c.queue = append(c.queue, entry{msg: m, priority: priority})
	c.lastInput = c.cfg.Now()
	c.mu.Unlock()

	if wake {
		return c.bus.Publish(ctx, events.CommandEvent{Command: events.CommandWake})
	}
	return nil
}

func (c *Chunker) maxPriority() (int, bool) {
	if len(c.queue) == 0 {
		return 0, false
	}
	top := c.queue[0].priority
	for _, e := range c.queue[1:] {
		top = max(top, e.priority)
	}
	return top, true
}

func (c *Chunker) onCommand(_ context.Context, e events.CommandEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Command {
	case events.CommandSleep:
		c.sleeping = true
	case events.CommandWake:
		c.sleeping = false
	case events.CommandStop:
		c.stopped = true
		c.stopOnce.Do(func() { close(c.stop) })
	}
	return nil
}

func (c *Chunker) onSpeaking(_ context.Context, e events.SpeakingStateUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paused = e.Speaking
	if !e.Speaking {
		c.lastInput = c.cfg.Now()
	}
	return nil
}
