// Package console is the terminal channel: typed lines become user input
// and replies routed to the console are printed.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"companion/internal/bus"
	"companion/internal/events"
)

const PipeType = "console"

type Config struct {
	Prompt      string
	HistoryFile string
}

type lineReader interface {
	Readline() (string, error)
	Close() error
}

// Input reads lines from the terminal.
type Input struct {
	bus  *bus.Bus
	pipe events.Pipe
	cfg  Config

	// open is replaced in tests
	open func(Config) (lineReader, io.Writer, error)

	mu     sync.Mutex
	stdout io.Writer
}

func NewInput(b *bus.Bus, cfg Config) *Input {
	if cfg.Prompt == "" {
		cfg.Prompt = ">>> "
	}
	return &Input{bus: b, pipe: events.NewPipe(PipeType), cfg: cfg, open: openReadline}
}

func openReadline(cfg Config) (lineReader, io.Writer, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, nil, err
	}
	return rl, rl.Stdout(), nil
}

func (in *Input) Pipe() events.Pipe { return in.pipe }

// Stdout is a writer that does not clobber the prompt while Run is active.
func (in *Input) Stdout() io.Writer {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stdout
}

// Run reads until EOF, an interrupt or ctx is done. Ctrl-C asks the whole
// pipeline to stop.
func (in *Input) Run(ctx context.Context) error {
	rl, stdout, err := in.open(in.cfg)
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	in.mu.Lock()
	in.stdout = stdout
	in.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			return in.bus.Post(ctx, events.CommandEvent{Command: events.CommandStop})
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read line: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := in.bus.Post(ctx, events.UserInputEvent{
			Text:   line,
			Sender: in.pipe,
			Input:  events.InputConsole,
		}); err != nil {
			return nil
		}
	}
}

// Output prints replies routed to the console.
type Output struct {
	bus    *bus.Bus
	pipe   events.Pipe
	writer func() io.Writer
	sub    *bus.Subscription
}

// NewOutput prints to whatever writer returns at delivery time.
func NewOutput(b *bus.Bus, writer func() io.Writer) (*Output, error) {
	o := &Output{bus: b, pipe: events.NewPipe(PipeType), writer: writer}

	sub, err := bus.On(b, events.RoutedTo(events.DestConsole), o.onRouted)
	if err != nil {
		return nil, err
	}
	o.sub = sub
	return o, nil
}

func (o *Output) Pipe() events.Pipe { return o.pipe }

func (o *Output) Close() { o.bus.Unsubscribe(o.sub) }

func (o *Output) onRouted(ctx context.Context, e events.OutputRoutingEvent) error {
	if strings.TrimSpace(e.Text) == "" {
		return nil
	}
	if _, err := fmt.Fprintf(o.writer(), "\n%s\n", e.Text); err != nil {
		return fmt.Errorf("print reply: %w", err)
	}
	return o.bus.Publish(ctx, events.OutputDeliveryEvent{Text: e.Text, Sender: o.pipe, Destination: events.DestConsole})
}

// Run keeps the console announced as an output until ctx is done.
func (o *Output) Run(ctx context.Context) error {
	if err := o.bus.Publish(ctx, events.OutputAvailabilityEvent{Output: events.DestConsole, Available: true}); err != nil {
		log.Warn("Console availability handlers failed", "err", err)
	}
	<-ctx.Done()
	return o.bus.Publish(context.WithoutCancel(ctx), events.OutputAvailabilityEvent{Output: events.DestConsole})
}
