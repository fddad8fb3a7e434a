// Package transcript appends the conversation to a plain text log file,
// one "role: text" entry per message.
package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"companion/internal/bus"
	"companion/internal/events"
)

type Logger struct {
	bus  *bus.Bus
	path string

	mu   sync.Mutex
	file *os.File
	subs []*bus.Subscription
}

// New creates logs/log<timestamp>.txt under dir, starting it with the system
// prompt. Every user input is logged as "user", messages from sources as
// "assistant".
func New(b *bus.Bus, dir, prompt string, now time.Time, sources ...events.Source) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "log"+now.Format("2006-01-02_15-04-05")+".txt")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	if _, err := fmt.Fprintf(f, "system: %s", prompt); err != nil {
		f.Close()
		return nil, fmt.Errorf("write transcript: %w", err)
	}

	l := &Logger{bus: b, path: path, file: f}

	sub, err := bus.On(b, bus.TypeOf[events.UserInputEvent](), func(_ context.Context, e events.UserInputEvent) error {
		return l.write("user", e.String())
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	l.subs = append(l.subs, sub)

	if len(sources) > 0 {
		subs, err := events.SubscribeSources(b, func(_ context.Context, m events.Message) error {
			return l.write("assistant", m.String())
		}, sources...)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.subs = append(l.subs, subs...)
	}
	return l, nil
}

func (l *Logger) Path() string { return l.path }

func (l *Logger) write(role, text string) error {
	if text == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if _, err := fmt.Fprintf(l.file, "\n%s: %s", role, text); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func (l *Logger) Close() error {
	events.Unsubscribe(l.bus, l.subs)
	l.subs = nil

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
