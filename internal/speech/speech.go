// Package speech turns microphone captures and audio files into user input.
package speech

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"companion/internal/bus"
	"companion/internal/events"
	"companion/pkg/audioconv"
	"companion/pkg/match"
)

const PipeType = "speech"

// Speech outranks typed input in the chunker.
const Priority = 2

var ErrBusy = errors.New("already listening")

type Recorder interface {
	Record(ctx context.Context) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

// Classifier recognises spoken commands. ok is false for ordinary speech.
type Classifier interface {
	Classify(ctx context.Context, text string) (cmd events.Command, ok bool, err error)
}

type Config struct {
	// Cue is played before recording starts.
	Cue func(ctx context.Context) error
	// Notify raises a desktop notification.
	Notify func(ctx context.Context, summary, body string) error
	// Intents, when set, maps spoken commands to command events.
	Intents Classifier
	// Timeout bounds a single transcription.
	Timeout time.Duration
	// MaxSamples caps decoded audio files.
	MaxSamples int
}

type Listener struct {
	bus  *bus.Bus
	pipe events.Pipe
	rec  Recorder
	tr   Transcriber
	cfg  Config

	trigger chan struct{}
	sub     *bus.Subscription
}

func New(b *bus.Bus, rec Recorder, tr Transcriber, cfg Config) (*Listener, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	l := &Listener{
		bus:     b,
		pipe:    events.NewPipe(PipeType),
		rec:     rec,
		tr:      tr,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}

	sub, err := bus.On(b, events.CommandFilter{Command: match.Eq(events.CommandListen)}, l.onListen)
	if err != nil {
		return nil, err
	}
	l.sub = sub
	return l, nil
}

func (l *Listener) Pipe() events.Pipe { return l.pipe }

func (l *Listener) Close() { l.bus.Unsubscribe(l.sub) }

// Trigger asks Run for one capture. A capture already waiting is ErrBusy.
func (l *Listener) Trigger() error {
	select {
	case l.trigger <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

func (l *Listener) onListen(context.Context, events.CommandEvent) error {
	if err := l.Trigger(); err != nil {
		log.Debug("Listen ignored", "err", err)
	}
	return nil
}

// Run announces the listen command and serves captures until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	l.announce(ctx, true)
	defer l.announce(context.WithoutCancel(ctx), false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.trigger:
			if err := l.listen(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("Failed to listen", "err", err)
			}
		}
	}
}

func (l *Listener) announce(ctx context.Context, available bool) {
	ev := events.CommandAvailabilityEvent{Command: events.CommandListen, Available: available}
	if err := l.bus.Publish(ctx, ev); err != nil {
		log.Warn("Listen availability handlers failed", "err", err)
	}
}

func (l *Listener) listen(ctx context.Context) error {
	if l.cfg.Cue != nil {
		if err := l.cfg.Cue(ctx); err != nil {
			log.Warn("Failed to play cue", "err", err)
		}
	}
	if l.cfg.Notify != nil {
		if err := l.cfg.Notify(ctx, "Listening...", ""); err != nil {
			log.Debug("Failed to notify", "err", err)
		}
	}

	log.Info("Starting listening")
	if err := l.speaking(ctx, true); err != nil {
		return err
	}
	pcm, err := l.rec.Record(ctx)
	if serr := l.speaking(context.WithoutCancel(ctx), false); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	log.Info("Recorded", "samples", len(pcm))

	return l.transcribe(ctx, pcm)
}

func (l *Listener) speaking(ctx context.Context, on bool) error {
	return l.bus.Post(ctx, events.SpeakingStateUpdate{
		Speaking:  on,
		Audio:     events.AudioSystem,
		Direction: events.DirectionInput,
	})
}

// TranscribeFile decodes an audio file and feeds its transcript in as speech.
func (l *Listener) TranscribeFile(ctx context.Context, path string) (string, error) {
	pcm, err := audioconv.DecodeFile(ctx, path, audioconv.Options{MaxSamples: l.cfg.MaxSamples})
	if err != nil {
		return "", err
	}
	text, err := l.text(ctx, pcm)
	if err != nil {
		return "", err
	}
	return text, l.deliver(ctx, text)
}

func (l *Listener) transcribe(ctx context.Context, pcm []float32) error {
	text, err := l.text(ctx, pcm)
	if err != nil {
		return err
	}
	return l.deliver(ctx, text)
}

func (l *Listener) text(ctx context.Context, pcm []float32) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	text, err := l.tr.Transcribe(tctx, pcm)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	log.Info("Transcribed", "text", text)
	return text, nil
}

func (l *Listener) deliver(ctx context.Context, text string) error {
	if text == "" {
		log.Info("Nothing heard")
		return nil
	}

	if l.cfg.Intents != nil {
		cmd, ok, err := l.cfg.Intents.Classify(ctx, text)
		switch {
		case err != nil:
			log.Warn("Intent classification failed", "err", err)
		case ok:
			log.Info("Spoken command", "command", cmd)
			return l.bus.Post(ctx, events.CommandEvent{Command: cmd})
		}
	}

	return l.bus.Post(ctx, events.UserInputEvent{
		Text:     text,
		Sender:   l.pipe,
		Input:    events.InputVoice,
		Priority: Priority,
	})
}
