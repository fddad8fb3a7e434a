// Package voice is the spoken output channel. Routed replies are queued to
// a single worker that speaks them one after another.
package voice

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"companion/internal/bus"
	"companion/internal/events"
	"companion/pkg/match"
)

const PipeType = "voice"

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

type Output struct {
	bus     *bus.Bus
	pipe    events.Pipe
	speaker Speaker

	queue chan string
	subs  []*bus.Subscription
}

func New(b *bus.Bus, speaker Speaker, backlog int) (*Output, error) {
	if backlog <= 0 {
		backlog = 16
	}
	o := &Output{
		bus:     b,
		pipe:    events.NewPipe(PipeType),
		speaker: speaker,
		queue:   make(chan string, backlog),
	}

	sub, err := bus.On(b, events.RoutedTo(events.DestVoice), o.onRouted)
	if err != nil {
		return nil, err
	}
	o.subs = append(o.subs, sub)

	return o, nil
}

func (o *Output) Pipe() events.Pipe { return o.pipe }

func (o *Output) Close() {
	events.Unsubscribe(o.bus, o.subs)
	o.subs = nil
}

func (o *Output) onRouted(_ context.Context, e events.OutputRoutingEvent) error {
	select {
	case o.queue <- e.Text:
		return nil
	default:
		return fmt.Errorf("voice backlog full, dropped %q", e.Text)
	}
}

// Run announces the voice channel and speaks queued text until ctx is done.
func (o *Output) Run(ctx context.Context) error {
	if err := o.bus.Publish(ctx, events.OutputAvailabilityEvent{Output: events.DestVoice, Available: true}); err != nil {
		log.Warn("Voice availability handlers failed", "err", err)
	}
	defer func() {
		off := context.WithoutCancel(ctx)
		if err := o.bus.Publish(off, events.OutputAvailabilityEvent{Output: events.DestVoice}); err != nil {
			log.Warn("Voice availability handlers failed", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-o.queue:
			if err := o.say(ctx, text); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Error("Failed to voice out", "err", err)
			}
		}
	}
}

func (o *Output) say(ctx context.Context, text string) error {
	start := events.SpeakingStateUpdate{Speaking: true, Audio: events.AudioSystem, Direction: events.DirectionOutput}
	if err := o.bus.Publish(ctx, start); err != nil {
		log.Warn("Speaking state handlers failed", "err", err)
	}

	err := o.speaker.Speak(ctx, text)

	stop := start
	stop.Speaking = false
	if perr := o.bus.Publish(context.WithoutCancel(ctx), stop); perr != nil {
		log.Warn("Speaking state handlers failed", "err", perr)
	}
	if err != nil {
		return err
	}

	return o.bus.Publish(ctx, events.OutputDeliveryEvent{Text: text, Sender: o.pipe, Destination: events.DestVoice})
}

// DuckWhileSpeaking lowers other audio for as long as the companion speaks.
func DuckWhileSpeaking(b *bus.Bus, d Ducker) (*bus.Subscription, error) {
	filter := events.SpeakingFilter{
		Audio:     match.Eq(events.AudioSystem),
		Direction: match.Eq(events.DirectionOutput),
	}
	return bus.On(b, filter, func(ctx context.Context, e events.SpeakingStateUpdate) error {
		if e.Speaking {
			return d.Duck(ctx)
		}
		return d.Restore(ctx)
	})
}
