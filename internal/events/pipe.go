package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"companion/internal/bus"
	"companion/pkg/match"
)

var ErrNoSources = errors.New("no message sources given")

// Pipe is the identity of a message producer. Two pipes are equal only if
// one was copied from the other.
type Pipe struct {
	id   uuid.UUID
	kind string
}

func NewPipe(kind string) Pipe {
	return Pipe{id: uuid.New(), kind: kind}
}

func (p Pipe) ID() uuid.UUID { return p.id }

// Type is the label given at construction, e.g. "chunker".
func (p Pipe) Type() string { return p.kind }

func (p Pipe) IsZero() bool { return p.id == uuid.Nil }

func (p Pipe) String() string {
	if p.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s#%s", p.kind, p.id.String()[:8])
}

func (p Pipe) messageFilter() bus.Filter {
	return MessageFilter{Sender: match.Eq(p)}
}

// SenderKind matches any pipe created with the given label.
func SenderKind(kind string) match.Field[Pipe] {
	return match.Where(func(p Pipe) bool { return p.kind == kind })
}

// Source is anything a component can be told to listen to: a Pipe, a
// message filter, or a whole message type (see MessagesOf).
type Source interface {
	messageFilter() bus.Filter
}

type typeSource struct{ filter bus.Filter }

func (s typeSource) messageFilter() bus.Filter { return s.filter }

// MessagesOf selects every message event of type E.
func MessagesOf[E Message]() Source {
	return typeSource{filter: bus.TypeOf[E]()}
}

// SubscribeSources subscribes handler to every source. Either all
// subscriptions are made or none are.
func SubscribeSources(b *bus.Bus, handler func(ctx context.Context, m Message) error, sources ...Source) ([]*bus.Subscription, error) {
	if handler == nil {
		return nil, bus.ErrNilHandler
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	h := func(ctx context.Context, e bus.Event) error {
		m, ok := e.(Message)
		if !ok {
			return nil
		}
		return handler(ctx, m)
	}

	subs := make([]*bus.Subscription, 0, len(sources))
	for _, src := range sources {
		if src == nil {
			Unsubscribe(b, subs)
			return nil, fmt.Errorf("source %d: %w", len(subs), bus.ErrInvalidFilter)
		}
		sub, err := b.Subscribe(src.messageFilter(), h)
		if err != nil {
			Unsubscribe(b, subs)
			return nil, fmt.Errorf("source %d: %w", len(subs), err)
		}
		subs = append(subs, sub)
	}

	return subs, nil
}

// Unsubscribe removes every subscription in subs.
func Unsubscribe(b *bus.Bus, subs []*bus.Subscription) {
	for _, s := range subs {
		b.Unsubscribe(s)
	}
}
