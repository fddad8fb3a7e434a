package bus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Filter selects which events of one kind reach a handler.
type Filter interface {
	EventKind() Kind
	Match(e Event) bool
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      string
	kind    Kind
	filter  Filter
	handler Handler
	active  atomic.Bool
}

func newSubscription(filter Filter, handler Handler) *Subscription {
	s := &Subscription{
		id:      uuid.NewString(),
		kind:    filter.EventKind(),
		filter:  filter,
		handler: handler,
	}
	s.active.Store(true)
	return s
}

func (s *Subscription) ID() string   { return s.id }
func (s *Subscription) Kind() Kind   { return s.kind }
func (s *Subscription) Active() bool { return s.active.Load() }

type kindFilter struct{ kind Kind }

func (f kindFilter) EventKind() Kind { return f.kind }

func (f kindFilter) Match(e Event) bool { return e.Kind() == f.kind }

// TypeOf returns a filter accepting every event of type E.
func TypeOf[E Event]() Filter {
	var zero E
	return kindFilter{kind: zero.Kind()}
}

// On subscribes a handler typed to E. The filter must select E's kind.
func On[E Event](b *Bus, filter Filter, fn func(ctx context.Context, e E) error) (*Subscription, error) {
	if filter == nil {
		return nil, ErrInvalidFilter
	}
	if fn == nil {
		return nil, ErrNilHandler
	}

	var zero E
	if filter.EventKind() != zero.Kind() {
		return nil, fmt.Errorf("%w: filter selects %q, handler takes %q",
			ErrFilterMismatch, filter.EventKind(), zero.Kind())
	}

	return b.Subscribe(filter, func(ctx context.Context, e Event) error {
		ev, ok := e.(E)
		if !ok {
			return nil
		}
		return fn(ctx, ev)
	})
}
