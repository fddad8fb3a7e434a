// Package bus is the in-process event bus every pipeline component talks
// through. Subscriptions are keyed by event kind and narrowed by structural
// filters; Publish runs matching handlers synchronously, in subscription
// order, in the caller's goroutine.
package bus

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Kind identifies an event type.
type Kind string

// Event is implemented by every value published on the bus.
type Event interface {
	Kind() Kind
}

// Handler processes one published event.
type Handler func(ctx context.Context, e Event) error

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Published     uint64
	Delivered     uint64
	HandlerErrors uint64
	HandlerPanics uint64
	Subscriptions int
	InboxDepth    int
}

type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]*Subscription

	inbox        chan Event
	abortOnError bool

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

func New(opts ...Option) *Bus {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Bus{
		subs:         make(map[Kind][]*Subscription),
		inbox:        make(chan Event, cfg.inboxSize),
		abortOnError: cfg.abortOnError,
	}
}

// Subscribe registers handler for events accepted by filter.
func (b *Bus) Subscribe(filter Filter, handler Handler) (*Subscription, error) {
	if filter == nil || filter.EventKind() == "" {
		return nil, ErrInvalidFilter
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := newSubscription(filter, handler)

	b.mu.Lock()
	b.subs[sub.kind] = append(b.subs[sub.kind], sub)
	b.mu.Unlock()

	log.Debug("Subscribed", "kind", sub.kind, "id", sub.id)
	return sub, nil
}

// Unsubscribe removes sub. Removing a nil or already removed subscription
// is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.active.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.kind]
	for i, s := range list {
		if s == sub {
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			b.subs[sub.kind] = append(next, list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.kind]) == 0 {
		delete(b.subs, sub.kind)
	}
}

// Publish delivers e to every matching subscription and returns once all of
// them have completed. A failing handler does not stop delivery to the rest
// unless the bus was built WithAbortOnError; the failures are joined into
// the returned error.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e == nil {
		return ErrNilEvent
	}
	b.published.Add(1)

	b.mu.RLock()
	list := append([]*Subscription(nil), b.subs[e.Kind()]...)
	b.mu.RUnlock()

	var errs []error
	for _, sub := range list {
		// cancelled by an earlier handler of this same dispatch
		if !sub.Active() {
			continue
		}
		if !sub.filter.Match(e) {
			continue
		}

		if err := b.deliver(ctx, sub, e); err != nil {
			errs = append(errs, err)
			if b.abortOnError {
				break
			}
		}
	}

	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			err = &PanicError{
				SubscriptionID: sub.id,
				Kind:           sub.kind,
				Value:          r,
				Stack:          string(debug.Stack()),
			}
		}
	}()

	if herr := sub.handler(ctx, e); herr != nil {
		b.failed.Add(1)
		return &HandlerError{SubscriptionID: sub.id, Kind: sub.kind, Err: herr}
	}

	b.delivered.Add(1)
	return nil
}

// Post hands e to the dispatcher loop started by Run. It is the way for
// goroutines that do blocking work to feed results back into the pipeline.
func (b *Bus) Post(ctx context.Context, e Event) error {
	if e == nil {
		return ErrNilEvent
	}

	select {
	case b.inbox <- e:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("post %s: %w", e.Kind(), ctx.Err())
	}
}

// Run publishes posted events one at a time until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	log.Debug("Dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Dispatcher stopped", "pending", len(b.inbox))
			return nil
		case e := <-b.inbox:
			if err := b.Publish(ctx, e); err != nil {
				log.Error("Failed to dispatch posted event", "kind", e.Kind(), "err", err)
			}
		}
	}
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	b.mu.RUnlock()

	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerErrors: b.failed.Load(),
		HandlerPanics: b.panicked.Load(),
		Subscriptions: n,
		InboxDepth:    len(b.inbox),
	}
}
