package events

import (
	"companion/internal/bus"
	"companion/pkg/match"
)

// Filters mirror their event's fields. A zero field matches anything.

type UserInputFilter struct {
	Text     match.Field[string]
	Sender   match.Field[Pipe]
	Input    match.Field[InputType]
	UserName match.Field[string]
	Priority match.Field[int]
}

func (UserInputFilter) EventKind() bus.Kind { return KindUserInput }

func (f UserInputFilter) Match(e bus.Event) bool {
	ev, ok := e.(UserInputEvent)
	return ok &&
		f.Text.Match(ev.Text) &&
		f.Sender.Match(ev.Sender) &&
		f.Input.Match(ev.Input) &&
		f.UserName.Match(ev.UserName) &&
		f.Priority.Match(ev.Priority)
}

func (f UserInputFilter) messageFilter() bus.Filter { return f }

type MessageFilter struct {
	Text   match.Field[string]
	Sender match.Field[Pipe]
}

func (MessageFilter) EventKind() bus.Kind { return KindMessage }

func (f MessageFilter) Match(e bus.Event) bool {
	ev, ok := e.(MessageEvent)
	return ok && f.Text.Match(ev.Text) && f.Sender.Match(ev.Sender)
}

func (f MessageFilter) messageFilter() bus.Filter { return f }

type OutputRoutingFilter struct {
	Text        match.Field[string]
	Sender      match.Field[Pipe]
	Destination match.Field[Destination]
}

func (OutputRoutingFilter) EventKind() bus.Kind { return KindOutputRouting }

func (f OutputRoutingFilter) Match(e bus.Event) bool {
	ev, ok := e.(OutputRoutingEvent)
	return ok &&
		f.Text.Match(ev.Text) &&
		f.Sender.Match(ev.Sender) &&
		f.Destination.Match(ev.Destination)
}

func (f OutputRoutingFilter) messageFilter() bus.Filter { return f }

// RoutedTo matches replies routed to d, either directly or to every output.
func RoutedTo(d Destination) OutputRoutingFilter {
	return OutputRoutingFilter{Destination: match.OneOf(d, DestAll)}
}

type DeliveryFilter struct {
	Text        match.Field[string]
	Sender      match.Field[Pipe]
	Destination match.Field[Destination]
}

func (DeliveryFilter) EventKind() bus.Kind { return KindOutputDelivery }

func (f DeliveryFilter) Match(e bus.Event) bool {
	ev, ok := e.(OutputDeliveryEvent)
	return ok &&
		f.Text.Match(ev.Text) &&
		f.Sender.Match(ev.Sender) &&
		f.Destination.Match(ev.Destination)
}

func (f DeliveryFilter) messageFilter() bus.Filter { return f }

type CommandFilter struct {
	Command match.Field[Command]
}

func (CommandFilter) EventKind() bus.Kind { return KindCommand }

func (f CommandFilter) Match(e bus.Event) bool {
	ev, ok := e.(CommandEvent)
	return ok && f.Command.Match(ev.Command)
}

type SpeakingFilter struct {
	Speaking  match.Field[bool]
	Audio     match.Field[AudioType]
	Direction match.Field[AudioDirection]
}

func (SpeakingFilter) EventKind() bus.Kind { return KindSpeakingState }

func (f SpeakingFilter) Match(e bus.Event) bool {
	ev, ok := e.(SpeakingStateUpdate)
	return ok &&
		f.Speaking.Match(ev.Speaking) &&
		f.Audio.Match(ev.Audio) &&
		f.Direction.Match(ev.Direction)
}

type OutputAvailabilityFilter struct {
	Output    match.Field[Destination]
	Available match.Field[bool]
}

func (OutputAvailabilityFilter) EventKind() bus.Kind { return KindOutputAvailability }

func (f OutputAvailabilityFilter) Match(e bus.Event) bool {
	ev, ok := e.(OutputAvailabilityEvent)
	return ok && f.Output.Match(ev.Output) && f.Available.Match(ev.Available)
}

type CommandAvailabilityFilter struct {
	Command   match.Field[Command]
	Available match.Field[bool]
}

func (CommandAvailabilityFilter) EventKind() bus.Kind { return KindCommandAvailability }

func (f CommandAvailabilityFilter) Match(e bus.Event) bool {
	ev, ok := e.(CommandAvailabilityEvent)
	return ok && f.Command.Match(ev.Command) && f.Available.Match(ev.Available)
}
