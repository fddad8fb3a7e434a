// Package events holds the vocabulary shared by every pipeline stage: the
// event types, their filters, and the Pipe identity used to address the
// origin of a message.
package events

import (
	"fmt"

	"companion/internal/bus"
)

const (
	KindUserInput           bus.Kind = "user_input"
	KindMessage             bus.Kind = "message"
	KindOutputRouting       bus.Kind = "output_routing"
	KindOutputDelivery      bus.Kind = "output_delivery"
	KindOutputAvailability  bus.Kind = "output_availability"
	KindCommandAvailability bus.Kind = "command_availability"
	KindSpeakingState       bus.Kind = "speaking_state"
	KindCommand             bus.Kind = "command"
	KindNoTags              bus.Kind = "no_tags"
	KindInvalidTag          bus.Kind = "invalid_tag"
	KindInactiveOutput      bus.Kind = "inactive_output"
	KindInactiveCommand     bus.Kind = "inactive_command"
	KindStartup             bus.Kind = "startup"
)

// Message is implemented by every event that carries conversational text
// from an identifiable sender.
type Message interface {
	bus.Event
	Content() string
	Origin() Pipe
	String() string
}

// UserInputEvent is raw input from a person, produced by input adapters.
type UserInputEvent struct {
	Text     string
	Sender   Pipe
	Input    InputType
	UserName string
	// Higher is more urgent.
	Priority int
}

func (UserInputEvent) Kind() bus.Kind    { return KindUserInput }
func (e UserInputEvent) Content() string { return e.Text }
func (e UserInputEvent) Origin() Pipe    { return e.Sender }

func (e UserInputEvent) String() string {
	switch {
	case e.Text == "":
		return ""
	case e.Input == InputUnknown && e.UserName == "":
		return "Untyped, anonymous message: " + e.Text
	case e.Input == InputUnknown:
		return fmt.Sprintf("Untyped message by %s: %s", e.UserName, e.Text)
	case e.UserName == "":
		return fmt.Sprintf("[%s]: %s", e.Input, e.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Input, e.UserName, e.Text)
}

// MessageEvent is text travelling between pipeline stages.
type MessageEvent struct {
	Text   string
	Sender Pipe
}

func (MessageEvent) Kind() bus.Kind    { return KindMessage }
func (e MessageEvent) Content() string { return e.Text }
func (e MessageEvent) Origin() Pipe    { return e.Sender }
func (e MessageEvent) String() string  { return e.Text }

// OutputRoutingEvent asks the adapter for Destination to emit Text.
type OutputRoutingEvent struct {
	Text        string
	Sender      Pipe
	Destination Destination
}

func (OutputRoutingEvent) Kind() bus.Kind    { return KindOutputRouting }
func (e OutputRoutingEvent) Content() string { return e.Text }
func (e OutputRoutingEvent) Origin() Pipe    { return e.Sender }
func (e OutputRoutingEvent) String() string  { return e.Destination.Tag() + " " + e.Text }

// OutputDeliveryEvent reports that an adapter finished emitting Text.
type OutputDeliveryEvent struct {
	Text        string
	Sender      Pipe
	Destination Destination
}

func (OutputDeliveryEvent) Kind() bus.Kind    { return KindOutputDelivery }
func (e OutputDeliveryEvent) Content() string { return e.Text }
func (e OutputDeliveryEvent) Origin() Pipe    { return e.Sender }
func (e OutputDeliveryEvent) String() string  { return e.Destination.Tag() + " " + e.Text }

type OutputAvailabilityEvent struct {
	Output    Destination
	Available bool
}

func (OutputAvailabilityEvent) Kind() bus.Kind { return KindOutputAvailability }

type CommandAvailabilityEvent struct {
	Command   Command
	Available bool
}

func (CommandAvailabilityEvent) Kind() bus.Kind { return KindCommandAvailability }

// SpeakingStateUpdate is published when someone starts or stops speaking.
type SpeakingStateUpdate struct {
	Speaking  bool
	Audio     AudioType
	Direction AudioDirection
}

func (SpeakingStateUpdate) Kind() bus.Kind { return KindSpeakingState }

type CommandEvent struct {
	Command Command
}

func (CommandEvent) Kind() bus.Kind { return KindCommand }

// NoTagsEvent reports a reply without any routing tag.
type NoTagsEvent struct {
	Text string
}

func (NoTagsEvent) Kind() bus.Kind { return KindNoTags }

// InvalidTagEvent reports a bracketed tag that is neither a command nor an
// output. Text is the segment that followed it, if any.
type InvalidTagEvent struct {
	Tag  string
	Text string
}

func (InvalidTagEvent) Kind() bus.Kind { return KindInvalidTag }

type InactiveOutputEvent struct {
	Text        string
	Destination Destination
}

func (InactiveOutputEvent) Kind() bus.Kind { return KindInactiveOutput }

type InactiveCommandEvent struct {
	Command Command
}

func (InactiveCommandEvent) Kind() bus.Kind { return KindInactiveCommand }

type StartupEvent struct {
	Stage StartupStage
}

func (StartupEvent) Kind() bus.Kind { return KindStartup }
