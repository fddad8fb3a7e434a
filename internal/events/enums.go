package events

import "strings"

// InputType is the channel a user input arrived on.
type InputType int

const (
	InputUnknown InputType = iota
	InputConsole
	InputVoice
	InputDiscord
	InputDiscordVoice
	InputTwitch
)

var inputNames = map[InputType]string{
	InputConsole:      "console",
	InputVoice:        "voice",
	InputDiscord:      "discord",
	InputDiscordVoice: "discord_voice",
	InputTwitch:       "twitch",
}

func (t InputType) String() string { return inputNames[t] }

// Destination is an output channel a reply can be routed to.
type Destination int

const (
	DestUnknown Destination = iota
	DestConsole
	DestVoice
	DestDiscord
	DestDiscordVoice
	DestTwitch
	DestAll
)

var destNames = map[Destination]string{
	DestConsole:      "console",
	DestVoice:        "voice",
	DestDiscord:      "discord",
	DestDiscordVoice: "discord_voice",
	DestTwitch:       "twitch",
	DestAll:          "all",
}

func (d Destination) String() string { return destNames[d] }

// Tag returns the bracketed form used in prompts.
func (d Destination) Tag() string { return "[" + d.String() + "]" }

// Several aliases may name the same channel; an alias may also fan out.
var outputAliases = map[string][]Destination{
	"voice":         {DestVoice},
	"discord_voice": {DestDiscordVoice},
	"discord":       {DestDiscord},
	"console":       {DestConsole},
	"twitch":        {DestTwitch},
	"chat":          {DestTwitch},
}

// OutputsFor resolves a tag to its destinations.
func OutputsFor(alias string) ([]Destination, bool) {
	d, ok := outputAliases[normalize(alias)]
	return d, ok
}

// ParseDestination resolves a canonical destination name.
func ParseDestination(s string) (Destination, bool) {
	s = normalize(s)
	for d, name := range destNames {
		if name == s {
			return d, true
		}
	}
	return DestUnknown, false
}

type Command int

const (
	CommandUnknown Command = iota
	CommandStop
	CommandListen
	CommandSleep
	CommandWake
)

var commandNames = map[Command]string{
	CommandStop:   "stop",
	CommandListen: "listen",
	CommandSleep:  "sleep",
	CommandWake:   "wake",
}

var commandAliases = map[string]Command{
	"stop":      CommandStop,
	"shutdown":  CommandStop,
	"listen":    CommandListen,
	"listening": CommandListen,
	"sleep":     CommandSleep,
	"wake":      CommandWake,
}

func (c Command) String() string { return commandNames[c] }

// ParseCommand resolves a command name or one of its aliases.
func ParseCommand(s string) (Command, bool) {
	c, ok := commandAliases[normalize(s)]
	return c, ok
}

type AudioType int

const (
	AudioUnknown AudioType = iota
	AudioSystem
	AudioDiscord
)

func (a AudioType) String() string {
	switch a {
	case AudioSystem:
		return "system"
	case AudioDiscord:
		return "discord"
	}
	return ""
}

type AudioDirection int

const (
	DirectionUnknown AudioDirection = iota
	DirectionInput
	DirectionOutput
)

func (d AudioDirection) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	}
	return ""
}

type StartupStage int

const (
	StageUnknown StartupStage = iota
	StageBoot
	StageWarmup
	StageReady
)

func (s StartupStage) String() string {
	switch s {
	case StageBoot:
		return "boot"
	case StageWarmup:
		return "warmup"
	case StageReady:
		return "ready"
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
