package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"companion/internal/events"
	"companion/internal/ipc"
)

// Control commands understood over the socket.
const (
	CmdTrigger    = "trigger"
	CmdTranscribe = "transcribe"
	CmdSleep      = "sleep"
	CmdWake       = "wake"
	CmdStop       = "stop"
	CmdEnable     = "enable"
	CmdDisable    = "disable"
	CmdSay        = "say"
	CmdStatus     = "status"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrSpeechDisabled = errors.New("speech is disabled")
	ErrMissingArg     = errors.New("missing argument")
)

func (a *App) control(ctx context.Context, req ipc.Request) (string, error) {
	arg := strings.TrimSpace(req.Arg)

	switch req.Cmd {
	case CmdTrigger:
		if a.speech == nil {
			return "", ErrSpeechDisabled
		}
		return "listening", a.speech.Trigger()

	case CmdTranscribe:
		if a.speech == nil {
			return "", ErrSpeechDisabled
		}
		if arg == "" {
			return "", fmt.Errorf("%s: %w", req.Cmd, ErrMissingArg)
		}
		return a.speech.TranscribeFile(ctx, arg)

	case CmdSleep, CmdWake, CmdStop:
		cmd, _ := events.ParseCommand(req.Cmd)
		return "ok", a.bus.Post(ctx, events.CommandEvent{Command: cmd})

	case CmdEnable, CmdDisable:
		cmd, ok := events.ParseCommand(arg)
		if !ok {
			return "", fmt.Errorf("%s %q: %w", req.Cmd, arg, ErrUnknownCommand)
		}
		on := req.Cmd == CmdEnable
		return "ok", a.bus.Post(ctx, events.CommandAvailabilityEvent{Command: cmd, Available: on})

	case CmdSay:
		if arg == "" {
			return "", fmt.Errorf("%s: %w", req.Cmd, ErrMissingArg)
		}
		return "ok", a.bus.Post(ctx, events.MessageEvent{Text: arg, Sender: a.ctl})

	case CmdStatus:
		return a.status(), nil
	}

	return "", fmt.Errorf("%q: %w", req.Cmd, ErrUnknownCommand)
}

func (a *App) status() string {
	var b strings.Builder

	outputs := a.router.ActiveOutputs()
	tags := make([]string, len(outputs))
	for i, d := range outputs {
		tags[i] = d.Tag()
	}
	cmds := a.router.ActiveCommands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.String()
	}

	st := a.chunker.State()
	stats := a.bus.Stats()

	fmt.Fprintf(&b, "outputs:  %s\n", strings.Join(tags, " "))
	fmt.Fprintf(&b, "commands: %s\n", strings.Join(names, " "))
	fmt.Fprintf(&b, "chunker:  queued=%d sleeping=%v paused=%v stopped=%v\n", st.Queued, st.Sleeping, st.Paused, st.Stopped)
	fmt.Fprintf(&b, "bus:      published=%d delivered=%d errors=%d panics=%d subscriptions=%d inbox=%d",
		stats.Published, stats.Delivered, stats.HandlerErrors, stats.HandlerPanics, stats.Subscriptions, stats.InboxDepth)
	return b.String()
}
