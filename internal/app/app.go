// Package app wires the companion together: one bus, every enabled stage,
// and the goroutines that drive them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"companion/internal/audio"
	"companion/internal/bus"
	"companion/internal/chunker"
	"companion/internal/config"
	"companion/internal/console"
	"companion/internal/conversation"
	"companion/internal/discord"
	"companion/internal/events"
	"companion/internal/feedback"
	"companion/internal/hub"
	"companion/internal/ipc"
	"companion/internal/monitor"
	"companion/internal/nlu"
	"companion/internal/notify"
	"companion/internal/proxy"
	"companion/internal/router"
	"companion/internal/sleep"
	"companion/internal/speech"
	"companion/internal/transcript"
	"companion/internal/tts"
	"companion/internal/voice"
	"companion/pkg/audioconv"
	"companion/pkg/match"
	"companion/pkg/stt"
)

const ctlPipeType = "ctl"

var ErrNoAPIKey = errors.New("llm api key not set")

// Deps overrides what New would otherwise build from the config.
type Deps struct {
	LLM conversation.Completer
	Now func() time.Time
}

type runner struct {
	name string
	run  func(ctx context.Context) error
}

type App struct {
	cfg config.Config
	bus *bus.Bus
	ctl events.Pipe

	chunker *chunker.Chunker
	router  *router.Router
	speech  *speech.Listener

	runners []runner
	closers []func() error
}

func New(cfg config.Config, deps Deps) (*App, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	a := &App{cfg: cfg, bus: bus.New(), ctl: events.NewPipe(ctlPipeType)}
	if err := a.build(cfg, deps); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg config.Config, deps Deps) error {
	llm := deps.LLM
	if llm == nil {
		var err error
		if llm, err = newCompleter(cfg.LLM); err != nil {
			return err
		}
	}

	if err := a.core(cfg, llm, deps.Now()); err != nil {
		return err
	}
	if err := a.channels(cfg); err != nil {
		return err
	}
	if err := a.sound(cfg, llm); err != nil {
		return err
	}

	nap, err := sleep.New(a.bus, sleep.Config{Nap: cfg.Sleep.Nap, SleepAt: cfg.Sleep.SleepAt, WakeAt: cfg.Sleep.WakeAt})
	if err != nil {
		return err
	}
	a.run("sleep", nap.Run)
	return nil
}

func (a *App) Bus() *bus.Bus { return a.bus }

func (a *App) run(name string, fn func(context.Context) error) {
	a.runners = append(a.runners, runner{name: name, run: fn})
}

func (a *App) closer(fn func() error) { a.closers = append(a.closers, fn) }

// core builds the processing stages: input queue, conversation, router and
// the error feedback loop.
func (a *App) core(cfg config.Config, llm conversation.Completer, now time.Time) error {
	fb, err := feedback.New(a.bus)
	if err != nil {
		return fmt.Errorf("feedback: %w", err)
	}

	a.chunker, err = chunker.New(a.bus, chunker.Config{
		ProcessorDelay:  cfg.Chunker.ProcessorDelay,
		NoInputInterval: cfg.Chunker.NoInputInterval,
		Tick:            cfg.Chunker.Tick,
	})
	if err != nil {
		return fmt.Errorf("chunker: %w", err)
	}
	a.run("chunker", a.chunker.Run)

	conv, err := conversation.New(a.bus, llm, conversation.Config{
		Prompt:  cfg.LLM.Prompt,
		History: cfg.LLM.History,
	}, a.chunker.Pipe(), fb.Pipe())
	if err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	a.run("conversation", conv.Run)

	a.router, err = router.New(a.bus, router.Config{Broadcast: cfg.Router.Broadcast}, conv.Pipe(), a.ctl)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	if _, err := monitor.New(a.bus, nil, a.chunker.Pipe(), fb.Pipe(), conv.Pipe()); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	if cfg.Transcript.Enabled {
		tr, err := transcript.New(a.bus, cfg.Transcript.Dir, cfg.LLM.Prompt, now, conv.Pipe())
		if err != nil {
			return err
		}
		a.closer(tr.Close)
		log.Debug("Transcript", "path", tr.Path())
	}
	return nil
}

func (a *App) channels(cfg config.Config) error {
	if cfg.Console.Enabled {
		in := console.NewInput(a.bus, console.Config{Prompt: cfg.Console.Prompt, HistoryFile: cfg.Console.History})
		out, err := console.NewOutput(a.bus, func() io.Writer {
			if w := in.Stdout(); w != nil {
				return w
			}
			return os.Stdout
		})
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}
		a.run("console input", in.Run)
		a.run("console output", out.Run)
	}

	if cfg.Discord.Enabled {
		d, err := discord.New(a.bus, discord.Config{Token: cfg.Discord.Token, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return err
		}
		a.run("discord", d.Run)
	}

	if cfg.Hub.Enabled {
		h, err := hub.New(a.bus, hub.Config{URL: cfg.Hub.URL, Shard: cfg.Hub.Shard, Reconnect: cfg.Hub.Reconnect})
		if err != nil {
			return err
		}
		a.run("hub", h.Run)
	}
	return nil
}

func (a *App) sound(cfg config.Config, llm conversation.Completer) error {
	if cfg.Voice.Enabled {
		espeak, err := tts.NewEspeak(tts.Config{Language: cfg.Voice.Language, Rate: cfg.Voice.Rate})
		if err != nil {
			return err
		}
		a.closer(espeak.Close)

		out, err := voice.New(a.bus, espeak, 16)
		if err != nil {
			return fmt.Errorf("voice: %w", err)
		}
		a.run("voice", out.Run)

		if cfg.Voice.Duck {
			d := audio.NewDucker(audio.DuckerConfig{Factor: cfg.Voice.DuckFactor, Fade: 300 * time.Millisecond})
			if _, err := voice.DuckWhileSpeaking(a.bus, d); err != nil {
				return fmt.Errorf("ducking: %w", err)
			}
		}
	}

	if cfg.Speech.Enabled {
		rec := audio.NewRecorder(audio.RecorderConfig{})
		if err := rec.Init(); err != nil {
			return fmt.Errorf("init audio: %w", err)
		}
		a.closer(func() error { rec.Close(); return nil })

		whisper, err := stt.NewTranscriber(cfg.Speech.Model, stt.Options{Language: cfg.Speech.Language})
		if err != nil {
			return fmt.Errorf("init whisper: %w", err)
		}
		a.closer(whisper.Close)

		scfg := speech.Config{Notify: notify.Desktop, MaxSamples: 10 * 60 * audioconv.TargetRate}
		if cfg.Speech.Chime != "" {
			chime, err := notify.NewChime(cfg.Speech.Chime)
			if err != nil {
				return err
			}
			scfg.Cue = chime.Play
		}
		if cfg.LLM.Intents {
			scfg.Intents = nlu.New(llm)
		}

		a.speech, err = speech.New(a.bus, rec, whisper, scfg)
		if err != nil {
			return fmt.Errorf("speech: %w", err)
		}
		a.run("speech", a.speech.Run)
	}
	return nil
}

func newCompleter(cfg config.LLM) (conversation.Completer, error) {
	key := cfg.APIKey
	if key == "" {
		switch cfg.Provider {
		case "anthropic":
			key = os.Getenv("ANTHROPIC_API_KEY")
		default:
			key = os.Getenv("OPENAI_API_KEY")
		}
	}
	if key == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, ErrNoAPIKey)
	}

	httpClient, err := proxy.NewClient(cfg.Proxy, 0)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	log.Debug("Loaded proxy", "proxy", cfg.Proxy)

	opts := conversation.ClientOptions{
		APIKey:     key,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		MaxTokens:  cfg.MaxTokens,
		HTTPClient: httpClient,
	}
	if cfg.Provider == "anthropic" {
		return conversation.NewAnthropic(opts), nil
	}
	return conversation.NewOpenAI(opts), nil
}

// Run drives every stage until ctx is done, a STOP command arrives or a
// stage fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop, err := bus.On(a.bus, events.CommandFilter{Command: match.Eq(events.CommandStop)}, func(context.Context, events.CommandEvent) error {
		log.Info("Stop requested")
		cancel()
		return nil
	})
	if err != nil {
		return err
	}
	defer a.bus.Unsubscribe(stop)

	var srv *ipc.Server
	if a.cfg.IPC.Socket != "" {
		if srv, err = ipc.Listen(a.cfg.IPC.Socket); err != nil {
			return fmt.Errorf("ipc: %w", err)
		}
	}

	a.stage(ctx, events.StageBoot)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.bus.Run(gctx) })
	for _, r := range a.runners {
		g.Go(func() error {
			if err := r.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", r.name, err)
			}
			log.Debug("Stage stopped", "stage", r.name)
			return nil
		})
	}
	if srv != nil {
		g.Go(func() error { return srv.Serve(gctx, a.control) })
	}

	a.stage(gctx, events.StageWarmup)
	for _, cmd := range a.cfg.EnabledCommands() {
		// the speech stage owns listen
		if cmd == events.CommandListen {
			continue
		}
		a.setCommand(gctx, cmd, true)
	}
	a.stage(gctx, events.StageReady)
	log.Info("Boot up - successful", "stages", len(a.runners))

	return g.Wait()
}

func (a *App) stage(ctx context.Context, s events.StartupStage) {
	if err := a.bus.Publish(ctx, events.StartupEvent{Stage: s}); err != nil {
		log.Warn("Startup handlers failed", "stage", s, "err", err)
	}
}

func (a *App) setCommand(ctx context.Context, cmd events.Command, on bool) {
	if err := a.bus.Publish(ctx, events.CommandAvailabilityEvent{Command: cmd, Available: on}); err != nil {
		log.Warn("Command availability handlers failed", "command", cmd, "err", err)
	}
}

func (a *App) close() {
	for _, fn := range slices.Backward(a.closers) {
		if err := fn(); err != nil {
			log.Warn("Close failed", "err", err)
		}
	}
	a.closers = nil
}
