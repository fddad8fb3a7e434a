// Package config loads the companion's settings: defaults, then an optional
// YAML file, then COMPANION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"companion/internal/events"
)

const EnvPrefix = "COMPANION_"

type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Chunker    Chunker    `yaml:"chunker" envPrefix:"CHUNKER_"`
	Router     Router     `yaml:"router" envPrefix:"ROUTER_"`
	LLM        LLM        `yaml:"llm" envPrefix:"LLM_"`
	Commands   []string   `yaml:"commands" env:"COMMANDS"`
	Console    Console    `yaml:"console" envPrefix:"CONSOLE_"`
	Discord    Discord    `yaml:"discord" envPrefix:"DISCORD_"`
	Voice      Voice      `yaml:"voice" envPrefix:"VOICE_"`
	Speech     Speech     `yaml:"speech" envPrefix:"SPEECH_"`
	Hub        Hub        `yaml:"hub" envPrefix:"HUB_"`
	Sleep      Sleep      `yaml:"sleep" envPrefix:"SLEEP_"`
	Transcript Transcript `yaml:"transcript" envPrefix:"TRANSCRIPT_"`
	IPC        IPC        `yaml:"ipc" envPrefix:"IPC_"`
}

type Chunker struct {
	ProcessorDelay  time.Duration `yaml:"processor_delay" env:"PROCESSOR_DELAY"`
	NoInputInterval time.Duration `yaml:"no_input_interval" env:"NO_INPUT_INTERVAL"`
	Tick            time.Duration `yaml:"tick" env:"TICK"`
}

type Router struct {
	Broadcast bool `yaml:"broadcast" env:"BROADCAST"`
}

type LLM struct {
	Provider  string `yaml:"provider" env:"PROVIDER"`
	Model     string `yaml:"model" env:"MODEL"`
	APIKey    string `yaml:"api_key" env:"API_KEY"`
	BaseURL   string `yaml:"base_url" env:"BASE_URL"`
	Prompt    string `yaml:"prompt" env:"PROMPT"`
	History   int    `yaml:"history" env:"HISTORY"`
	MaxTokens int64  `yaml:"max_tokens" env:"MAX_TOKENS"`
	Proxy     string `yaml:"proxy" env:"PROXY"`
	// Intents classifies spoken commands with the same model.
	Intents bool `yaml:"intents" env:"INTENTS"`
}

type Console struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Prompt  string `yaml:"prompt" env:"PROMPT"`
	History string `yaml:"history_file" env:"HISTORY_FILE"`
}

type Discord struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Token     string `yaml:"token" env:"TOKEN"`
	ChannelID string `yaml:"channel_id" env:"CHANNEL_ID"`
}

type Voice struct {
	Enabled    bool    `yaml:"enabled" env:"ENABLED"`
	Language   string  `yaml:"language" env:"LANGUAGE"`
	Rate       int     `yaml:"rate" env:"RATE"`
	Duck       bool    `yaml:"duck" env:"DUCK"`
	DuckFactor float64 `yaml:"duck_factor" env:"DUCK_FACTOR"`
}

type Speech struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Model    string `yaml:"model" env:"MODEL"`
	Language string `yaml:"language" env:"LANGUAGE"`
	Chime    string `yaml:"chime" env:"CHIME"`
}

type Hub struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	URL       string        `yaml:"url" env:"URL"`
	Shard     string        `yaml:"shard" env:"SHARD"`
	Reconnect time.Duration `yaml:"reconnect" env:"RECONNECT"`
}

type Sleep struct {
	Nap     time.Duration `yaml:"nap" env:"NAP"`
	SleepAt string        `yaml:"sleep_at" env:"SLEEP_AT"`
	WakeAt  string        `yaml:"wake_at" env:"WAKE_AT"`
}

type Transcript struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Dir     string `yaml:"dir" env:"DIR"`
}

type IPC struct {
	Socket string `yaml:"socket" env:"SOCKET"`
}

const DefaultPrompt = "You are a friendly companion. Start every part of your reply with the tag of the output it is meant for."

func Default() Config {
	return Config{
		LogLevel: "info",
		Chunker: Chunker{
			ProcessorDelay:  time.Second,
			NoInputInterval: 60 * time.Second,
			Tick:            100 * time.Millisecond,
		},
		LLM: LLM{
			Provider:  "openai",
			Prompt:    DefaultPrompt,
			History:   20,
			MaxTokens: 1024,
		},
		Commands: []string{"stop", "sleep", "wake", "listen"},
		Console:  Console{Enabled: true, Prompt: ">>> "},
		Voice:    Voice{Language: "en", Rate: 175, Duck: true, DuckFactor: 0.3},
		Speech:   Speech{Model: "models/ggml-base.bin", Language: "auto"},
		Hub: Hub{
			URL:       "ws://localhost:8092/ws",
			Shard:     "companion",
			Reconnect: 5 * time.Second,
		},
		Sleep:      Sleep{Nap: time.Hour},
		Transcript: Transcript{Enabled: true, Dir: "logs"},
		IPC:        IPC{Socket: "/tmp/companion.sock"},
	}
}

// Load reads path over the defaults; a missing file is not an error. environ
// overrides the file, nil means the process environment.
func Load(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.LLM.Provider != "openai" && c.LLM.Provider != "anthropic" {
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.Chunker.Tick <= 0 {
		errs = append(errs, errors.New("chunker.tick must be positive"))
	}
	for _, name := range c.Commands {
		if _, ok := events.ParseCommand(name); !ok {
			errs = append(errs, fmt.Errorf("commands: unknown command %q", name))
		}
	}
	if c.Discord.Enabled && (c.Discord.Token == "" || c.Discord.ChannelID == "") {
		errs = append(errs, errors.New("discord: token and channel_id are required"))
	}
	return errors.Join(errs...)
}

// EnabledCommands resolves Commands, dropping duplicates.
func (c Config) EnabledCommands() []events.Command {
	seen := make(map[events.Command]bool)
	var out []events.Command
	for _, name := range c.Commands {
		cmd, ok := events.ParseCommand(name)
		if ok && !seen[cmd] {
			seen[cmd] = true
			out = append(out, cmd)
		}
	}
	return out
}
