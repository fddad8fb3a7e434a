// Package discord is the text channel on a Discord server.
package discord

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"companion/internal/bus"
	"companion/internal/events"
)

const PipeType = "discord"

// Discord rejects longer messages.
const maxMessage = 2000

var ErrNoChannel = errors.New("discord: channel id is required")

type Config struct {
	Token     string
	ChannelID string
}

type session interface {
	AddHandler(handler any) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Channel struct {
	bus     *bus.Bus
	pipe    events.Pipe
	channel string
	session session

	sub *bus.Subscription
}

func New(b *bus.Bus, cfg Config) (*Channel, error) {
	if cfg.ChannelID == "" {
		return nil, ErrNoChannel
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	return newChannel(b, cfg.ChannelID, s)
}

func newChannel(b *bus.Bus, channelID string, s session) (*Channel, error) {
	c := &Channel{bus: b, pipe: events.NewPipe(PipeType), channel: channelID, session: s}

	sub, err := bus.On(b, events.RoutedTo(events.DestDiscord), c.onRouted)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

func (c *Channel) Pipe() events.Pipe { return c.pipe }

// Run opens the gateway and keeps the channel announced until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	remove := c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if err := c.handle(ctx, m); err != nil {
			log.Warn("Discord message dropped", "err", err)
		}
	})
	defer remove()

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open websocket: %w", err)
	}
	log.Info("Discord connected", "channel", c.channel)
	c.announce(ctx, true)

	<-ctx.Done()

	c.bus.Unsubscribe(c.sub)
	c.announce(context.WithoutCancel(ctx), false)
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("discord: close: %w", err)
	}
	return nil
}

func (c *Channel) announce(ctx context.Context, available bool) {
	ev := events.OutputAvailabilityEvent{Output: events.DestDiscord, Available: available}
	if err := c.bus.Publish(ctx, ev); err != nil {
		log.Warn("Discord availability handlers failed", "err", err)
	}
}

// handle runs on the gateway goroutine, so it posts instead of publishing.
func (c *Channel) handle(ctx context.Context, m *discordgo.MessageCreate) error {
	if m.Author == nil || m.Author.Bot || m.ChannelID != c.channel {
		return nil
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return nil
	}
	return c.bus.Post(ctx, events.UserInputEvent{
		Text:     text,
		Sender:   c.pipe,
		Input:    events.InputDiscord,
		UserName: displayName(m.Author),
	})
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (c *Channel) onRouted(ctx context.Context, e events.OutputRoutingEvent) error {
	for _, part := range split(e.Text, maxMessage) {
		if _, err := c.session.ChannelMessageSend(c.channel, part); err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return c.bus.Publish(ctx, events.OutputDeliveryEvent{Text: e.Text, Sender: c.pipe, Destination: events.DestDiscord})
}

// split cuts text into pieces of at most n bytes, preferring line breaks.
func split(text string, n int) []string {
	text = strings.TrimSpace(text)
	var parts []string
	for len(text) > n {
		cut := strings.LastIndexByte(text[:n], '\n')
		if cut <= 0 {
			cut = n
			for cut > 0 && !utf8Start(text[cut]) {
				cut--
			}
		}
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
