package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/bus"
	"companion/internal/events"
	"companion/pkg/match"
)

type fakeLLM struct {
	systems   []string
	histories [][]Turn
	reply     func(n int) (string, error)
}

func (f *fakeLLM) Complete(_ context.Context, system string, history []Turn) (string, error) {
	f.systems = append(f.systems, system)
	f.histories = append(f.histories, history)
	return f.reply(len(f.systems))
}

func newConversation(t *testing.T, llm Completer, cfg Config) (*bus.Bus, *Conversation, events.Pipe, *[]string) {
	t.Helper()
	b := bus.New()
	src := events.NewPipe("chunker")

	c, err := New(b, llm, cfg, src)
	require.NoError(t, err)

	var replies []string
	_, err = bus.On(b, events.MessageFilter{Sender: match.Eq(c.Pipe())}, func(_ context.Context, m events.MessageEvent) error {
		replies = append(replies, m.Text)
		return nil
	})
	require.NoError(t, err)

	return b, c, src, &replies
}

func TestTurn(t *testing.T) {
	llm := &fakeLLM{reply: func(n int) (string, error) { return fmt.Sprintf("[console] reply %d", n), nil }}
	b, c, src, replies := newConversation(t, llm, Config{Prompt: "You are a cat."})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, events.OutputAvailabilityEvent{Output: events.DestVoice, Available: true}))
	require.NoError(t, b.Publish(ctx, events.OutputAvailabilityEvent{Output: events.DestConsole, Available: true}))
	require.NoError(t, b.Publish(ctx, events.MessageEvent{Text: "hello", Sender: src}))
	require.Len(t, c.pending, 1)

	require.NoError(t, c.turn(ctx, <-c.pending))

	assert.Equal(t, []string{"[console] reply 1"}, *replies)
	assert.Equal(t, "You are a cat. Available outputs: [console], [voice]", llm.systems[0])
	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "hello"},
		{Role: RoleAssistant, Text: "[console] reply 1"},
	}, c.History())
}

func TestPromptWithoutOutputs(t *testing.T) {
	_, c, _, _ := newConversation(t, &fakeLLM{}, Config{Prompt: "Be brief."})
	assert.Equal(t, "Be brief.", c.SystemPrompt())
}

func TestHistoryBounded(t *testing.T) {
	llm := &fakeLLM{reply: func(n int) (string, error) { return fmt.Sprint("r", n), nil }}
	_, c, _, _ := newConversation(t, llm, Config{History: 3})
	ctx := context.Background()

	for i := range 4 {
		require.NoError(t, c.turn(ctx, fmt.Sprint("q", i)))
	}

	h := c.History()
	require.NotEmpty(t, h)
	assert.LessOrEqual(t, len(h), 3)
	assert.Equal(t, RoleUser, h[0].Role)
	assert.Equal(t, Turn{Role: RoleAssistant, Text: "r4"}, h[len(h)-1])
}

func TestCompleterErrorIsNotPublished(t *testing.T) {
	boom := errors.New("rate limited")
	llm := &fakeLLM{reply: func(int) (string, error) { return "", boom }}
	_, c, _, replies := newConversation(t, llm, Config{})

	err := c.turn(context.Background(), "hi")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, *replies)
	assert.Equal(t, []Turn{{Role: RoleUser, Text: "hi"}}, c.History())
}

func TestBacklogDropsOverflow(t *testing.T) {
	b, c, src, _ := newConversation(t, &fakeLLM{}, Config{Backlog: 1})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, events.MessageEvent{Text: "one", Sender: src}))
	require.NoError(t, b.Publish(ctx, events.MessageEvent{Text: "two", Sender: src}))
	require.NoError(t, b.Publish(ctx, events.MessageEvent{Text: "  ", Sender: src}))

	assert.Len(t, c.pending, 1)
	assert.Equal(t, "one", <-c.pending)
}

func TestOpenAIReply(t *testing.T) {
	got, err := openAIReply(&openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "[voice] hi"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "[voice] hi", got)

	_, err = openAIReply(&openai.ChatCompletion{})
	assert.ErrorIs(t, err, ErrEmptyReply)

	msgs := openAIMessages("sys", []Turn{{Role: RoleUser, Text: "a"}, {Role: RoleAssistant, Text: "b"}})
	assert.Len(t, msgs, 3)
	assert.Len(t, openAIMessages("", nil), 0)
}

func TestAnthropicReply(t *testing.T) {
	got, err := anthropicReply(&anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "[console] "},
			{Type: "tool_use", Name: "ignored"},
			{Type: "text", Text: "meow"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "[console] meow", got)

	_, err = anthropicReply(&anthropic.Message{})
	assert.ErrorIs(t, err, ErrEmptyReply)

	assert.Len(t, anthropicMessages([]Turn{{Role: RoleUser, Text: "a"}, {Role: RoleAssistant, Text: "b"}}), 2)
}
