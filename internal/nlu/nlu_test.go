package nlu

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/conversation"
	"companion/internal/events"
)

type canned struct {
	reply string
	err   error
	seen  []conversation.Turn
}

func (c *canned) Complete(_ context.Context, _ string, history []conversation.Turn) (string, error) {
	c.seen = history
	return c.reply, c.err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		cmd   events.Command
		ok    bool
	}{
		{"sleep", `{"intent":"sleep","query":"go to sleep"}`, events.CommandSleep, true},
		{"alias", `{"intent":"shutdown","query":"turn off"}`, events.CommandStop, true},
		{"fenced", "```json\n{\"intent\":\"wake\"}\n```", events.CommandWake, true},
		{"none", `{"intent":"none","query":"how are you"}`, 0, false},
		{"listen is not spoken", `{"intent":"listen"}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &canned{reply: tt.reply}
			cmd, ok, err := New(llm).Classify(context.Background(), "utterance")
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cmd, cmd)
			require.Len(t, llm.seen, 1)
			assert.Equal(t, "utterance", llm.seen[0].Text)
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	_, _, err := New(&canned{err: errors.New("offline")}).Classify(context.Background(), "x")
	assert.ErrorContains(t, err, "offline")

	_, _, err = New(&canned{reply: "not json"}).Classify(context.Background(), "x")
	assert.ErrorContains(t, err, "unmarshal")
}
