// Package nlu classifies transcribed speech into companion commands.
package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"strings"

	"companion/internal/conversation"
	"companion/internal/events"
)

type Result struct {
	Intent string `json:"intent"`
	Query  string `json:"query"`
}

const systemPrompt = `
You are the intent classifier of a voice companion.
Your ONLY job is to convert the user's utterance into a minimal structured JSON.

GENERAL RULES:
1. Do NOT converse.
2. Do NOT answer the question.
3. Do NOT add explanations.
4. Output ONLY JSON. No markdown.

OUTPUT FORMAT:
{
  "intent": "<string>",
  "query": "<original user text>"
}

INTENTS:
- "stop"    the user wants the companion to shut down
- "sleep"   the user wants the companion to go quiet for a while
- "wake"    the user wants the companion back from sleep
- "none"    anything else, including questions and small talk

Only pick a command intent when the utterance is clearly addressed as an
instruction to the companion itself. If unsure, use "none".
`

// Spoken commands that may be issued by voice. Listen is excluded since the
// user is already being listened to.
var spoken = map[events.Command]bool{
	events.CommandStop:  true,
	events.CommandSleep: true,
	events.CommandWake:  true,
}

type Intents struct {
	llm conversation.Completer
}

func New(llm conversation.Completer) *Intents {
	return &Intents{llm: llm}
}

func (n *Intents) Classify(ctx context.Context, transcript string) (events.Command, bool, error) {
	content, err := n.llm.Complete(ctx, systemPrompt, []conversation.Turn{
		{Role: conversation.RoleUser, Text: transcript},
	})
	if err != nil {
		return 0, false, fmt.Errorf("classify: %w", err)
	}

	log.Debug("Processed", "data", content)

	res, err := parse(content)
	if err != nil {
		return 0, false, err
	}

	cmd, ok := events.ParseCommand(res.Intent)
	if !ok || !spoken[cmd] {
		return 0, false, nil
	}
	return cmd, true, nil
}

func parse(content string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "`\n ")

	var out Result
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Result{}, fmt.Errorf("unmarshal NLU result: %w (raw: %s)", err, content)
	}
	return out, nil
}
