package conversation

import (
	"context"
	"errors"
	"net/http"
)

var ErrEmptyReply = errors.New("empty completion")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role
	Text string
}

// Completer produces the assistant's next reply.
type Completer interface {
	Complete(ctx context.Context, system string, history []Turn) (string, error)
}

// ClientOptions configures the HTTP-backed completers.
type ClientOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int64
	HTTPClient *http.Client
}
