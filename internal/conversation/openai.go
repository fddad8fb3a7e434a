package conversation

import (
	"context"
	"fmt"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4oMini

type OpenAI struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int64
}

func NewOpenAI(opts ClientOptions) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	model := openai.ChatModel(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAI{
		client:    openai.NewClient(reqOpts...),
		model:     model,
		maxTokens: opts.MaxTokens,
	}
}

func (o *OpenAI) Complete(ctx context.Context, system string, history []Turn) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: openAIMessages(system, history),
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.maxTokens)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	log.Debug("Completion received", "model", resp.Model, "tokens", resp.Usage.TotalTokens)
	return openAIReply(resp)
}

func openAIMessages(system string, history []Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, t := range history {
		switch t.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Text))
		default:
			msgs = append(msgs, openai.UserMessage(t.Text))
		}
	}
	return msgs
}

func openAIReply(resp *openai.ChatCompletion) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %w", ErrEmptyReply)
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}
