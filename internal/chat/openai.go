package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voxchat/internal/voice"
)

// OpenAI talks to an OpenAI-compatible provider directly, bypassing the proxy.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI builds a client. An empty baseURL keeps the SDK default.
func NewOpenAI(apiKey, baseURL string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

func (o *OpenAI) Complete(ctx context.Context, req voice.ChatRequest) (voice.ChatReply, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case voice.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case voice.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(req.Model),
	})
	latency := time.Since(start)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return voice.ChatReply{}, &StatusError{Code: apiErr.StatusCode, Message: apiErr.Message}
		}
		return voice.ChatReply{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return voice.ChatReply{}, fmt.Errorf("%w: no choices in response", ErrMalformedReply)
	}

	return voice.ChatReply{Text: resp.Choices[0].Message.Content, Latency: latency}, nil
}
