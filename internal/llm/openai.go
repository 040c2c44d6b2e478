package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrDisabled is returned by Complete when no API key was configured.
// Callers already treat completion errors as a signal to use their
// deterministic fallbacks, so a missing key degrades instead of failing boot.
var ErrDisabled = errors.New("completion client disabled: no API key configured")

// OpenAIClient is the OpenAI completion client.
type OpenAIClient struct {
	client  *openai.Client
	timeout time.Duration
}

// NewOpenAIClient creates a new OpenAI client. Every call carries the
// configured timeout so a stuck provider cannot hang a turn. An empty api
// key yields a client whose calls fail with ErrDisabled.
func NewOpenAIClient(apiKey string, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &OpenAIClient{timeout: timeout}
	if apiKey != "" {
		c.client = openai.NewClient(apiKey)
	}
	return c
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if c.client == nil {
		return nil, ErrDisabled
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, err
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &CompletionResponse{
		Content:   content,
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
