// Package llm provides the completion client used by the intent router,
// translation step and offer distillation.
package llm

import "context"

// ChatMessage represents a chat message for the completion provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// Client is the interface for completion providers. Implementations must
// return an error (not hang) on quota or regional rejection; callers take
// their documented fallback paths.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}
