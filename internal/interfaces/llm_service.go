package interfaces

import (
	"context"
)

// Message is a provider-agnostic chat message
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatOptions tunes a single chat call
type ChatOptions struct {
	Model       string  // Empty uses the configured default
	MaxTokens   int     // 0 uses the configured default
	Temperature float32 // 0 uses the configured default
}

// LLMService is the chat and embedding gateway. Planner and critic callers
// request strict JSON and tolerate non-JSON output.
type LLMService interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	HealthCheck(ctx context.Context) error
}
