package core

import (
	"context"
)

// Chat roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Info identifies a generation backend.
type Info struct {
	Name    string `json:"name"`
	ModelID string `json:"model_id"`
}

// Generator is the capability contract for a text-generation backend.
// Implementations live in pkg/llms; the engine treats any failure as a
// GenerationFailed error and records the interaction as unsuccessful rather
// than propagating the raw error.
type Generator interface {
	// Generate produces a completion for the prompt, optionally guided by a
	// system prompt.
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)

	// Chat produces a completion for a multi-turn message list.
	Chat(ctx context.Context, messages []Message) (string, error)

	// Describe reports the backend name and model identifier.
	Describe() Info
}

// Embedder computes fixed-dimension embeddings for text. A nil Embedder means
// the capability is unavailable; callers resolve this once at construction and
// degrade to non-semantic strategies.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// TokenInfo carries token accounting for a single generation.
type TokenInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
