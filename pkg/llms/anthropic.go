// Package llms provides concrete generation backends behind core.Generator,
// plus an in-process fake for tests. Every backend failure surfaces as a
// GenerationFailed error; callers record those as unsuccessful interactions.
package llms

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/errors"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicGenerator implements core.Generator over the Anthropic Messages
// API.
type AnthropicGenerator struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicGenerator creates an Anthropic backend. An empty apiKey falls
// back to ANTHROPIC_API_KEY.
func NewAnthropicGenerator(apiKey, model string) (*AnthropicGenerator, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New(errors.InvalidInput, "anthropic API key is required")
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicGenerator{
		client:    &client,
		model:     anthropic.Model(model),
		maxTokens: defaultAnthropicMaxTokens,
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model: g.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		MaxTokens: g.maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	message, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.GenerationFailed, "anthropic generation failed"),
			errors.Fields{"model": string(g.model)})
	}
	return firstText(message)
}

func (g *AnthropicGenerator) Chat(ctx context.Context, messages []core.Message) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
	}
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case core.RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	message, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.GenerationFailed, "anthropic chat failed"),
			errors.Fields{"model": string(g.model)})
	}
	return firstText(message)
}

func firstText(message *anthropic.Message) (string, error) {
	if message == nil || len(message.Content) == 0 {
		return "", errors.New(errors.GenerationFailed, "empty response from Anthropic API")
	}
	if block := message.Content[0]; block.Type == "text" {
		return block.Text, nil
	}
	return "", errors.New(errors.GenerationFailed, "no text block in Anthropic response")
}

func (g *AnthropicGenerator) Describe() core.Info {
	return core.Info{Name: "anthropic", ModelID: string(g.model)}
}
