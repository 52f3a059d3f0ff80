package llms

import (
	"context"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/errors"
)

// OpenAIGenerator implements core.Generator over the OpenAI Chat Completions
// API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates an OpenAI backend. An empty apiKey falls back to
// OPENAI_API_KEY.
func NewOpenAIGenerator(apiKey, model string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New(errors.InvalidInput, "openai API key is required")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIGenerator{client: &client, model: model}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))
	return g.complete(ctx, messages)
}

func (g *OpenAIGenerator) Chat(ctx context.Context, msgs []core.Message) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return g.complete(ctx, messages)
}

func (g *OpenAIGenerator) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.GenerationFailed, "openai generation failed"),
			errors.Fields{"model": g.model})
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.GenerationFailed, "no choices in OpenAI response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) Describe() core.Info {
	return core.Info{Name: "openai", ModelID: g.model}
}
