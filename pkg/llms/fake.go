package llms

import (
	"context"
	"sync"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/errors"
)

// FakeGenerator is an in-process core.Generator for tests and offline runs.
// Responses are keyed by exact prompt; unknown prompts return Default, or an
// error when Default is empty and Fail is unset.
type FakeGenerator struct {
	mu        sync.Mutex
	Responses map[string]string
	Default   string
	Fail      error // returned verbatim from every call when set

	Calls []string // prompts seen, in order
}

// NewFakeGenerator returns a fake that answers every prompt with defaultResp.
func NewFakeGenerator(defaultResp string) *FakeGenerator {
	return &FakeGenerator{Default: defaultResp, Responses: make(map[string]string)}
}

func (g *FakeGenerator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Calls = append(g.Calls, prompt)
	if g.Fail != nil {
		return "", g.Fail
	}
	if resp, ok := g.Responses[prompt]; ok {
		return resp, nil
	}
	if g.Default != "" {
		return g.Default, nil
	}
	return "", errors.New(errors.GenerationFailed, "no scripted response for prompt")
}

func (g *FakeGenerator) Chat(ctx context.Context, messages []core.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New(errors.InvalidInput, "empty message list")
	}
	return g.Generate(ctx, messages[len(messages)-1].Content, "")
}

func (g *FakeGenerator) Describe() core.Info {
	return core.Info{Name: "fake", ModelID: "fake-1"}
}
