package llms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/errors"
)

func TestFakeGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	g := NewFakeGenerator("default answer")
	g.Responses["scripted prompt"] = "scripted answer"

	got, err := g.Generate(ctx, "scripted prompt", "")
	require.NoError(t, err)
	assert.Equal(t, "scripted answer", got)

	got, err = g.Generate(ctx, "anything else", "")
	require.NoError(t, err)
	assert.Equal(t, "default answer", got)

	assert.Equal(t, []string{"scripted prompt", "anything else"}, g.Calls)
}

func TestFakeGenerator_NoResponseConfigured(t *testing.T) {
	g := &FakeGenerator{Responses: map[string]string{}}

	_, err := g.Generate(context.Background(), "prompt", "")
	require.Error(t, err)
	assert.Equal(t, errors.GenerationFailed, errors.CodeOf(err))
}

func TestFakeGenerator_Fail(t *testing.T) {
	g := NewFakeGenerator("unused")
	g.Fail = errors.New(errors.Unknown, "injected failure")

	_, err := g.Generate(context.Background(), "prompt", "")
	assert.ErrorIs(t, err, g.Fail)
}

func TestFakeGenerator_Chat(t *testing.T) {
	ctx := context.Background()
	g := NewFakeGenerator("chat answer")

	got, err := g.Chat(ctx, []core.Message{
		{Role: core.RoleSystem, Content: "be brief"},
		{Role: core.RoleUser, Content: "latest question"},
	})
	require.NoError(t, err)
	assert.Equal(t, "chat answer", got)
	assert.Equal(t, []string{"latest question"}, g.Calls, "chat answers the latest message")

	_, err = g.Chat(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}
