package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndCodeOf(t *testing.T) {
	base := stderrors.New("disk full")
	wrapped := Wrap(base, PersistenceFailed, "save snapshot")

	assert.Equal(t, PersistenceFailed, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Contains(t, wrapped.Error(), "save snapshot")
	assert.Contains(t, wrapped.Error(), "disk full")

	assert.Nil(t, Wrap(nil, PersistenceFailed, "ignored"))
}

func TestCodeOf_ThroughChains(t *testing.T) {
	inner := New(InvalidInput, "bad rating")
	outer := fmt.Errorf("handler: %w", inner)

	assert.Equal(t, InvalidInput, CodeOf(outer))
	assert.Equal(t, Unknown, CodeOf(stderrors.New("plain")))
	assert.Equal(t, Unknown, CodeOf(nil))
}

func TestWithFields(t *testing.T) {
	err := WithFields(New(InvalidInput, "rating out of range"), Fields{"rating": 9})

	var e *Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, InvalidInput, e.Code())
	assert.Equal(t, 9, e.Fields()["rating"])
	assert.Contains(t, err.Error(), "rating=9")

	// Merging keeps earlier fields and overwrites duplicates.
	merged := WithFields(err, Fields{"rating": 10, "query": "q"})
	require.True(t, stderrors.As(merged, &e))
	assert.Equal(t, 10, e.Fields()["rating"])
	assert.Equal(t, "q", e.Fields()["query"])

	assert.Nil(t, WithFields(nil, Fields{"ignored": true}))
}

func TestIsMatchesOnCode(t *testing.T) {
	assert.ErrorIs(t, New(GenerationFailed, "a"), New(GenerationFailed, "b"))
	assert.NotErrorIs(t, New(GenerationFailed, "a"), New(InvalidInput, "b"))
}

func TestCheckContext(t *testing.T) {
	assert.NoError(t, CheckContext(context.Background(), "op"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := CheckContext(ctx, "op")
	require.Error(t, err)
	assert.Equal(t, Canceled, CodeOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}
