package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashText(t *testing.T) {
	assert.Equal(t, HashText("Hello World"), HashText("  hello world  "),
		"case and surrounding whitespace collide on purpose")
	assert.NotEqual(t, HashText("hello world"), HashText("hello worlds"))
	assert.Len(t, HashText("x"), 64)
}

func TestHashRaw(t *testing.T) {
	assert.Equal(t, HashRaw("a", "b"), HashRaw("a", "b"))
	assert.NotEqual(t, HashRaw("a", "b"), HashRaw("ab"), "part boundaries are part of the id")
	assert.NotEqual(t, HashRaw("A"), HashRaw("a"), "raw hashing skips normalization")
}
