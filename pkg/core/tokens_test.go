package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trims and lowercases", in: "  Hello World  ", want: "hello world"},
		{name: "case folds non-ascii", in: "GRÖSSE", want: "grösse"},
		{name: "empty", in: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "drops stopwords and short tokens",
			in:   "how to tune the database for bulk load",
			want: []string{"tune", "database", "bulk", "load"},
		},
		{name: "nothing significant", in: "a to the of", want: nil},
		{
			name: "capped at ten",
			in:   strings.Repeat("keyword ", 15),
			want: []string{"keyword", "keyword", "keyword", "keyword", "keyword", "keyword", "keyword", "keyword", "keyword", "keyword"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keywords(tt.in))
		})
	}
}

func TestEstimators(t *testing.T) {
	assert.Equal(t, 3, NewWordEstimator().Estimate("one two three"))
	assert.Zero(t, NewWordEstimator().Estimate(""))
	assert.Equal(t, 3, WordEstimator{}.Estimate("one two three"), "zero ratio falls back to the default")
	assert.Equal(t, 2, CharEstimator{}.Estimate("12345678"))
}

func TestTokenSet(t *testing.T) {
	set := TokenSet("Deploy the Deploy step")
	assert.Len(t, set, 3)
	_, ok := set["deploy"]
	assert.True(t, ok)
}
