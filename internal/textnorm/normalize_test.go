// Package textnorm_test tests narration text normalization.
package textnorm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/narration-service/internal/textnorm"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	normalizer := textnorm.New()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "collapses whitespace",
			input:    "Once  upon\n\na time",
			expected: "Once upon a time",
		},
		{
			name:     "expands abbreviations",
			input:    "Dr. Fox waved at Mrs. Owl.",
			expected: "Doctor Fox waved at Misses Owl.",
		},
		{
			name:     "flattens typographic punctuation",
			input:    "The fox paused… then ran—fast.",
			expected: "The fox paused... then ran, fast.",
		},
		{
			name:     "trims surrounding space",
			input:    "  hello there  ",
			expected: "hello there",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input))
		})
	}
}
