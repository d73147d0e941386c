package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "trims whitespace", input: []string{" gold-1 ", "gold-2\t"}, expected: []string{"gold-1", "gold-2"}},
		{name: "keeps first occurrence", input: []string{"gold-2", "gold-1", "gold-2"}, expected: []string{"gold-2", "gold-1"}},
		{name: "drops blanks", input: []string{"", "  ", "gold-1"}, expected: []string{"gold-1"}},
		{name: "is case sensitive", input: []string{"Gold-1", "gold-1"}, expected: []string{"Gold-1", "gold-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList("   "))
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitList("a:9092, b:9092,,a:9092"))
}
