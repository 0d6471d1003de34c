package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "no values", input: nil, expected: nil},
		{name: "single value", input: []string{"correction_approved"}, expected: []string{"correction_approved"}},
		{
			name:     "comma separated",
			input:    []string{"correction_approved, correction_rejected"},
			expected: []string{"correction_approved", "correction_rejected"},
		},
		{
			name:     "repeated and comma separated",
			input:    []string{"a,b", "c"},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "duplicates keep first position",
			input:    []string{"b,a", "b"},
			expected: []string{"b", "a"},
		},
		{name: "only separators", input: []string{",, ,", ""}, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.input))
		})
	}
}

func TestDedupeAndTrim(t *testing.T) {
	assert.Nil(t, DedupeAndTrim(nil))
	assert.Equal(t, []string{"foo", "bar"}, DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "}))
}
