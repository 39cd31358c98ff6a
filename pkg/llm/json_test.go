package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced with language tag", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced without tag", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading prose", `Here is the result: {"a": 1}`, `{"a": 1}`},
		{"trailing prose", `{"a": 1} hope that helps`, `{"a": 1}`},
		{"prose both sides", "Sure!\n{\"a\": {\"b\": 2}}\nLet me know.", `{"a": {"b": 2}}`},
		{"whitespace only", "  \n ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSON(tc.in))
		})
	}
}
