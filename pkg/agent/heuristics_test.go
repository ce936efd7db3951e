package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectImpliedTool(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"I will use the web_search tool to find it.", "web_search"},
		{"Let me search the web for recent releases.", "web_search"},
		{"I'll search the codebase for the handler.", "search_codebase"},
		{"USE THE SEARCH_CODEBASE TOOL", "search_codebase"},
		{"The function returns the sum of its inputs.", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectImpliedTool(tt.text), tt.text)
	}
}
