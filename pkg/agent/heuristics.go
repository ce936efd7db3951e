package agent

import "strings"

// impliedToolPhrases catch a model that describes a tool call in prose
// instead of issuing it. Matching is case-insensitive substring search.
var impliedToolPhrases = []struct {
	phrase string
	tool   string
}{
	{"use the web_search tool", "web_search"},
	{"using the web_search tool", "web_search"},
	{"call web_search", "web_search"},
	{"i will search the web", "web_search"},
	{"i'll search the web", "web_search"},
	{"let me search the web", "web_search"},
	{"search online for", "web_search"},
	{"use the search_codebase tool", "search_codebase"},
	{"using the search_codebase tool", "search_codebase"},
	{"call search_codebase", "search_codebase"},
	{"let me search the codebase", "search_codebase"},
	{"i will search the codebase", "search_codebase"},
	{"i'll search the codebase", "search_codebase"},
}

// detectImpliedTool returns the tool the text says it is about to use, or "".
func detectImpliedTool(text string) string {
	lower := strings.ToLower(text)
	for _, p := range impliedToolPhrases {
		if strings.Contains(lower, p.phrase) {
			return p.tool
		}
	}
	return ""
}
