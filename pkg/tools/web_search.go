package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// WebSearchTool queries a JSON web search API. The response shape is the
// Brave Search one: {"web": {"results": [{"title", "url", "description"}]}}.
type WebSearchTool struct {
	endpoint   string
	apiKey     string
	maxResults int
	client     *http.Client
}

func NewWebSearchTool(endpoint, apiKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return the top results with title, URL and snippet."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "minLength": 1, "description": "Search query"},
			"q":     map[string]interface{}{"type": "string", "minLength": 1, "description": "Alias of query"},
			"count": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 20},
		},
		"anyOf": []interface{}{
			map[string]interface{}{"required": []interface{}{"query"}},
			map[string]interface{}{"required": []interface{}{"q"}},
		},
	}
}

type searchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query := strings.TrimSpace(stringArg(args, "query", "q"))
	if query == "" {
		return ErrorResult("query is required")
	}
	if t.endpoint == "" {
		return ErrorResult("web search is not configured")
	}
	count := intArg(args, "count", t.maxResults)

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return ErrorResult("invalid search endpoint").WithError(err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return ErrorResult("failed to build search request").WithError(err)
	}
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("X-Subscription-Token", t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult("search request failed").WithError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ErrorResult("failed to read search response").WithError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("search API returned status %d", resp.StatusCode)).
			WithError(fmt.Errorf("%w: web search status %d", ErrToolFailed, resp.StatusCode))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ErrorResult("malformed search response").WithError(err)
	}

	results := parsed.Web.Results
	if len(results) == 0 {
		return NewToolResult(fmt.Sprintf("No web results for %q.", query))
	}
	if len(results) > count {
		results = results[:count]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
	}
	return NewToolResult(strings.TrimRight(sb.String(), "\n"))
}
