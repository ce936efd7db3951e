package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/zhaopengme/toolclaw/pkg/utils"
)

var errSearchLimit = errors.New("search limit reached")

// skipped regardless of .gitignore
var alwaysSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
}

// SearchCodebaseTool does a case-insensitive substring search over text
// files in the workspace, honoring the workspace .gitignore.
type SearchCodebaseTool struct {
	workspace    string
	maxResults   int
	maxFileBytes int64
}

func NewSearchCodebaseTool(workspace string, maxResults int, maxFileBytes int64) *SearchCodebaseTool {
	if maxResults <= 0 {
		maxResults = 20
	}
	if maxFileBytes <= 0 {
		maxFileBytes = 512 * 1024
	}
	return &SearchCodebaseTool{workspace: absWorkspace(workspace), maxResults: maxResults, maxFileBytes: maxFileBytes}
}

func (t *SearchCodebaseTool) Name() string { return "search_codebase" }

func (t *SearchCodebaseTool) Description() string {
	return "Search the project's source files for a text fragment and return matching lines with file and line number."
}

func (t *SearchCodebaseTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"minLength":   1,
				"description": "Text to look for (case-insensitive)",
			},
			"max_results": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": 200,
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchCodebaseTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return ErrorResult("query is required")
	}
	limit := intArg(args, "max_results", t.maxResults)

	var gi *ignore.GitIgnore
	if compiled, err := ignore.CompileIgnoreFile(filepath.Join(t.workspace, ".gitignore")); err == nil {
		gi = compiled
	}

	needle := strings.ToLower(query)
	var hits []string
	err := filepath.WalkDir(t.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(t.workspace, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if alwaysSkipDirs[d.Name()] || (gi != nil && gi.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > t.maxFileBytes || !info.Mode().IsRegular() {
			return nil
		}

		for _, h := range searchFile(path, rel, needle) {
			hits = append(hits, h)
			if len(hits) >= limit {
				return errSearchLimit
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSearchLimit) {
		return ErrorResult("search interrupted").WithError(err)
	}

	if len(hits) == 0 {
		return NewToolResult(fmt.Sprintf("No matches for %q in the workspace.", query))
	}
	header := fmt.Sprintf("%d match(es) for %q", len(hits), query)
	if errors.Is(err, errSearchLimit) {
		header += " (limit reached)"
	}
	return NewToolResult(header + ":\n" + strings.Join(hits, "\n"))
}

func searchFile(path, rel, needle string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if isBinary(head[:n]) {
		return nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil
	}

	var hits []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.Contains(strings.ToLower(text), needle) {
			hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, line, utils.Truncate(strings.TrimSpace(text), 200)))
		}
	}
	return hits
}
