package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxAnalyzeFiles = 5
	previewLines    = 120
)

// AnalyzeFilesTool reports size, line count, language and a preview of
// files inside the workspace.
type AnalyzeFilesTool struct {
	workspace    string
	maxFileBytes int64
}

func NewAnalyzeFilesTool(workspace string, maxFileBytes int64) *AnalyzeFilesTool {
	if maxFileBytes <= 0 {
		maxFileBytes = 512 * 1024
	}
	return &AnalyzeFilesTool{workspace: absWorkspace(workspace), maxFileBytes: maxFileBytes}
}

func (t *AnalyzeFilesTool) Name() string { return "analyze_files" }

func (t *AnalyzeFilesTool) Description() string {
	return "Read one or more source files from the workspace and return their size, line count, language and contents preview."
}

func (t *AnalyzeFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative path of a single file",
			},
			"files": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"maxItems":    maxAnalyzeFiles,
				"description": "Several workspace-relative paths",
			},
		},
		"anyOf": []interface{}{
			map[string]interface{}{"required": []interface{}{"file"}},
			map[string]interface{}{"required": []interface{}{"files"}},
		},
	}
}

func (t *AnalyzeFilesTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	var paths []string
	if f := stringArg(args, "file"); f != "" {
		paths = append(paths, f)
	}
	if list, ok := args["files"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				paths = append(paths, s)
			}
		}
	}
	if len(paths) == 0 {
		return ErrorResult("no file given")
	}
	if len(paths) > maxAnalyzeFiles {
		paths = paths[:maxAnalyzeFiles]
	}

	var sb strings.Builder
	analyzed := 0
	for _, raw := range paths {
		if err := ctx.Err(); err != nil {
			return ErrorResult("analysis cancelled").WithError(err)
		}
		report, err := t.analyze(raw)
		if err != nil {
			fmt.Fprintf(&sb, "## %s\nerror: %v\n\n", raw, err)
			continue
		}
		analyzed++
		sb.WriteString(report)
	}
	if analyzed == 0 {
		return ErrorResult(strings.TrimSpace(sb.String()))
	}
	return NewToolResult(strings.TrimSpace(sb.String()))
}

func (t *AnalyzeFilesTool) analyze(raw string) (string, error) {
	path, err := resolveInWorkspace(t.workspace, raw)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", raw)
	}
	if info.Size() > t.maxFileBytes {
		return "", fmt.Errorf("%s is %d bytes, limit is %d", raw, info.Size(), t.maxFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if isBinary(data) {
		return "", fmt.Errorf("%s is a binary file", raw)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	preview := lines
	truncated := false
	if len(preview) > previewLines {
		preview = preview[:previewLines]
		truncated = true
	}

	rel, _ := filepath.Rel(t.workspace, path)
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\nlanguage: %s\nsize: %d bytes\nlines: %d\n\n", filepath.ToSlash(rel), detectLanguage(path), info.Size(), len(lines))
	sb.WriteString(strings.Join(preview, "\n"))
	if truncated {
		fmt.Fprintf(&sb, "\n... (%d more lines)", len(lines)-previewLines)
	}
	sb.WriteString("\n\n")
	return sb.String(), nil
}
