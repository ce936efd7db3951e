package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const ThinkToolName = "think"

// ThinkTool is a planning step: the model writes down what it intends to do
// next. The orchestrator parses the thought into plan steps; the tool itself
// only acknowledges it.
type ThinkTool struct{}

func NewThinkTool() *ThinkTool { return &ThinkTool{} }

func (t *ThinkTool) Name() string { return ThinkToolName }

func (t *ThinkTool) Description() string {
	return "Write down your reasoning and a short numbered plan before acting. Use it sparingly, then call a concrete tool."
}

func (t *ThinkTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"thought": map[string]interface{}{
				"type":        "string",
				"description": "Your reasoning and plan, one step per line",
			},
		},
		"required": []string{"thought"},
	}
}

func (t *ThinkTool) Execute(_ context.Context, args map[string]interface{}) *ToolResult {
	thought, _ := args["thought"].(string)
	steps := ParsePlanSteps(thought)
	if len(steps) == 0 {
		return ErrorResult("thought is empty")
	}
	return NewToolResult(fmt.Sprintf("Plan recorded with %d step(s). Now act on step 1: %s", len(steps), steps[0]))
}

var (
	numberedStep = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+?)\s*$`)
	intentStep   = regexp.MustCompile(`(?i)^\s*(I will\b.+?)\s*$`)
)

// ParsePlanSteps extracts numbered, bulleted and "I will ..." lines from a
// thought. Without any such line the whole trimmed thought is one step.
func ParsePlanSteps(thought string) []string {
	thought = strings.TrimSpace(thought)
	if thought == "" {
		return nil
	}

	var steps []string
	for _, line := range strings.Split(thought, "\n") {
		if m := numberedStep.FindStringSubmatch(line); m != nil {
			steps = append(steps, m[1])
			continue
		}
		if m := intentStep.FindStringSubmatch(line); m != nil {
			steps = append(steps, m[1])
		}
	}
	if len(steps) == 0 {
		return []string{thought}
	}
	return steps
}
