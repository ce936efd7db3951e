// ToolClaw - tool-calling agent orchestration engine
// License: MIT
//
// Copyright (c) 2026 ToolClaw contributors

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc"

	"github.com/zhaopengme/toolclaw/pkg/history"
	"github.com/zhaopengme/toolclaw/pkg/logger"
	"github.com/zhaopengme/toolclaw/pkg/providers"
)

const (
	summaryMaxTokens   = 1024
	summaryTemperature = 0.3
	// batches longer than this are summarized in two concurrent halves
	summarySplitTurns = 10
)

// LLMSummarizer condenses history turns with a model call. It satisfies
// history.Summarizer.
type LLMSummarizer struct {
	provider providers.LLMProvider
	model    string
}

func NewLLMSummarizer(provider providers.LLMProvider, model string) *LLMSummarizer {
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return &LLMSummarizer{provider: provider, model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, turns []history.Turn) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("nothing to summarize")
	}
	if len(turns) <= summarySplitTurns {
		return s.summarizeBatch(ctx, turns)
	}

	mid := len(turns) / 2
	var s1, s2 string
	var err1, err2 error
	var wg conc.WaitGroup
	wg.Go(func() { s1, err1 = s.summarizeBatch(ctx, turns[:mid]) })
	wg.Go(func() { s2, err2 = s.summarizeBatch(ctx, turns[mid:]) })
	wg.Wait()

	// A summary of only one half would silently drop the other half's turns.
	if err := errors.Join(err1, err2); err != nil {
		return "", fmt.Errorf("summarize halves: %w", err)
	}

	mergePrompt := fmt.Sprintf(
		"Merge these two conversation summaries into one short paragraph. Keep facts, decisions and open questions.\n"+
			"Return only the merged summary.\n\nSummary 1: %s\n\nSummary 2: %s",
		s1, s2,
	)
	merged, err := s.complete(ctx, mergePrompt)
	if err != nil {
		logger.WarnCF("summarizer", "Summary merge failed, concatenating halves", map[string]interface{}{
			"error": err.Error(),
		})
		return s1 + "\n" + s2, nil
	}
	return merged, nil
}

func (s *LLMSummarizer) summarizeBatch(ctx context.Context, batch []history.Turn) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize this conversation segment in one short paragraph. ")
	sb.WriteString("Keep the user's questions, facts that were established and anything still unresolved.\n")
	sb.WriteString("Return only the summary.\n\nCONVERSATION:\n")
	for _, t := range batch {
		if text := turnToSummaryText(t); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	return s.complete(ctx, sb.String())
}

func (s *LLMSummarizer) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.provider.Chat(ctx, []providers.Message{{Role: providers.RoleUser, Content: prompt}}, nil, s.model,
		map[string]interface{}{
			providers.OptMaxTokens:   summaryMaxTokens,
			providers.OptTemperature: summaryTemperature,
		})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", providers.ErrEmptyResponse
	}
	logger.DebugCF("summarizer", "Summary generated", map[string]interface{}{
		"model":  s.model,
		"length": len(text),
	})
	return text, nil
}

// turnToSummaryText renders a turn as one readable line. Tool payloads are
// shortened so they do not dominate the prompt.
func turnToSummaryText(t history.Turn) string {
	switch t.Role {
	case history.RoleHuman:
		if t.Content == "" {
			return ""
		}
		if t.Summary {
			return "earlier summary: " + t.Content
		}
		return "user: " + t.Content

	case history.RoleModel:
		var parts []string
		if t.Content != "" {
			parts = append(parts, t.Content)
		}
		for _, tc := range t.ToolCalls {
			args := ""
			if len(tc.Arguments) > 0 {
				if b, err := json.Marshal(tc.Arguments); err == nil {
					args = string(b)
				}
			}
			if r := []rune(args); len(r) > 200 {
				args = string(r[:200]) + "..."
			}
			parts = append(parts, fmt.Sprintf("[Tool Call: %s(%s)]", tc.Name, args))
		}
		if len(parts) == 0 {
			return ""
		}
		return "assistant: " + strings.Join(parts, " ")

	case history.RoleToolResult:
		r := []rune(t.Content)
		if len(r) > 300 {
			return fmt.Sprintf("[Tool Result]: %s...", string(r[:300]))
		}
		return "[Tool Result]: " + t.Content
	}
	return ""
}
