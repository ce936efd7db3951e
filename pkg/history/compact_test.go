package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	summary string
	err     error
	got     []Turn
}

func (s *stubSummarizer) Summarize(_ context.Context, turns []Turn) (string, error) {
	s.got = turns
	return s.summary, s.err
}

// fillTurns appends n alternating human/model turns of 10 characters each.
func fillTurns(m *Manager, thread string, n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("turn-%04d", i) + "."
		if i%2 == 0 {
			m.AppendUserTurn(ctx, thread, content)
		} else {
			m.AppendModelTurn(ctx, thread, content)
		}
	}
}

func TestCompactUnderBudgetIsNoop(t *testing.T) {
	m := newTestManager(Options{})
	fillTurns(m, "t", 4)

	res := m.Compact(context.Background(), "t", Budget{MaxTokens: 100})
	assert.Equal(t, 4, res.TurnsAfter)
	assert.Equal(t, 40, res.TokensAfter)
	assert.False(t, res.Summarized)
}

func TestCompactShortHistoryPrunesPairs(t *testing.T) {
	sum := &stubSummarizer{summary: "S"}
	m := newTestManager(Options{Summarizer: sum})
	fillTurns(m, "t", 4)

	res := m.Compact(context.Background(), "t", Budget{MaxTokens: 25})
	assert.False(t, res.Summarized)
	assert.Nil(t, sum.got)

	h := m.GetHistory(context.Background(), "t")
	require.Len(t, h, 2)
	assert.Equal(t, RoleHuman, h[0].Role)
	assert.Equal(t, "turn-0002.", h[0].Content)
}

func TestCompactSummarizesOlderTurns(t *testing.T) {
	sum := &stubSummarizer{summary: "S"}
	m := newTestManager(Options{Summarizer: sum})
	fillTurns(m, "t", 8)

	res := m.Compact(context.Background(), "t", Budget{MaxTokens: 50})
	assert.True(t, res.Summarized)
	assert.Len(t, sum.got, 4)

	h := m.GetHistory(context.Background(), "t")
	require.Len(t, h, 5)
	assert.True(t, h[0].Summary)
	assert.Equal(t, RoleHuman, h[0].Role)
	assert.Equal(t, "S", h[0].Content)
	assert.Equal(t, "turn-0004.", h[1].Content)
	assert.Equal(t, 41, res.TokensAfter)
}

func TestCompactSummaryStillOverBudget(t *testing.T) {
	sum := &stubSummarizer{summary: strings.Repeat("x", 45)}
	m := newTestManager(Options{Summarizer: sum})
	fillTurns(m, "t", 8)

	res := m.Compact(context.Background(), "t", Budget{MaxTokens: 50})
	assert.True(t, res.Summarized)

	h := m.GetHistory(context.Background(), "t")
	require.Len(t, h, 2)
	assert.Equal(t, RoleHuman, h[0].Role)
	assert.Equal(t, "turn-0006.", h[0].Content)
	assert.LessOrEqual(t, res.TokensAfter, 50)
}

func TestCompactSummarizerFailureFallsBackToPairs(t *testing.T) {
	sum := &stubSummarizer{err: errors.New("model unavailable")}
	m := newTestManager(Options{Summarizer: sum})
	fillTurns(m, "t", 8)

	res := m.Compact(context.Background(), "t", Budget{MaxTokens: 50, SystemTokens: 10})
	assert.False(t, res.Summarized)

	h := m.GetHistory(context.Background(), "t")
	require.Len(t, h, 4)
	assert.Equal(t, "turn-0004.", h[0].Content)
}

func TestCompactKeepsHumanFirstWithToolTurns(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(Options{})
	m.AppendUserTurn(ctx, "t", "0123456789")
	m.AppendModelToolTurn(ctx, "t", "0123456789", nil)
	m.AppendToolResultTurn(ctx, "t", "c", "search_codebase", "0123456789")
	m.AppendModelTurn(ctx, "t", "0123456789")
	m.AppendUserTurn(ctx, "t", "0123456789")

	m.Compact(ctx, "t", Budget{MaxTokens: 20})
	h := m.GetHistory(ctx, "t")
	require.NotEmpty(t, h)
	assert.Equal(t, RoleHuman, h[0].Role)
	assert.Len(t, h, 1)
}
