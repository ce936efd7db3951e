package history

import (
	"context"

	"github.com/zhaopengme/toolclaw/pkg/codec"
	"github.com/zhaopengme/toolclaw/pkg/logger"
	"github.com/zhaopengme/toolclaw/pkg/tokens"
)

// Budget bounds the context sent with one provider request.
type Budget struct {
	MaxTokens int
	// SystemTokens is the cost of the system instruction sent alongside.
	SystemTokens int
	// RecentKeep overrides the manager's recent-turn window when > 0.
	RecentKeep int
}

type CompactResult struct {
	TurnsBefore  int
	TurnsAfter   int
	TokensBefore int
	TokensAfter  int
	Summarized   bool
}

// Compact shrinks the thread's history to fit b. Short histories lose their
// oldest pairs; longer ones have everything but the most recent turns
// replaced by one summary turn, then lose pairs if still over budget. A
// failed summarization degrades to pair pruning. The result is empty or
// starts with a human turn.
func (m *Manager) Compact(ctx context.Context, threadID string, b Budget) CompactResult {
	m.mu.Lock()
	conv := m.loadLocked(ctx, threadID)
	turns := append([]Turn(nil), conv.Turns...)
	rev := m.rev[threadID]
	summarizer := m.opts.Summarizer
	m.mu.Unlock()

	counter := m.opts.Counter
	res := CompactResult{
		TurnsBefore:  len(turns),
		TokensBefore: EstimateTurns(counter, turns),
	}
	if b.MaxTokens <= 0 || b.SystemTokens+res.TokensBefore <= b.MaxTokens {
		res.TurnsAfter, res.TokensAfter = res.TurnsBefore, res.TokensBefore
		return res
	}

	recentKeep := b.RecentKeep
	if recentKeep <= 0 {
		recentKeep = m.opts.RecentKeep
	}

	out := turns
	if len(turns) >= recentKeep+2 && summarizer != nil {
		older := turns[:len(turns)-recentKeep]
		recent := turns[len(turns)-recentKeep:]
		summary, err := summarizer.Summarize(ctx, older)
		if err != nil || summary == "" {
			fields := map[string]interface{}{"thread_id": threadID, "turns": len(older)}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.WarnCF("history", "Summarization failed, pruning oldest pairs instead", fields)
		} else {
			out = make([]Turn, 0, recentKeep+1)
			out = append(out, Turn{
				Role:      RoleHuman,
				Content:   summary,
				Summary:   true,
				Timestamp: m.opts.Clock.Now(),
			})
			out = append(out, recent...)
			res.Summarized = true
		}
	}
	out = prunePairs(counter, out, b)
	out, _ = trimLeadingNonHuman(out)

	res.TurnsAfter = len(out)
	res.TokensAfter = EstimateTurns(counter, out)

	m.mu.Lock()
	if m.rev[threadID] != rev {
		m.mu.Unlock()
		logger.WarnCF("history", "Conversation changed during compaction, keeping it as is", map[string]interface{}{
			"thread_id": threadID,
		})
		res.TurnsAfter, res.TokensAfter = res.TurnsBefore, res.TokensBefore
		res.Summarized = false
		return res
	}
	conv = m.loadLocked(ctx, threadID)
	conv.Turns = out
	conv.UpdatedAt = m.opts.Clock.Now()
	m.rev[threadID]++
	data, err := codec.Marshal(conv)
	m.mu.Unlock()

	logger.InfoCF("history", "Conversation compacted", map[string]interface{}{
		"thread_id":     threadID,
		"turns_before":  res.TurnsBefore,
		"turns_after":   res.TurnsAfter,
		"tokens_before": res.TokensBefore,
		"tokens_after":  res.TokensAfter,
		"summarized":    res.Summarized,
	})
	m.persist(ctx, threadID, data, err)
	return res
}

// prunePairs drops the oldest two turns at a time until the history fits or
// fewer than two turns remain.
func prunePairs(c tokens.Counter, turns []Turn, b Budget) []Turn {
	total := b.SystemTokens + EstimateTurns(c, turns)
	for total > b.MaxTokens && len(turns) >= 2 {
		total -= EstimateTurn(c, turns[0]) + EstimateTurn(c, turns[1])
		turns = turns[2:]
		var lead int
		for lead < len(turns) && turns[lead].Role != RoleHuman {
			total -= EstimateTurn(c, turns[lead])
			lead++
		}
		turns = turns[lead:]
	}
	return turns
}
