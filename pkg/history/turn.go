package history

import (
	"encoding/json"
	"time"

	"github.com/zhaopengme/toolclaw/pkg/providers"
	"github.com/zhaopengme/toolclaw/pkg/tokens"
)

type Role string

const (
	RoleHuman      Role = "human"
	RoleModel      Role = "model"
	RoleToolResult Role = "tool_result"
)

// Turn is one message of a conversation. Turns are never edited after they
// are appended; pruning only removes them.
type Turn struct {
	Role       Role                 `json:"role"`
	Content    string               `json:"content,omitempty"`
	ToolCalls  []providers.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolName   string               `json:"tool_name,omitempty"`
	// Summary marks the synthetic turn that replaces compacted history.
	Summary   bool      `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the persisted form of one thread.
type Conversation struct {
	ThreadID  string    `json:"thread_id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EstimateTurn approximates the token cost of a turn including any tool call
// payload it carries.
func EstimateTurn(c tokens.Counter, t Turn) int {
	n := c.Estimate(t.Content)
	for _, tc := range t.ToolCalls {
		n += c.Estimate(tc.Name)
		if len(tc.Arguments) > 0 {
			if b, err := json.Marshal(tc.Arguments); err == nil {
				n += c.Estimate(string(b))
			}
		}
	}
	return n
}

// EstimateTurns sums EstimateTurn over turns.
func EstimateTurns(c tokens.Counter, turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTurn(c, t)
	}
	return total
}

// trimLeadingNonHuman drops turns from the front until the sequence is empty
// or starts with a human turn.
func trimLeadingNonHuman(turns []Turn) ([]Turn, int) {
	dropped := 0
	for len(turns) > 0 && turns[0].Role != RoleHuman {
		turns = turns[1:]
		dropped++
	}
	return turns, dropped
}
