package bus

import "time"

type ProgressKind string

const (
	KindStarted      ProgressKind = "started"
	KindStrategizing ProgressKind = "strategizing"
	KindToolCall     ProgressKind = "tool_call"
	KindToolResult   ProgressKind = "tool_result"
	KindFallback     ProgressKind = "fallback"
	KindResponse     ProgressKind = "response"
	KindError        ProgressKind = "error"
)

// ProgressEvent is one structured progress record emitted by a run.
type ProgressEvent struct {
	ThreadID  string       `json:"thread_id"`
	Kind      ProgressKind `json:"kind"`
	Iteration int          `json:"iteration"`
	Tool      string       `json:"tool,omitempty"`
	Message   string       `json:"message,omitempty"`
	// Snapshot is the CBOR-encoded resumable loop state, set on
	// tool_result events.
	Snapshot []byte    `json:"snapshot,omitempty"`
	Time     time.Time `json:"time"`
}
