package agent

import (
	"context"
	"errors"

	"github.com/zhaopengme/toolclaw/pkg/breaker"
	"github.com/zhaopengme/toolclaw/pkg/providers"
	"github.com/zhaopengme/toolclaw/pkg/tools"
)

// ErrorKind is the closed set of failures a run can end with.
type ErrorKind string

const (
	KindTransport           ErrorKind = "transport"
	KindTimeout             ErrorKind = "timeout"
	KindCircuitOpen         ErrorKind = "circuit_open"
	KindLoopDetected        ErrorKind = "loop_detected"
	KindUnknownTool         ErrorKind = "unknown_tool"
	KindSchemaMismatch      ErrorKind = "schema_mismatch"
	KindNoFinalResult       ErrorKind = "no_final_result"
	KindBothProvidersFailed ErrorKind = "both_providers_failed"
	KindCancelled           ErrorKind = "cancelled"
	KindThreadBusy          ErrorKind = "thread_busy"
)

var (
	ErrProviderTimeout = errors.New("provider call timed out")
	ErrLoopDetected    = errors.New("repeated query or tool call detected")
	ErrNoFinalResult   = errors.New("call budget exhausted without a final answer")
	ErrCancelled       = errors.New("run cancelled")
	ErrThreadBusy      = errors.New("thread already has an active run")
	ErrEmptyQuery      = errors.New("agent: empty query")
)

var userMessages = map[ErrorKind]string{
	KindTransport:           "The assistant could not reach the model service. Please try again.",
	KindTimeout:             "The model took too long to respond. Please try again.",
	KindCircuitOpen:         "The model service is temporarily unavailable. Please try again in a minute.",
	KindLoopDetected:        "The assistant got stuck repeating itself and stopped.",
	KindUnknownTool:         "The assistant tried an action that is not available.",
	KindSchemaMismatch:      "The assistant made an invalid request while working on your question.",
	KindNoFinalResult:       "The assistant could not reach a final answer within its step limit.",
	KindBothProvidersFailed: "Neither the primary nor the backup model could answer. Please try again later.",
	KindCancelled:           "The request was cancelled.",
	KindThreadBusy:          "This conversation is still working on a previous question.",
}

// Error is the only error type Run returns for a failed run. Its message is
// safe to show to end users; the upstream causes are reachable through
// errors.Is/As only.
type Error struct {
	Kind    ErrorKind
	Message string
	// Primary and Fallback are the underlying causes, when known.
	Primary  error
	Fallback error
}

func newError(kind ErrorKind, primary, fallback error) *Error {
	return &Error{Kind: kind, Message: userMessages[kind], Primary: primary, Fallback: fallback}
}

func (e *Error) Error() string {
	return "agent: " + string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

// UserMessage is the text a host should display for this failure.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return userMessages[e.Kind]
}

// Classify maps any error to a taxonomy kind. Unrecognized errors are
// transport failures.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var pe *providers.ProviderError
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrThreadBusy):
		return KindThreadBusy
	case errors.Is(err, breaker.ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &pe) && pe.IsTimeout():
		return KindTimeout
	case errors.Is(err, ErrLoopDetected):
		return KindLoopDetected
	case errors.Is(err, tools.ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, tools.ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, ErrNoFinalResult):
		return KindNoFinalResult
	default:
		return KindTransport
	}
}
