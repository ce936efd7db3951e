package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureReason classifies why a provider request failed.
type FailureReason string

const (
	ReasonAuth       FailureReason = "auth"
	ReasonRateLimit  FailureReason = "rate_limit"
	ReasonTimeout    FailureReason = "timeout"
	ReasonFormat     FailureReason = "format"
	ReasonOverloaded FailureReason = "overloaded"
	ReasonTransport  FailureReason = "transport"
	ReasonEmpty      FailureReason = "empty_response"
	ReasonUnknown    FailureReason = "unknown"
)

// ProviderError wraps an adapter failure with classification metadata.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Wrapped  error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s (%s) failed: %s status=%d: %v", e.Provider, e.Model, e.Reason, e.Status, e.Wrapped)
	}
	return fmt.Sprintf("provider %s (%s) failed: %s: %v", e.Provider, e.Model, e.Reason, e.Wrapped)
}

func (e *ProviderError) Unwrap() error {
	return e.Wrapped
}

// IsTimeout reports whether the failure was a deadline rather than a
// rejected request.
func (e *ProviderError) IsTimeout() bool {
	return e.Reason == ReasonTimeout
}

// ErrEmptyResponse is returned when a provider answers with neither text nor
// tool calls.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// ClassifyStatus maps an HTTP status from a vendor SDK error to a reason.
func ClassifyStatus(status int) FailureReason {
	switch {
	case status == 401 || status == 403:
		return ReasonAuth
	case status == 429:
		return ReasonRateLimit
	case status == 408 || status == 504:
		return ReasonTimeout
	case status == 400 || status == 404 || status == 413 || status == 422:
		return ReasonFormat
	case status == 529 || status == 503:
		return ReasonOverloaded
	case status >= 500:
		return ReasonTransport
	default:
		return ReasonUnknown
	}
}

// WrapError classifies err and wraps it in a *ProviderError. status is the
// HTTP status when the SDK exposed one, or 0.
func WrapError(provider, model string, status int, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	if status == 0 {
		var hs interface{ HTTPStatus() int }
		if errors.As(err, &hs) {
			status = hs.HTTPStatus()
		}
	}

	reason := ReasonUnknown
	switch {
	case status > 0:
		reason = ClassifyStatus(status)
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.Is(err, ErrEmptyResponse):
		reason = ReasonEmpty
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				reason = ReasonTimeout
			} else {
				reason = ReasonTransport
			}
		} else if msg := strings.ToLower(err.Error()); strings.Contains(msg, "connection") || strings.Contains(msg, "eof") {
			reason = ReasonTransport
		}
	}
	return &ProviderError{Reason: reason, Provider: provider, Model: model, Status: status, Wrapped: err}
}
