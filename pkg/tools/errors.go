package tools

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTool    = errors.New("unknown tool")
	ErrSchemaMismatch = errors.New("tool arguments do not match schema")
	ErrToolFailed     = errors.New("tool execution failed")
)

type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

func (e *UnknownToolError) Unwrap() error { return ErrUnknownTool }

type SchemaMismatchError struct {
	Tool     string
	Problems []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// IsRetryable reports whether another attempt could change the outcome.
// Missing tools and malformed arguments never can.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrUnknownTool) && !errors.Is(err, ErrSchemaMismatch)
}
