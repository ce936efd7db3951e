package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	content  string
	err      error
	lastMsgs []Message
	lastOpts map[string]interface{}
	lastTool []ToolDefinition
}

func (s *stubProvider) Chat(_ context.Context, messages []Message, tools []ToolDefinition, _ string, options map[string]interface{}) (*LLMResponse, error) {
	s.lastMsgs, s.lastTool, s.lastOpts = messages, tools, options
	if s.err != nil {
		return nil, s.err
	}
	return &LLMResponse{Content: s.content}, nil
}

func (s *stubProvider) GetDefaultModel() string { return "stub-small" }

func TestFallbackGenerateText(t *testing.T) {
	stub := &stubProvider{content: "  short answer \n"}
	f := NewFallbackProvider(stub, "", 0, 0.3)

	text, err := f.GenerateText(context.Background(), "composite prompt")
	require.NoError(t, err)
	assert.Equal(t, "short answer", text)
	assert.Equal(t, "stub-small", f.Model())
	require.Len(t, stub.lastMsgs, 1)
	assert.Equal(t, "composite prompt", stub.lastMsgs[0].Content)
	assert.Empty(t, stub.lastTool)
	assert.Equal(t, 1024, stub.lastOpts[OptMaxTokens])
}

func TestFallbackEmptyIsError(t *testing.T) {
	f := NewFallbackProvider(&stubProvider{content: "   "}, "m", 100, 0)
	_, err := f.GenerateText(context.Background(), "p")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestFallbackPropagatesFailure(t *testing.T) {
	boom := errors.New("connection reset")
	f := NewFallbackProvider(&stubProvider{err: boom}, "m", 100, 0)
	_, err := f.GenerateText(context.Background(), "p")
	assert.ErrorIs(t, err, boom)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReasonTransport, pe.Reason)
}
