package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	EnableJSON(true)
	prev := GetLevel()
	t.Cleanup(func() {
		SetLevel(prev)
		EnableJSON(false)
	})
	return &buf
}

func TestLogMessageCarriesComponentAndFields(t *testing.T) {
	buf := captureJSON(t)
	SetLevel(DEBUG)

	InfoCF("agent", "run started", map[string]interface{}{
		"thread": "t1",
		"err":    errors.New("boom"),
	})

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "agent", rec["component"])
	assert.Equal(t, "run started", rec["message"])
	assert.Equal(t, "t1", rec["thread"])
	assert.Equal(t, "boom", rec["err"])
	assert.Equal(t, "info", rec["level"])
}

func TestLevelFiltering(t *testing.T) {
	buf := captureJSON(t)
	SetLevel(WARN)

	DebugC("tool", "hidden")
	InfoC("tool", "hidden")
	assert.Zero(t, buf.Len())

	WarnC("tool", "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		" warn ":  WARN,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
