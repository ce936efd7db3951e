package agent

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/zhaopengme/toolclaw/pkg/providers"
)

const (
	DefaultBaseCallLimit       = 5
	DefaultMaxComplexityFactor = 3
)

// DynamicCallLimit is the provider call budget for a query of queryLen
// characters: baseLimit times a complexity factor of 1 + queryLen/100,
// capped at maxFactor. With the defaults the result is always in [5, 15].
func DynamicCallLimit(queryLen, baseLimit, maxFactor int) int {
	if baseLimit <= 0 {
		baseLimit = DefaultBaseCallLimit
	}
	if maxFactor <= 0 {
		maxFactor = DefaultMaxComplexityFactor
	}
	if queryLen < 0 {
		queryLen = 0
	}
	factor := 1 + queryLen/100
	if factor > maxFactor {
		factor = maxFactor
	}
	return baseLimit * factor
}

func digest(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// QuerySignature identifies an effective query within one run.
func QuerySignature(query string) string {
	return digest(query)
}

// ToolCallSignature identifies a batch of tool calls by name and arguments.
// Arguments are JSON-encoded, which sorts map keys, so equal calls always
// produce equal signatures.
func ToolCallSignature(calls []providers.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, tc := range calls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		parts = append(parts, tc.Name+":"+string(args))
	}
	return digest(strings.Join(parts, "|"))
}
