// Package tokens estimates how many tokens a piece of text costs a model.
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// Counter is what history compaction budgets against.
type Counter interface {
	Estimate(text string) int
}

const (
	defaultCharsPerToken = 4.0
	smoothingFactor      = 0.3
	minCharsPerToken     = 1.5
	maxCharsPerToken     = 8.0
)

// family ratios are runes per token for typical English + code input.
var familyRatios = []struct {
	prefixes []string
	ratio    float64
}{
	{[]string{"claude"}, 3.5},
	{[]string{"gpt", "o1", "o3", "o4", "chatgpt"}, 4.0},
	{[]string{"gemini", "gemma"}, 4.0},
	{[]string{"qwen"}, 3.3},
	{[]string{"llama", "mixtral", "mistral", "deepseek"}, 3.8},
}

// Family returns the ratio family a model name belongs to, or "" when the
// model is unknown. Vendor prefixes such as "anthropic/" are ignored.
func Family(model string) string {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, f := range familyRatios {
		for _, p := range f.prefixes {
			if strings.HasPrefix(m, p) {
				return f.prefixes[0]
			}
		}
	}
	return ""
}

func ratioFor(model string) float64 {
	fam := Family(model)
	for _, f := range familyRatios {
		if f.prefixes[0] == fam {
			return f.ratio
		}
	}
	return defaultCharsPerToken
}

// Approximator is a chars-per-token estimator that can be calibrated with
// real usage numbers reported by the provider.
type Approximator struct {
	mu            sync.RWMutex
	model         string
	charsPerToken float64
	observations  int
}

func NewApproximator(model string) *Approximator {
	return &Approximator{model: model, charsPerToken: ratioFor(model)}
}

// Estimate rounds up, so any non-empty text costs at least one token.
// Runes are counted instead of bytes so CJK text is not over-counted.
func (a *Approximator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	a.mu.RLock()
	ratio := a.charsPerToken
	a.mu.RUnlock()

	n := float64(utf8.RuneCountInString(text)) / ratio
	tokens := int(n)
	if float64(tokens) < n {
		tokens++
	}
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// RecordUsage folds an observed (chars, tokens) pair into the ratio. The
// first observation replaces the family default; later ones are blended.
func (a *Approximator) RecordUsage(chars, actualTokens int) {
	if chars <= 0 || actualTokens <= 0 {
		return
	}
	observed := float64(chars) / float64(actualTokens)
	if observed < minCharsPerToken {
		observed = minCharsPerToken
	} else if observed > maxCharsPerToken {
		observed = maxCharsPerToken
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.observations++
	if a.observations == 1 {
		a.charsPerToken = observed
		return
	}
	a.charsPerToken = smoothingFactor*observed + (1-smoothingFactor)*a.charsPerToken
}

func (a *Approximator) CharsPerToken() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.charsPerToken
}

func (a *Approximator) Model() string { return a.model }
