// Package tokens estimates the size of text payloads in model tokens.
//
// Estimates drive every budgeting decision in mnemo (context windows, fact
// store ceilings) but are never required to be exact. Implementations must be
// deterministic; the character heuristic is also monotonic in input length.
package tokens

import (
	"fmt"
	"unicode/utf8"
)

const (
	// ProviderChars selects the character heuristic.
	ProviderChars = "chars"

	// ProviderTiktoken selects the BPE tokenizer.
	ProviderTiktoken = "tiktoken"

	// DefaultCharsPerToken is the divisor used by the character heuristic.
	DefaultCharsPerToken = 4
)

// Estimator converts a text payload to an estimated token count.
type Estimator interface {
	Estimate(text string) int
}

// Chars estimates tokens as ceil(runes / CharsPerToken).
type Chars struct {
	CharsPerToken int
}

// NewChars returns the default character heuristic.
func NewChars() Chars {
	return Chars{CharsPerToken: DefaultCharsPerToken}
}

// Estimate implements Estimator.
func (c Chars) Estimate(text string) int {
	per := c.CharsPerToken
	if per <= 0 {
		per = DefaultCharsPerToken
	}

	n := utf8.RuneCountInString(text)
	return (n + per - 1) / per
}

// EstimateAll sums the estimate of every text.
func EstimateAll(e Estimator, texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.Estimate(t)
	}
	return total
}

// New returns the estimator for the named provider. An empty provider selects
// the character heuristic.
func New(provider, encoding string) (Estimator, error) {
	switch provider {
	case "", ProviderChars:
		return NewChars(), nil
	case ProviderTiktoken:
		return NewTiktoken(encoding)
	default:
		return nil, fmt.Errorf("unknown tokenizer provider: %q (available: %s, %s)", provider, ProviderChars, ProviderTiktoken)
	}
}
