// Package tokens provides per-tokenizer-family token estimation. Counts are
// estimates for budget fitting, not authoritative vendor tokenizations; the
// contract allows roughly 15% error either way.
package tokens

import (
	"github.com/tiktoken-go/tokenizer"

	"llmbroker/pkg/config"
)

// Characters-per-token divisors for families without a local tokenizer.
// Tunable calibration constants; never used for hard overflow prevention
// (the provider's own rejection is the backstop).
const (
	DivisorClaude = 4
	DivisorGemini = 4
	DivisorLlama  = 4

	// perMessageOverhead accounts for role markers and separators vendors
	// add around each message.
	perMessageOverhead = 4
)

// Estimator counts tokens for one tokenizer family. cl100k uses a real BPE
// codec; everything else uses a character divisor.
type Estimator struct {
	codec   tokenizer.Codec
	divisor int
}

// NewEstimator creates an estimator for a tokenizer family from the model
// table (config.TokenizerCL100K etc). Unknown families estimate like llama.
func NewEstimator(tokenizerClass string) *Estimator {
	switch tokenizerClass {
	case config.TokenizerCL100K:
		// Codec construction only fails for unknown model ids; GPT4 is known.
		codec, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			return &Estimator{codec: codec}
		}
		return &Estimator{divisor: DivisorLlama}
	case config.TokenizerClaude:
		return &Estimator{divisor: DivisorClaude}
	case config.TokenizerGemini:
		return &Estimator{divisor: DivisorGemini}
	default:
		return &Estimator{divisor: DivisorLlama}
	}
}

// Count estimates the token footprint of a text.
func (e *Estimator) Count(text string) int {
	if e.codec != nil {
		if count, err := e.codec.Count(text); err == nil {
			return count
		}
	}
	divisor := e.divisor
	if divisor <= 0 {
		divisor = DivisorLlama
	}
	return len(text) / divisor
}

// CountWithOverhead estimates one message's footprint including the framing
// vendors add around it.
func (e *Estimator) CountWithOverhead(text string) int {
	return e.Count(text) + perMessageOverhead
}

// FitsWithin reports whether text estimates at or under limit.
func (e *Estimator) FitsWithin(text string, limit int) bool {
	return e.Count(text) <= limit
}
