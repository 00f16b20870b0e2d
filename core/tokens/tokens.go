// Package tokens estimates the token cost a context item contributes to a
// packet. The estimate only has to be deterministic and roughly
// proportional to real tokenizer output; the budget check treats it as the
// item's size.
package tokens

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

type Estimator interface {
	// EstimateText returns the estimated token count of raw text.
	EstimateText(text string) int

	// EstimateItem returns the estimated cost of one context item,
	// including its name, signature and summary overhead.
	EstimateItem(item schemapacket.ContextItem) int
}

// HeuristicEstimator approximates token counts without a tokenizer: the
// mean of a character-based estimate (~4 chars per token) and a word-based
// estimate (~1.3 tokens per word). Deterministic and dependency-free, so it
// is the default.
type HeuristicEstimator struct{}

func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{}
}

func (e *HeuristicEstimator) EstimateText(text string) int {
	charCount := len(text)
	wordCount := len(strings.Fields(text))
	if wordCount == 0 {
		return charCount / 4
	}
	charBased := charCount / 4
	wordBased := int(float64(wordCount) * 1.3)
	return (charBased + wordBased) / 2
}

func (e *HeuristicEstimator) EstimateItem(item schemapacket.ContextItem) int {
	return estimateItem(e, item)
}

// TiktokenEstimator counts tokens with a real BPE encoding. Constructing it
// may fetch encoding data, so callers opt in explicitly; the zero default
// for the pipeline is the heuristic estimator.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
	fallback HeuristicEstimator
}

// NewTiktokenEstimator resolves the encoding for a model, falling back to
// cl100k_base for unknown models.
func NewTiktokenEstimator(model string) (*TiktokenEstimator, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenEstimator{encoding: encoding}, nil
}

func (e *TiktokenEstimator) EstimateText(text string) int {
	if e.encoding == nil {
		return e.fallback.EstimateText(text)
	}
	return len(e.encoding.Encode(text, nil, nil))
}

func (e *TiktokenEstimator) EstimateItem(item schemapacket.ContextItem) int {
	return estimateItem(e, item)
}

// Default returns the estimator used when none is injected.
func Default() Estimator {
	return NewHeuristicEstimator()
}

func estimateItem(e Estimator, item schemapacket.ContextItem) int {
	// Name, signature and summary ride along with the content when the
	// packet is rendered for the backend, so they count against the budget.
	total := e.EstimateText(item.Content)
	total += e.EstimateText(item.Name)
	total += e.EstimateText(item.Signature)
	total += e.EstimateText(item.Summary)
	return total
}

var (
	_ Estimator = (*HeuristicEstimator)(nil)
	_ Estimator = (*TiktokenEstimator)(nil)
)
