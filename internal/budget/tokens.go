package budget

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for a given model's encoding. The
// Agent Actor pre-flight-checks each assembled prompt against the tracker's
// remaining token budget before issuing the `llm.request`: the provider
// only reports usage after a call returns, too late to avoid overspending.
// A nil counter is valid; Count falls back to a bytes/4 heuristic.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter returns a counter for model, falling back to the
// cl100k_base encoding when the model isn't recognized by tiktoken.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("budget: get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()
	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count of text under this counter's encoding.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return len(text) / 4
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Model returns the model name this counter was built for.
func (tc *TokenCounter) Model() string { return tc.model }
