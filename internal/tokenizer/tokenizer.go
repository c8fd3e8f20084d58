package tokenizer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackCharsPerToken is the deterministic approximation used when no
// exact encoding is available for a model.
const fallbackCharsPerToken = 4

// Counter counts and clips text in model tokens. Encodings are cached
// per model; unknown models fall back to a character-based estimate so
// counting never fails.
type Counter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func (c *Counter) encodingFor(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Cache the miss as nil so we don't retry on every call.
		c.encodings[model] = nil
		return nil
	}
	c.encodings[model] = enc
	return enc
}

// Count returns the token count of text for the given model.
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := c.encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	n := utf8.RuneCountInString(text) / fallbackCharsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// Clip truncates text to at most maxTokens tokens for the given model.
// With an exact encoding the cut is token-level; otherwise the first
// maxTokens*4 runes are kept.
func (c *Counter) Clip(text, model string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if enc := c.encodingFor(model); enc != nil {
		ids := enc.Encode(text, nil, nil)
		if len(ids) <= maxTokens {
			return text
		}
		return enc.Decode(ids[:maxTokens])
	}

	limit := maxTokens * fallbackCharsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
