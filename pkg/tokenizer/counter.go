// Package tokenizer counts prompt tokens ahead of a request so its cost can be
// estimated before the provider reports actual usage.
package tokenizer

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

const (
	charsPerToken = 4
	// messageOverhead covers role and formatting tokens per chat message.
	messageOverhead = 4
	// replyPriming is added once per chat for the assistant reply header.
	replyPriming = 2
)

// encodingPrefixes maps OpenAI model name prefixes to tiktoken encodings.
// Longer prefixes are matched first.
var encodingPrefixes = map[string]tokenizer.Encoding{
	"gpt-4o":        tokenizer.O200kBase,
	"gpt-4.1":       tokenizer.O200kBase,
	"gpt-5":         tokenizer.O200kBase,
	"o1":            tokenizer.O200kBase,
	"o3":            tokenizer.O200kBase,
	"o4":            tokenizer.O200kBase,
	"gpt-4-turbo":   tokenizer.Cl100kBase,
	"gpt-4":         tokenizer.Cl100kBase,
	"gpt-3.5-turbo": tokenizer.Cl100kBase,
}

var sortedPrefixes = func() []string {
	keys := make([]string, 0, len(encodingPrefixes))
	for k := range encodingPrefixes {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int { return len(b) - len(a) })
	return keys
}()

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Counter counts tokens, loading each tiktoken codec at most once.
type Counter struct {
	mu     sync.Mutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter creates a Counter with an empty codec cache.
func NewCounter() *Counter {
	return &Counter{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// Count returns the token count of text for the given provider and model.
// OpenAI models use tiktoken; everything else uses a character estimate.
func (c *Counter) Count(text, provider, model string) (int64, error) {
	if provider != "openai" {
		return estimateTokens(text), nil
	}

	enc, err := c.codec(encodingFor(model))
	if err != nil {
		return 0, err
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}
	return int64(len(ids)), nil
}

// CountChat counts a chat conversation including per-message overhead.
func (c *Counter) CountChat(messages []Message, provider, model string) (int64, error) {
	var total int64
	for _, msg := range messages {
		total += messageOverhead
		for _, part := range []string{msg.Role, msg.Content, msg.Name} {
			if part == "" {
				continue
			}
			n, err := c.Count(part, provider, model)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total + replyPriming, nil
}

func (c *Counter) codec(name tokenizer.Encoding) (tokenizer.Codec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.codecs[name]; ok {
		return enc, nil
	}
	enc, err := tokenizer.Get(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", name, err)
	}
	c.codecs[name] = enc
	return enc, nil
}

// encodingFor falls back to cl100k_base for unknown OpenAI models.
func encodingFor(model string) tokenizer.Encoding {
	for _, prefix := range sortedPrefixes {
		if strings.HasPrefix(model, prefix) {
			return encodingPrefixes[prefix]
		}
	}
	return tokenizer.Cl100kBase
}

func estimateTokens(text string) int64 {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return 0
	}
	return int64((len(text) + charsPerToken - 1) / charsPerToken)
}
