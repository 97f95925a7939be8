// Package tokens provides token counting for story text. Counts are advisory:
// they drive chapter detection and context sizing, not billing, so a fast
// estimate is acceptable when the exact tokenizer is unavailable.
package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts model tokens in text.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a real BPE encoding. The encoding is
// initialized lazily because tiktoken may download its data on first use;
// until it is ready (or if init fails) counts fall back to the estimator.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	fallback Estimator
}

// NewTiktokenCounter creates a counter for the given encoding.
// Empty encoding defaults to cl100k_base.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

func (c *TiktokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Count returns the token count for text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := c.init(); err != nil {
		return c.fallback.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimator is a zero-dependency counter using the common ~4 chars/token
// heuristic for English prose. Always available, never errors.
type Estimator struct{}

// Count estimates the token count for text.
func (Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	count := n / 4
	if n%4 != 0 {
		count++
	}
	return count
}
