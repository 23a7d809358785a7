package handlers

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// TokenCounter estimates prompt sizes. The encoding is loaded on first use;
// if it cannot be loaded every count is zero. A nil counter counts nothing.
type TokenCounter struct {
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTokenCounter(logger *slog.Logger) *TokenCounter {
	return &TokenCounter{logger: logger}
}

func (c *TokenCounter) Count(text string) int {
	if c == nil {
		return 0
	}

	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			c.logger.Error("Failed to get tiktoken encoding", "error", err)
			return
		}
		c.enc = enc
	})

	if c.enc == nil {
		return 0
	}

	return len(c.enc.Encode(text, nil, nil))
}
