package agent

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text in model tokens.
type TokenCounter func(text string) int

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens counts cl100k tokens. The encoding is loaded on first use;
// if it cannot be loaded, a four-bytes-per-token estimate is used instead.
func CountTokens(text string) int {
	encOnce.Do(func() {
		var err error
		enc, err = tiktoken.EncodingForModel("gpt-3.5-turbo")
		if err != nil {
			slog.Warn("tiktoken unavailable, estimating token counts", "err", err)
		}
	})
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// fitBudget keeps the leading passages whose combined size stays within
// budget tokens. The first passage is always kept.
func fitBudget(passages []string, budget int, count TokenCounter) int {
	if budget <= 0 || len(passages) == 0 {
		return len(passages)
	}
	used := 0
	for i, p := range passages {
		used += count(p)
		if used > budget && i > 0 {
			return i
		}
	}
	return len(passages)
}
