// internal/snapshot/budget.go
package snapshot

import (
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// charsPerToken approximates token count when no tokenizer is available.
const charsPerToken = 4

// Budget truncates text to a token allowance.
type Budget interface {
	// Truncate returns s cut to at most max tokens and whether it was cut.
	Truncate(s string, max int) (string, bool)
}

// NewBudget loads the named tiktoken encoding, falling back to a character
// budget when the encoding is empty or cannot be loaded.
func NewBudget(encoding string, logger *zap.Logger) Budget {
	if encoding == "" {
		return CharBudget{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		if logger != nil {
			logger.Warn("Tokenizer unavailable, using character budget.", zap.String("encoding", encoding), zap.Error(err))
		}
		return CharBudget{}
	}
	return &tokenBudget{enc: enc}
}

type tokenBudget struct {
	enc *tiktoken.Tiktoken
}

func (b *tokenBudget) Truncate(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	tokens := b.enc.Encode(s, nil, nil)
	if len(tokens) <= max {
		return s, false
	}
	return b.enc.Decode(tokens[:max]), true
}

// CharBudget treats every charsPerToken runes as one token.
type CharBudget struct{}

func (CharBudget) Truncate(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	cut := truncateRunes(s, max*charsPerToken)
	return cut, len(cut) < len(s)
}
