package retrieval

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/types"
)

// defaultContextTokens bounds assembled context bundles when the
// caller does not pass an explicit budget.
const defaultContextTokens = 4000

// TokenCounter counts tokens for context budgeting.
type TokenCounter interface {
	Count(text string) int
}

// tiktokenCounter counts with a tiktoken encoding, falling back to a
// len/4 estimate when the encoding is unavailable (e.g. offline).
type tiktokenCounter struct {
	enc    *tiktoken.Tiktoken
	logger *zap.Logger
}

// NewTokenCounter creates a counter for the given model ("" selects
// cl100k_base). It never fails: without an encoding it estimates.
func NewTokenCounter(model string, logger *zap.Logger) TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	var enc *tiktoken.Tiktoken
	var err error
	if model == "" {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	} else {
		enc, err = tiktoken.EncodingForModel(model)
	}
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, using character estimate",
			zap.String("model", model),
			zap.Error(err),
		)
		enc = nil
	}
	return &tiktokenCounter{enc: enc, logger: logger}
}

func (c *tiktokenCounter) Count(text string) int {
	if c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// BuildContext joins documents into a single context bundle bounded by
// maxTokens (0 uses the default budget). Documents are included in
// ranked order until the budget is spent.
func (e *Engine) BuildContext(docs []types.Document, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = defaultContextTokens
	}

	var parts []string
	used := 0
	for _, doc := range docs {
		part := doc.Content()
		cost := e.counter.Count(part)
		if used+cost > maxTokens {
			break
		}
		parts = append(parts, part)
		used += cost
	}
	return strings.Join(parts, "\n\n---\n\n")
}
