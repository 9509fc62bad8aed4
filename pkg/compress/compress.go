// Package compress reduces a selection of memories to a bounded text block
// suitable for inclusion in a downstream generation prompt.
//
// Content within budget passes through untouched; oversized content is
// delegated to an external Summarizer. Either way the result is wrapped in
// a labeled memory block, and an empty selection yields an empty string,
// which callers must treat as "omit memory context entirely".
package compress

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/recallhq/recall-go/pkg/storage"
)

// DefaultBudgetChars is the default character budget for the memory block
// body.
const DefaultBudgetChars = 1000

// Summarizer reduces text to at most budgetChars characters. It is an
// external collaborator; failures degrade the output, they never propagate.
type Summarizer interface {
	Summarize(ctx context.Context, text string, budgetChars int) (string, error)
}

// Compressor assembles the final memory block from selected memories.
type Compressor struct {
	summarizer  Summarizer
	budgetChars int
	logger      *log.Logger
}

// NewCompressor creates a Compressor.
//
// budgetChars <= 0 falls back to DefaultBudgetChars. A nil summarizer is
// allowed; oversized content is then truncated instead of summarized. A nil
// logger falls back to log.Default().
func NewCompressor(summarizer Summarizer, budgetChars int, logger *log.Logger) *Compressor {
	if budgetChars <= 0 {
		budgetChars = DefaultBudgetChars
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Compressor{
		summarizer:  summarizer,
		budgetChars: budgetChars,
		logger:      logger,
	}
}

// Compress joins the selected memories' content (newline-joined, selection
// order preserved), reduces it to the character budget when necessary, and
// wraps the result in the memory block format.
//
// An empty selection returns an empty string without consulting the
// summarizer. A summarizer failure degrades to plain truncation.
func (c *Compressor) Compress(ctx context.Context, selected []*storage.Memory) string {
	if len(selected) == 0 {
		return ""
	}

	lines := make([]string, 0, len(selected))
	for _, memory := range selected {
		if memory.Content == "" {
			continue
		}
		lines = append(lines, memory.Content)
	}
	if len(lines) == 0 {
		return ""
	}

	body := strings.Join(lines, "\n")

	if utf8.RuneCountInString(body) > c.budgetChars {
		body = c.reduce(ctx, body)
	}

	return wrapBlock(body)
}

// reduce brings body under the budget, via the summarizer when available.
func (c *Compressor) reduce(ctx context.Context, body string) string {
	if c.summarizer != nil {
		summary, err := c.summarizer.Summarize(ctx, body, c.budgetChars)
		if err == nil && summary != "" {
			body = summary
		} else if err != nil {
			c.logger.Warn("summarizer unavailable, truncating memory block", "err", err)
		}
	}

	// The summarizer contract says the result fits the budget; clamp in
	// case it does not, and for the no-summarizer path.
	return TruncateRunes(body, c.budgetChars)
}

// TruncateRunes truncates s to at most n characters. The budget counts
// runes, not bytes, so multibyte content is never cut mid-rune.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// wrapBlock wraps the body in the caller-facing memory block format.
func wrapBlock(body string) string {
	var b strings.Builder
	b.WriteString("<user_memory>\n")
	b.WriteString(body)
	b.WriteString("\n</user_memory>")
	return b.String()
}
