package compress

import (
	"context"
	"fmt"

	"github.com/recallhq/recall-go/pkg/llm"
)

// LLMSummarizer implements Summarizer on top of an llm.Provider.
type LLMSummarizer struct {
	llm llm.Provider
}

// NewLLMSummarizer creates a Summarizer backed by the given LLM provider.
func NewLLMSummarizer(provider llm.Provider) *LLMSummarizer {
	return &LLMSummarizer{llm: provider}
}

// Summarize condenses text to at most budgetChars characters.
//
// The prompt asks for a compact restatement that keeps every distinct fact;
// the output is clamped to the budget in case the model overruns it.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string, budgetChars int) (string, error) {
	prompt := fmt.Sprintf(`Condense the following list of facts about a user into at most %d characters.
Keep every distinct fact; drop wording, not information. One fact per line.
Output only the condensed facts, no preamble.

%s`, budgetChars, text)

	summary, err := s.llm.Generate(ctx, prompt, llm.WithMaxTokens(budgetChars/2))
	if err != nil {
		return "", err
	}

	return TruncateRunes(summary, budgetChars), nil
}
