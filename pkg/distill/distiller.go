// Package distill extracts durable candidate facts from a window of
// conversation turns.
//
// Extraction itself is delegated to an external LLM call returning a
// JSON-shaped fact list; this package owns the transcript rendering, the
// response parsing, and the quality filters that decide which candidates
// are admitted. Every failure path fails open: a broken extraction call or
// unparseable response yields zero facts, never an error to the caller.
package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Admission defaults.
const (
	// DefaultMinContentLength is the minimum content length for an
	// admitted fact. Anything shorter carries too little signal.
	DefaultMinContentLength = 15

	// DefaultAdmissionFloor is the minimum salience for an admitted fact.
	DefaultAdmissionFloor = 0.6

	// DefaultMaxTranscriptTurns bounds the conversation window rendered
	// into the extraction transcript.
	DefaultMaxTranscriptTurns = 12
)

// Turn is a single conversation turn.
type Turn struct {
	// Role is the speaker role: "user" or "assistant".
	Role string `json:"role"`

	// Content is the turn's text.
	Content string `json:"content"`
}

// RawFact is a candidate durable fact produced by the extraction service.
//
// The extraction payload is free-form JSON; it is validated into this
// strongly-typed shape at the boundary, and malformed entries are dropped
// there rather than propagated inward.
type RawFact struct {
	// Kind classifies the fact (preference, project, fact, profile).
	Kind storage.Kind `json:"kind"`

	// Content is the factual statement.
	Content string `json:"content"`

	// Tags are short topical labels for the fact.
	Tags []string `json:"tags,omitempty"`

	// Salience is the extraction service's importance estimate in [0, 1].
	Salience float64 `json:"salience"`
}

// NoiseFilter is a caller-supplied secondary filter hook. It returns true
// for content that should be rejected as noise. A nil filter accepts
// everything not caught by the transient check.
type NoiseFilter func(content string) bool

// Distiller turns recent conversation into admitted RawFacts.
type Distiller struct {
	llm            llm.Provider
	customPrompt   string
	maxTurns       int
	minContentLen  int
	admissionFloor float64
	noiseFilter    NoiseFilter
	logger         *log.Logger
}

// Option configures a Distiller.
type Option func(*Distiller)

// WithPrompt overrides the default extraction prompt.
func WithPrompt(prompt string) Option {
	return func(d *Distiller) {
		d.customPrompt = prompt
	}
}

// WithNoiseFilter installs a secondary noise filter.
func WithNoiseFilter(filter NoiseFilter) Option {
	return func(d *Distiller) {
		d.noiseFilter = filter
	}
}

// WithAdmissionFloor overrides the minimum salience for admission.
func WithAdmissionFloor(floor float64) Option {
	return func(d *Distiller) {
		d.admissionFloor = floor
	}
}

// WithMaxTurns overrides the transcript window size.
func WithMaxTurns(n int) Option {
	return func(d *Distiller) {
		d.maxTurns = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Distiller) {
		d.logger = logger
	}
}

// NewDistiller creates a Distiller using the given LLM provider for
// extraction.
func NewDistiller(provider llm.Provider, opts ...Option) *Distiller {
	d := &Distiller{
		llm:            provider,
		maxTurns:       DefaultMaxTranscriptTurns,
		minContentLen:  DefaultMinContentLength,
		admissionFloor: DefaultAdmissionFloor,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DistillFromTurns extracts candidate facts from the last turns of a
// conversation and applies the quality filters.
//
// The process:
//  1. Renders at most the last 12 turns as a role-labeled transcript
//  2. Calls the extraction service with the transcript
//  3. Parses the JSON-shaped fact list
//  4. Admits only facts passing every quality filter
//
// On any call or parse failure it returns an empty list; fact extraction is
// an enhancement, never a hard dependency.
func (d *Distiller) DistillFromTurns(ctx context.Context, turns []Turn) []RawFact {
	transcript := d.renderTranscript(turns)
	if transcript == "" {
		return nil
	}

	messages := []llm.Message{
		{Role: "system", Content: d.systemPrompt()},
		{Role: "user", Content: fmt.Sprintf("Conversation:\n%s", transcript)},
	}

	response, err := d.llm.GenerateWithMessages(ctx, messages)
	if err != nil {
		d.logger.Warn("fact extraction unavailable", "err", err)
		return nil
	}

	candidates, err := parseFactsResponse(response)
	if err != nil {
		d.logger.Warn("fact extraction returned unparseable output", "err", err)
		return nil
	}

	admitted := make([]RawFact, 0, len(candidates))
	for _, fact := range candidates {
		if reason, ok := d.admit(fact); !ok {
			d.logger.Debug("fact rejected", "reason", reason, "content", fact.Content)
			continue
		}
		fact.Kind = normalizeKind(fact.Kind)
		admitted = append(admitted, fact)
	}

	return admitted
}

// admit applies the quality filters. All of them must pass. It returns the
// rejection reason for logging.
func (d *Distiller) admit(fact RawFact) (string, bool) {
	content := strings.TrimSpace(fact.Content)

	// Rune count, not byte length: the extraction prompt preserves the
	// input language, so content is frequently multibyte.
	if utf8.RuneCountInString(content) < d.minContentLen {
		return "too short", false
	}
	if fact.Salience < d.admissionFloor {
		return "below salience floor", false
	}
	if IsTransient(content) {
		return "transient", false
	}
	if d.noiseFilter != nil && d.noiseFilter(content) {
		return "noise", false
	}

	return "", true
}

// renderTranscript renders the last maxTurns turns as a role-labeled
// transcript, skipping system turns and empty content.
func (d *Distiller) renderTranscript(turns []Turn) string {
	if len(turns) > d.maxTurns {
		turns = turns[len(turns)-d.maxTurns:]
	}

	var parts []string
	for _, turn := range turns {
		if turn.Role == "" || turn.Role == "system" || turn.Content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", turn.Role, turn.Content))
	}

	return strings.Join(parts, "\n")
}

// systemPrompt returns the extraction prompt.
func (d *Distiller) systemPrompt() string {
	if d.customPrompt != "" {
		return d.customPrompt
	}

	today := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`You are a Personal Information Organizer. Extract durable facts about the user from the conversation: preferences, personal details, projects, profile information.

Rules:
- Today: %s
- Return JSON: {"facts": [{"kind": "preference|project|fact|profile", "content": "...", "tags": ["..."], "salience": 0.0-1.0}]}
- content must be a complete, self-contained statement about the user
- salience reflects how useful the fact is for future conversations (1.0 = core identity, 0.0 = throwaway)
- Extract only durable knowledge. Skip requests, questions, and anything tied to the immediate moment
- If no durable facts, return {"facts": []}
- Preserve input language

Examples:
Input: user: Hi.
Output: {"facts": []}

Input: user: I'm a structural engineer in Seattle and I mostly work in Rust these days.
Output: {"facts": [{"kind": "profile", "content": "Works as a structural engineer in Seattle", "tags": ["career"], "salience": 0.85}, {"kind": "preference", "content": "Mostly programs in Rust", "tags": ["programming"], "salience": 0.7}]}

Input: user: Can you help me fix this bug today?
Output: {"facts": []}`, today)
}

// parseFactsResponse parses the extraction response into raw facts.
func parseFactsResponse(response string) ([]RawFact, error) {
	response = removeCodeBlocks(response)

	var result struct {
		Facts []RawFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	return result.Facts, nil
}

// removeCodeBlocks removes code fences (```json ... ```) from the response.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}

// normalizeKind maps unknown kinds to the generic fact kind.
func normalizeKind(kind storage.Kind) storage.Kind {
	switch kind {
	case storage.KindPreference, storage.KindProject, storage.KindFact, storage.KindProfile:
		return kind
	default:
		return storage.KindFact
	}
}
