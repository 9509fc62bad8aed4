package engine

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/recallhq/recall-go/pkg/compress"
	"github.com/recallhq/recall-go/pkg/distill"
	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Option configures an Engine at construction time.
//
// Options override whatever the config would otherwise build: injecting a
// store, embedder, or LLM provider skips the corresponding config-driven
// initialization entirely. This is also how tests supply fakes.
type Option func(*Engine)

// WithStore injects a memory store, bypassing config-driven store
// initialization.
func WithStore(store storage.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithEmbedder injects an embedding provider.
func WithEmbedder(provider embedder.Provider) Option {
	return func(e *Engine) {
		e.embedder = provider
	}
}

// WithLLM injects an LLM provider, used for both fact extraction and
// summarization unless WithSummarizer overrides the latter.
func WithLLM(provider llm.Provider) Option {
	return func(e *Engine) {
		e.llm = provider
	}
}

// WithSummarizer injects the summarization collaborator.
func WithSummarizer(summarizer compress.Summarizer) Option {
	return func(e *Engine) {
		e.summarizer = summarizer
	}
}

// WithLogger sets the engine's logger. Defaults to log.Default().
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithNoiseFilter installs a secondary noise filter on the fact distiller.
func WithNoiseFilter(filter distill.NoiseFilter) Option {
	return func(e *Engine) {
		e.noiseFilter = filter
	}
}

// WithExtractionPrompt overrides the default fact extraction prompt.
func WithExtractionPrompt(prompt string) Option {
	return func(e *Engine) {
		e.extractionPrompt = prompt
	}
}

// WithEmbeddingCacheTTL sets the TTL for cached query embeddings.
// Defaults to 5 minutes.
func WithEmbeddingCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = ttl
	}
}

// WithoutEmbeddingCache disables the query embedding cache.
func WithoutEmbeddingCache() Option {
	return func(e *Engine) {
		e.cacheDisabled = true
	}
}
