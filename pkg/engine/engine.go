package engine

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto"
	"github.com/recallhq/recall-go/pkg/compress"
	"github.com/recallhq/recall-go/pkg/distill"
	"github.com/recallhq/recall-go/pkg/embedder"
	openaiEmbedder "github.com/recallhq/recall-go/pkg/embedder/openai"
	"github.com/recallhq/recall-go/pkg/llm"
	openaiLLM "github.com/recallhq/recall-go/pkg/llm/openai"
	"github.com/recallhq/recall-go/pkg/rank"
	"github.com/recallhq/recall-go/pkg/storage"
	mysqlStore "github.com/recallhq/recall-go/pkg/storage/mysql"
	postgresStore "github.com/recallhq/recall-go/pkg/storage/postgres"
	sqliteStore "github.com/recallhq/recall-go/pkg/storage/sqlite"
)

// bumpTimeout bounds the detached salience write-back so an unresponsive
// store cannot leak goroutines.
const bumpTimeout = 5 * time.Second

// defaultCacheTTL is how long a query embedding stays cached.
const defaultCacheTTL = 5 * time.Minute

// Engine is the semantic memory consolidation engine.
//
// The read path ranks a user's stored memories against a query, selects a
// diverse subset via MMR, and compresses the selection into a bounded text
// block; the write path distills durable facts out of recent conversation
// and admits them into the store.
//
// Every external collaborator (embedding, extraction, summarization, the
// store) is treated as best-effort: failures degrade the result to empty
// output, they are never surfaced as errors. The only errors the engine
// raises are caller-contract violations such as an empty owner.
//
// The engine is safe for concurrent use. Retrieval is read-mostly and
// idempotent; the store serializes concurrent upserts per dedup key.
//
// Example:
//
//	config, _ := engine.LoadConfigFromEnv()
//	eng, _ := engine.New(config)
//	defer eng.Close()
//
//	block, _ := eng.BuildContext(ctx, "user_001", "What music do I like?")
type Engine struct {
	config *Config

	store      storage.Store
	embedder   embedder.Provider
	llm        llm.Provider
	summarizer compress.Summarizer

	ranker     *rank.Ranker
	compressor *compress.Compressor
	distiller  *distill.Distiller

	// embedCache holds recent query embeddings so bursts of retrievals for
	// the same query do not re-pay the embedding call. Owned by the engine,
	// TTL-evicted; never ambient module state.
	embedCache    *ristretto.Cache
	cacheTTL      time.Duration
	cacheDisabled bool

	noiseFilter      distill.NoiseFilter
	extractionPrompt string

	// node generates memory IDs for the insert case of upserts.
	node *snowflake.Node

	logger *log.Logger

	// wg tracks detached salience write-backs so Close can drain them.
	wg sync.WaitGroup
}

// New creates a consolidation engine from the given configuration.
//
// Collaborators not injected via options are built from the config:
// the store from cfg.Store, the embedder from cfg.Embedder, the LLM from
// cfg.LLM, and the summarizer from the LLM provider.
//
// Parameters:
//   - cfg: Engine configuration
//   - opts: Optional overrides (WithStore, WithEmbedder, WithLLM, ...)
//
// Returns a new Engine, or an error if initialization fails.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Retrieval.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config:   cfg,
		cacheTTL: defaultCacheTTL,
		logger:   log.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		store, err := initStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	if e.embedder == nil {
		provider, err := initEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
		e.embedder = provider
	}

	if e.llm == nil {
		provider, err := initLLM(cfg.LLM)
		if err != nil {
			return nil, err
		}
		e.llm = provider
	}

	if e.summarizer == nil {
		e.summarizer = compress.NewLLMSummarizer(e.llm)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewEngineError("New", err)
	}
	e.node = node

	e.ranker = rank.NewRanker(rank.Params{
		RelevanceFloor: cfg.Retrieval.RelevanceFloor,
		PoolSize:       cfg.Retrieval.PoolSize,
		K:              cfg.Retrieval.MMRK,
		Lambda:         cfg.Retrieval.Lambda,
	}, e.logger)

	e.compressor = compress.NewCompressor(e.summarizer, cfg.Retrieval.BudgetChars, e.logger)

	distillOpts := []distill.Option{
		distill.WithAdmissionFloor(cfg.Retrieval.AdmissionFloor),
		distill.WithMaxTurns(cfg.Retrieval.MaxTranscriptTurns),
		distill.WithLogger(e.logger),
	}
	if e.noiseFilter != nil {
		distillOpts = append(distillOpts, distill.WithNoiseFilter(e.noiseFilter))
	}
	if e.extractionPrompt != "" {
		distillOpts = append(distillOpts, distill.WithPrompt(e.extractionPrompt))
	}
	e.distiller = distill.NewDistiller(e.llm, distillOpts...)

	if !e.cacheDisabled {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1 << 14,
			MaxCost:     1 << 24,
			BufferItems: 64,
		})
		if err != nil {
			return nil, NewEngineError("New", err)
		}
		e.embedCache = cache
	}

	return e, nil
}

// BuildContext retrieves the most relevant, non-redundant memories for
// owner against queryText and returns them as a compressed memory block.
//
// The pipeline: embed the query, fetch active memories, score, filter by
// the relevance floor, cap the pool, rerank via MMR, compress. After the
// result is assembled, the salience of every selected memory is bumped in
// a detached goroutine that never blocks or fails the caller.
//
// An empty return means "no relevant memory"; callers omit the memory
// context entirely. Collaborator failures degrade to the empty return.
// An empty owner is a caller bug and returns ErrInvalidInput.
func (e *Engine) BuildContext(ctx context.Context, owner, queryText string) (string, error) {
	if owner == "" {
		return "", NewEngineError("BuildContext", ErrInvalidInput)
	}
	if queryText == "" {
		return "", nil
	}

	queryVector := e.embedQuery(ctx, queryText)
	if len(queryVector) == 0 {
		return "", nil
	}

	memories, err := e.store.FindActive(ctx, owner)
	if err != nil {
		e.logger.Warn("memory fetch unavailable", "owner", owner, "err", err)
		return "", nil
	}
	if len(memories) == 0 {
		return "", nil
	}

	scored := e.ranker.Score(memories, queryVector)
	pool := e.ranker.TakeTop(e.ranker.FilterFloor(scored))
	if len(pool) == 0 {
		return "", nil
	}

	selected := e.ranker.Rerank(pool)

	selectedMemories := make([]*storage.Memory, len(selected))
	ids := make([]int64, len(selected))
	for i, s := range selected {
		selectedMemories[i] = s.Memory
		ids[i] = s.Memory.ID
	}

	block := e.compressor.Compress(ctx, selectedMemories)

	if block != "" {
		e.bumpSalienceDetached(ids)
	}

	return block, nil
}

// SearchMemories is a direct-search entry point using relevance scoring
// only: no MMR, no compression, no relevance floor.
//
// Returns up to limit memories paired with their query similarity, sorted
// descending. Collaborator failures yield an empty result.
func (e *Engine) SearchMemories(ctx context.Context, owner, queryText string, limit int) ([]rank.Scored, error) {
	if owner == "" {
		return nil, NewEngineError("SearchMemories", ErrInvalidInput)
	}

	queryVector := e.embedQuery(ctx, queryText)
	if len(queryVector) == 0 {
		return nil, nil
	}

	memories, err := e.store.FindActive(ctx, owner)
	if err != nil {
		e.logger.Warn("memory fetch unavailable", "owner", owner, "err", err)
		return nil, nil
	}

	scored := e.ranker.Score(memories, queryVector)
	return rank.SortBySimilarity(scored, limit), nil
}

// MaybeAutoDistill extracts durable facts from recent conversation turns
// and admits them into the store.
//
// Distillation only triggers when the conversation has at least the
// configured minimum number of turns (default 4); below that there isn't
// enough signal to extract a durable fact reliably. Each admitted fact is
// embedded and upserted on the (owner, content) dedup key; facts whose
// embedding call fails are dropped individually.
//
// Returns the number of facts stored. An empty owner returns
// ErrInvalidInput.
func (e *Engine) MaybeAutoDistill(ctx context.Context, owner, conversationID string, recentTurns []distill.Turn) (int, error) {
	if owner == "" {
		return 0, NewEngineError("MaybeAutoDistill", ErrInvalidInput)
	}
	if len(recentTurns) < e.config.Retrieval.MinTurnsForDistill {
		return 0, nil
	}

	facts := e.distiller.DistillFromTurns(ctx, recentTurns)
	if len(facts) == 0 {
		return 0, nil
	}

	now := time.Now()
	stored := 0
	for _, fact := range facts {
		vector, err := e.embedder.Embed(ctx, fact.Content)
		if err != nil || len(vector) == 0 {
			e.logger.Debug("dropping fact, embedding unavailable", "content", fact.Content, "err", err)
			continue
		}

		memory := &storage.Memory{
			ID:        e.node.Generate().Int64(),
			Owner:     owner,
			Content:   fact.Content,
			Kind:      fact.Kind,
			Tags:      fact.Tags,
			Embedding: vector,
			Salience:  fact.Salience,
			Source: storage.Source{
				Origin:      "conversation",
				Reference:   conversationID,
				ExtractedAt: now,
			},
		}

		if _, err := e.store.Upsert(ctx, memory); err != nil {
			e.logger.Warn("fact upsert failed", "owner", owner, "err", err)
			continue
		}
		stored++
	}

	return stored, nil
}

// ClearUserMemories bulk-removes every memory owned by owner and returns
// the number of records deleted. Administrative reset; not part of the
// retrieval hot path.
func (e *Engine) ClearUserMemories(ctx context.Context, owner string) (int64, error) {
	if owner == "" {
		return 0, NewEngineError("ClearUserMemories", ErrInvalidInput)
	}

	deleted, err := e.store.DeleteAllFor(ctx, owner)
	if err != nil {
		return 0, NewEngineError("ClearUserMemories", err)
	}

	return deleted, nil
}

// Wait blocks until all detached salience write-backs have finished.
// Useful before shutdown and in tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close drains pending write-backs and releases all resources.
func (e *Engine) Close() error {
	e.Wait()

	if e.embedCache != nil {
		e.embedCache.Close()
	}

	var errs []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.llm != nil {
		if err := e.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// embedQuery embeds queryText, consulting the TTL cache first. A failed or
// empty embedding returns nil; retrieval then degrades to no context.
func (e *Engine) embedQuery(ctx context.Context, queryText string) []float64 {
	if e.embedCache != nil {
		if cached, ok := e.embedCache.Get(queryText); ok {
			if vector, ok := cached.([]float64); ok {
				return vector
			}
		}
	}

	vector, err := e.embedder.Embed(ctx, queryText)
	if err != nil || len(vector) == 0 {
		e.logger.Warn("query embedding unavailable", "err", err)
		return nil
	}

	if e.embedCache != nil {
		e.embedCache.SetWithTTL(queryText, vector, int64(len(vector)*8), e.cacheTTL)
	}

	return vector
}

// bumpSalienceDetached bumps the salience of the used memories in a
// detached goroutine. The write-back is decoupled from the read path's
// result: it runs under its own timeout and its failure is only logged.
func (e *Engine) bumpSalienceDetached(ids []int64) {
	delta := e.config.Retrieval.SalienceBump

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), bumpTimeout)
		defer cancel()

		if err := e.store.BumpSalience(ctx, ids, delta); err != nil {
			e.logger.Warn("salience bump failed", "count", len(ids), "err", err)
		}
	}()
}

// initStore initializes the store backend from config.
func initStore(cfg StoreConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:    stringValue(cfg.Config, "db_path"),
			TableName: stringValue(cfg.Config, "table_name"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:      stringValue(cfg.Config, "host"),
			Port:      intValue(cfg.Config, "port"),
			User:      stringValue(cfg.Config, "user"),
			Password:  stringValue(cfg.Config, "password"),
			DBName:    stringValue(cfg.Config, "db_name"),
			TableName: stringValue(cfg.Config, "table_name"),
			SSLMode:   stringValue(cfg.Config, "ssl_mode"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:      stringValue(cfg.Config, "host"),
			Port:      intValue(cfg.Config, "port"),
			User:      stringValue(cfg.Config, "user"),
			Password:  stringValue(cfg.Config, "password"),
			DBName:    stringValue(cfg.Config, "db_name"),
			TableName: stringValue(cfg.Config, "table_name"),
		})
	default:
		return nil, NewEngineError("initStore", ErrInvalidConfig)
	}
}

// initLLM initializes the LLM provider from config.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewEngineError("initLLM", ErrInvalidConfig)
	}
}

// initEmbedder initializes the embedder provider from config.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, NewEngineError("initEmbedder", ErrInvalidConfig)
	}
}

// stringValue reads a string out of a provider config map.
func stringValue(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// intValue reads an int out of a provider config map. JSON decoding yields
// float64 for numbers, so both shapes are accepted.
func intValue(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
