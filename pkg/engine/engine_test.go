package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/distill"
	"github.com/recallhq/recall-go/pkg/engine"
	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/storage/sqlite"
)

// fakeEmbedder returns canned vectors keyed by exact input text. Unknown
// inputs get a fixed filler vector so distilled facts always embed.
type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if vector, ok := f.vectors[text]; ok {
		return vector, nil
	}
	return []float64{0.05, 0.05, 0.05}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))
	for _, text := range texts {
		vector, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Close() error    { return nil }

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeLLM) Close() error { return nil }

func setupStore(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "engine_test.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func setupEngine(t *testing.T, store storage.Store, emb *fakeEmbedder, provider *fakeLLM, retrieval engine.RetrievalConfig) *engine.Engine {
	t.Helper()

	eng, err := engine.New(
		&engine.Config{Retrieval: retrieval},
		engine.WithStore(store),
		engine.WithEmbedder(emb),
		engine.WithLLM(provider),
		engine.WithoutEmbeddingCache(),
	)
	require.NoError(t, err)

	// Cleanups run last-in-first-out, so the write-backs drain before the
	// store's own cleanup closes the database.
	t.Cleanup(eng.Wait)

	return eng
}

func seed(t *testing.T, store storage.Store, id int64, owner, content string, embedding []float64, salience float64) {
	t.Helper()

	_, err := store.Upsert(context.Background(), &storage.Memory{
		ID:        id,
		Owner:     owner,
		Content:   content,
		Kind:      storage.KindFact,
		Embedding: embedding,
		Salience:  salience,
	})
	require.NoError(t, err)
}

func TestNew_InvalidRetrievalConfig(t *testing.T) {
	_, err := engine.New(&engine.Config{
		Retrieval: engine.RetrievalConfig{Lambda: 2},
	})
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestBuildContext_EmptyOwner(t *testing.T) {
	eng := setupEngine(t, setupStore(t), &fakeEmbedder{}, &fakeLLM{}, engine.RetrievalConfig{})

	_, err := eng.BuildContext(context.Background(), "", "What do I like?")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestBuildContext_EmptyQuery(t *testing.T) {
	eng := setupEngine(t, setupStore(t), &fakeEmbedder{}, &fakeLLM{}, engine.RetrievalConfig{})

	block, err := eng.BuildContext(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, "", block)
}

func TestBuildContext_EmbedderFailureFailsOpen(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 1, "user-1", "Likes jazz", []float64{1, 0, 0}, 0.7)

	eng := setupEngine(t, store, &fakeEmbedder{err: errors.New("embedding service down")}, &fakeLLM{}, engine.RetrievalConfig{})

	block, err := eng.BuildContext(context.Background(), "user-1", "What do I like?")
	require.NoError(t, err)
	assert.Equal(t, "", block)
}

func TestBuildContext_NoMemories(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"What do I like?": {1, 0, 0},
	}}
	eng := setupEngine(t, setupStore(t), emb, &fakeLLM{}, engine.RetrievalConfig{})

	block, err := eng.BuildContext(context.Background(), "user-1", "What do I like?")
	require.NoError(t, err)
	assert.Equal(t, "", block)
}

func TestBuildContext_SelectsDiverseMemories(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 1, "user-1", "Likes jazz", []float64{0.81, 0.58643, 0}, 0.7)
	seed(t, store, 2, "user-1", "Enjoys jazz concerts", []float64{0.79, 0.61311, 0}, 0.7)
	seed(t, store, 3, "user-1", "Works as a nurse", []float64{0.40, -0.55250, 0.73126}, 0.7)
	seed(t, store, 4, "user-1", "Dislikes loud venues", []float64{-1, 0, 0}, 0.7)

	emb := &fakeEmbedder{vectors: map[string][]float64{
		"What music do I like?": {1, 0, 0},
	}}
	eng := setupEngine(t, store, emb, &fakeLLM{}, engine.RetrievalConfig{MMRK: 2})

	block, err := eng.BuildContext(context.Background(), "user-1", "What music do I like?")
	require.NoError(t, err)

	assert.Contains(t, block, "<user_memory>")
	assert.Contains(t, block, "Likes jazz")
	assert.Contains(t, block, "Works as a nurse", "second slot goes to the diverse memory")
	assert.NotContains(t, block, "Enjoys jazz concerts", "near-duplicate is penalized away")
	assert.NotContains(t, block, "Dislikes loud venues", "below the relevance floor")
}

func TestBuildContext_BumpsSalienceOfUsedMemories(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 1, "user-1", "Likes jazz", []float64{0.81, 0.58643, 0}, 0.7)
	seed(t, store, 2, "user-1", "Enjoys jazz concerts", []float64{0.79, 0.61311, 0}, 0.7)
	seed(t, store, 3, "user-1", "Works as a nurse", []float64{0.40, -0.55250, 0.73126}, 0.7)

	emb := &fakeEmbedder{vectors: map[string][]float64{
		"What music do I like?": {1, 0, 0},
	}}
	eng := setupEngine(t, store, emb, &fakeLLM{}, engine.RetrievalConfig{MMRK: 2})

	_, err := eng.BuildContext(context.Background(), "user-1", "What music do I like?")
	require.NoError(t, err)
	eng.Wait()

	memories, err := store.FindActive(context.Background(), "user-1")
	require.NoError(t, err)

	salience := make(map[string]float64, len(memories))
	for _, memory := range memories {
		salience[memory.Content] = memory.Salience
	}
	assert.InDelta(t, 0.75, salience["Likes jazz"], 1e-9)
	assert.InDelta(t, 0.75, salience["Works as a nurse"], 1e-9)
	assert.InDelta(t, 0.70, salience["Enjoys jazz concerts"], 1e-9, "unused memory keeps its salience")
}

func TestSearchMemories(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 1, "user-1", "Likes jazz", []float64{1, 0, 0}, 0.7)
	seed(t, store, 2, "user-1", "Works as a nurse", []float64{0, 1, 0}, 0.7)
	seed(t, store, 3, "user-1", "Dislikes loud venues", []float64{-1, 0, 0}, 0.7)

	emb := &fakeEmbedder{vectors: map[string][]float64{
		"jazz": {1, 0, 0},
	}}
	eng := setupEngine(t, store, emb, &fakeLLM{}, engine.RetrievalConfig{})

	results, err := eng.SearchMemories(context.Background(), "user-1", "jazz", 10)
	require.NoError(t, err)

	// Direct search applies no relevance floor: even the negative match
	// is returned, at the bottom.
	require.Len(t, results, 3)
	assert.Equal(t, "Likes jazz", results[0].Memory.Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Equal(t, "Dislikes loud venues", results[2].Memory.Content)
}

func TestSearchMemories_Limit(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 1, "user-1", "Likes jazz", []float64{1, 0, 0}, 0.7)
	seed(t, store, 2, "user-1", "Works as a nurse", []float64{0, 1, 0}, 0.7)

	emb := &fakeEmbedder{vectors: map[string][]float64{
		"jazz": {1, 0, 0},
	}}
	eng := setupEngine(t, store, emb, &fakeLLM{}, engine.RetrievalConfig{})

	results, err := eng.SearchMemories(context.Background(), "user-1", "jazz", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Likes jazz", results[0].Memory.Content)
}

func TestSearchMemories_EmptyOwner(t *testing.T) {
	eng := setupEngine(t, setupStore(t), &fakeEmbedder{}, &fakeLLM{}, engine.RetrievalConfig{})

	_, err := eng.SearchMemories(context.Background(), "", "jazz", 10)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestMaybeAutoDistill_TooFewTurns(t *testing.T) {
	provider := &fakeLLM{response: `{"facts": []}`}
	eng := setupEngine(t, setupStore(t), &fakeEmbedder{}, provider, engine.RetrievalConfig{})

	stored, err := eng.MaybeAutoDistill(context.Background(), "user-1", "conv-1", []distill.Turn{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello!"},
		{Role: "user", Content: "I'm a nurse."},
	})
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Zero(t, provider.calls, "extraction must not run below the turn threshold")
}

func TestMaybeAutoDistill_StoresAdmittedFacts(t *testing.T) {
	store := setupStore(t)
	provider := &fakeLLM{response: `{"facts": [
		{"kind": "profile", "content": "Works as a structural engineer in Seattle", "tags": ["career"], "salience": 0.75},
		{"kind": "preference", "content": "I like cats", "salience": 0.5}
	]}`}
	eng := setupEngine(t, store, &fakeEmbedder{}, provider, engine.RetrievalConfig{})

	turns := []distill.Turn{
		{Role: "user", Content: "I'm a structural engineer in Seattle."},
		{Role: "assistant", Content: "Nice, how long have you been at it?"},
		{Role: "user", Content: "About ten years. Also, I like cats."},
		{Role: "assistant", Content: "Good to know!"},
	}

	stored, err := eng.MaybeAutoDistill(context.Background(), "user-1", "conv-1", turns)
	require.NoError(t, err)
	assert.Equal(t, 1, stored, "low-salience fact is rejected at admission")

	memories, err := store.FindActive(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "Works as a structural engineer in Seattle", memories[0].Content)
	assert.Equal(t, storage.KindProfile, memories[0].Kind)
	assert.Equal(t, "conversation", memories[0].Source.Origin)
	assert.Equal(t, "conv-1", memories[0].Source.Reference)

	// The same fact distilled again lands on the dedup key.
	stored, err = eng.MaybeAutoDistill(context.Background(), "user-1", "conv-2", turns)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	count, err := store.CountFor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMaybeAutoDistill_EmptyOwner(t *testing.T) {
	eng := setupEngine(t, setupStore(t), &fakeEmbedder{}, &fakeLLM{}, engine.RetrievalConfig{})

	_, err := eng.MaybeAutoDistill(context.Background(), "", "conv-1", nil)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestClearUserMemories(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 1, "user-1", "First memory", []float64{1, 0, 0}, 0.7)
	seed(t, store, 2, "user-1", "Second memory", []float64{0, 1, 0}, 0.7)

	eng := setupEngine(t, store, &fakeEmbedder{}, &fakeLLM{}, engine.RetrievalConfig{})

	deleted, err := eng.ClearUserMemories(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := store.CountFor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestClearUserMemories_EmptyOwner(t *testing.T) {
	eng := setupEngine(t, setupStore(t), &fakeEmbedder{}, &fakeLLM{}, engine.RetrievalConfig{})

	_, err := eng.ClearUserMemories(context.Background(), "")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}
