package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/storage/sqlite"
)

func setupClient(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "recall_test.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func newMemory(id int64, owner, content string, salience float64) *storage.Memory {
	return &storage.Memory{
		ID:        id,
		Owner:     owner,
		Content:   content,
		Kind:      storage.KindFact,
		Tags:      []string{"test"},
		Embedding: []float64{0.1, 0.2, 0.3},
		Salience:  salience,
		Source: storage.Source{
			Origin:    "conversation",
			Reference: "conv-1",
		},
	}
}

func TestUpsert_InsertAndFind(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	id, err := client.Upsert(ctx, newMemory(1, "user-1", "Likes jazz", 0.7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	memories, err := client.FindActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, memories, 1)

	got := memories[0]
	assert.Equal(t, "Likes jazz", got.Content)
	assert.Equal(t, storage.KindFact, got.Kind)
	assert.Equal(t, []string{"test"}, got.Tags)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Embedding)
	assert.InDelta(t, 0.7, got.Salience, 1e-9)
	assert.Equal(t, "conversation", got.Source.Origin)
	assert.Equal(t, "conv-1", got.Source.Reference)
}

func TestUpsert_DedupByOwnerAndContent(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	firstID, err := client.Upsert(ctx, newMemory(1, "user-1", "Likes jazz", 0.7))
	require.NoError(t, err)

	// Same (owner, content) with a fresh embedding and a different
	// snowflake ID must refresh the existing record, not create a second.
	duplicate := newMemory(2, "user-1", "Likes jazz", 0.95)
	duplicate.Embedding = []float64{0.9, 0.8, 0.7}
	secondID, err := client.Upsert(ctx, duplicate)
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	memories, err := client.FindActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, memories, 1)

	got := memories[0]
	assert.Equal(t, []float64{0.9, 0.8, 0.7}, got.Embedding, "refresh keeps the latest embedding")
	assert.InDelta(t, 0.7, got.Salience, 1e-9, "refresh preserves stored salience")
}

func TestUpsert_SameContentDifferentOwners(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	_, err := client.Upsert(ctx, newMemory(1, "user-1", "Likes jazz", 0.7))
	require.NoError(t, err)
	_, err = client.Upsert(ctx, newMemory(2, "user-2", "Likes jazz", 0.7))
	require.NoError(t, err)

	count1, err := client.CountFor(ctx, "user-1")
	require.NoError(t, err)
	count2, err := client.CountFor(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count1)
	assert.Equal(t, int64(1), count2)
}

func TestFindActive_ExcludesDecayed(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	expired := newMemory(1, "user-1", "Temporary note", 0.7)
	expired.DecayAt = &past
	_, err := client.Upsert(ctx, expired)
	require.NoError(t, err)

	active := newMemory(2, "user-1", "Durable fact about the user", 0.7)
	active.DecayAt = &future
	_, err = client.Upsert(ctx, active)
	require.NoError(t, err)

	_, err = client.Upsert(ctx, newMemory(3, "user-1", "Fact with no decay", 0.7))
	require.NoError(t, err)

	memories, err := client.FindActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, memories, 2)
	for _, memory := range memories {
		assert.NotEqual(t, "Temporary note", memory.Content)
	}
}

func TestFindActive_ScopedToOwner(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	_, err := client.Upsert(ctx, newMemory(1, "user-1", "Mine", 0.7))
	require.NoError(t, err)
	_, err = client.Upsert(ctx, newMemory(2, "user-2", "Theirs", 0.7))
	require.NoError(t, err)

	memories, err := client.FindActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "Mine", memories[0].Content)
}

func TestBumpSalience(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	id, err := client.Upsert(ctx, newMemory(1, "user-1", "Likes jazz", 0.6))
	require.NoError(t, err)

	require.NoError(t, client.BumpSalience(ctx, []int64{id}, 0.05))

	memories, err := client.FindActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.InDelta(t, 0.65, memories[0].Salience, 1e-9)
}

func TestBumpSalience_ClampsAtOne(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	id, err := client.Upsert(ctx, newMemory(1, "user-1", "Likes jazz", 0.98))
	require.NoError(t, err)

	require.NoError(t, client.BumpSalience(ctx, []int64{id}, 0.05))
	require.NoError(t, client.BumpSalience(ctx, []int64{id}, 0.05))

	memories, err := client.FindActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.InDelta(t, 1.0, memories[0].Salience, 1e-9)
}

func TestBumpSalience_EmptyIDs(t *testing.T) {
	client := setupClient(t)
	assert.NoError(t, client.BumpSalience(context.Background(), nil, 0.05))
}

func TestDeleteAllFor(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	_, err := client.Upsert(ctx, newMemory(1, "user-1", "First memory", 0.7))
	require.NoError(t, err)
	_, err = client.Upsert(ctx, newMemory(2, "user-1", "Second memory", 0.7))
	require.NoError(t, err)
	_, err = client.Upsert(ctx, newMemory(3, "user-2", "Other user's memory", 0.7))
	require.NoError(t, err)

	deleted, err := client.DeleteAllFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := client.CountFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	otherCount, err := client.CountFor(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), otherCount)
}

func TestDeleteAllFor_UnknownOwner(t *testing.T) {
	client := setupClient(t)

	deleted, err := client.DeleteAllFor(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}
