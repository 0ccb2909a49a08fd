package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(context.Background(), "", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestDocuments_AppendAndGet(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	doc := Document{ID: "d1", Content: "hello", URI: "file:///a.md"}
	require.NoError(t, e.Documents.Append(ctx, []Document{doc}))

	got, ok, err := e.Documents.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
}

func TestDocuments_VersionHistoryGrowsOnEachMutation(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Documents.Append(ctx, []Document{{ID: "d1", Content: "v1"}}))
	v1, err := e.Documents.CurrentVersion(ctx)
	require.NoError(t, err)

	require.NoError(t, e.Documents.Update(ctx, func(d Document) bool { return d.ID == "d1" }, func(d Document) Document {
		d.Content = "v2"
		return d
	}))
	v2, err := e.Documents.CurrentVersion(ctx)
	require.NoError(t, err)

	assert.Greater(t, v2, v1)

	versions, err := e.Documents.ListVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestDocuments_RestoreReturnsToPriorContent(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Documents.Append(ctx, []Document{{ID: "d1", Content: "v1"}}))
	v1, err := e.Documents.CurrentVersion(ctx)
	require.NoError(t, err)

	require.NoError(t, e.Documents.Update(ctx, func(d Document) bool { return true }, func(d Document) Document {
		d.Content = "v2"
		return d
	}))

	require.NoError(t, e.Documents.Restore(ctx, v1))
	got, ok, err := e.Documents.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", got.Content)
}

func TestDocuments_DeleteRemovesRecord(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Documents.Append(ctx, []Document{{ID: "d1", Content: "v1"}}))
	require.NoError(t, e.Documents.DeleteByID(ctx, "d1"))

	_, ok, err := e.Documents.Get(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVacuum_ZeroRetentionShrinksHistoryToCurrent(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Documents.Append(ctx, []Document{{ID: "d1", Content: "v1"}}))
	require.NoError(t, e.Documents.Update(ctx, func(d Document) bool { return true }, func(d Document) Document { d.Content = "v2"; return d }))
	require.NoError(t, e.Documents.Update(ctx, func(d Document) bool { return true }, func(d Document) Document { d.Content = "v3"; return d }))

	before, err := e.Documents.ListVersions(ctx)
	require.NoError(t, err)
	assert.Greater(t, len(before), 1)

	require.NoError(t, e.Documents.Vacuum(ctx, 0))

	after, err := e.Documents.ListVersions(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(after), 1)
}

func TestReadOnlyStore_RejectsMutations(t *testing.T) {
	e := openTestEngine(t)
	e.readOnly = true
	e.Documents.readOnly = true

	err := e.Documents.Append(context.Background(), []Document{{ID: "d1"}})
	require.Error(t, err)
	assert.IsType(t, ErrReadOnly{}, err)
}

func TestSchemaVersion_MissingThenWritten(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	_, found, err := e.ReadSchemaVersion(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, e.WriteSchemaVersion(ctx, "1.0.0"))
	v, found, err := e.ReadSchemaVersion(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1.0.0", v)
}

func TestChunksByDocument_OrderedByOrder(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Chunks.Append(ctx, []Chunk{
		{ID: "c1", DocumentID: "d1", Order: 2, Content: "third"},
		{ID: "c2", DocumentID: "d1", Order: 0, Content: "first"},
		{ID: "c3", DocumentID: "d1", Order: 1, Content: "second"},
	}))

	chunks, err := e.ChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, "second", chunks[1].Content)
	assert.Equal(t, "third", chunks[2].Content)
}

func TestEnsureVectorIndex_NoOpBelowThreshold(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Chunks.Append(ctx, []Chunk{{ID: "c1", DocumentID: "d1", Embedding: []float32{1, 2, 3}}}))

	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	require.NoError(t, e.EnsureVectorIndex(ctx, vectors))
	assert.Equal(t, 0, vectors.Count(), "below ANNBuildThreshold, index build must be a no-op")
}

func TestVacuum_Engine_RunsEveryTable(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Documents.Append(ctx, []Document{{ID: "d1"}}))
	require.NoError(t, e.Chunks.Append(ctx, []Chunk{{ID: "c1", DocumentID: "d1"}}))
	require.NoError(t, e.Vacuum(ctx, time.Hour))
}
