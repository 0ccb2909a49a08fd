package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/chunk"
	"github.com/ragcore/ragcore/internal/docmodel"
	"github.com/ragcore/ragcore/internal/embed"
	"github.com/ragcore/ragcore/internal/search"
	"github.com/ragcore/ragcore/internal/store"
)

func newTestRepo(t *testing.T) (*DocumentRepository, *ChunkRepository, *store.Engine) {
	t.Helper()
	ctx := context.Background()

	engine, err := store.Open(ctx, "", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	bm25, err := store.NewSQLiteBM25Index("", store.DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(256))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	embedder := embed.NewStaticEmbedder()

	docRepo := New(engine, chunk.New(chunk.DefaultPolicy()), embedder, bm25, vectors, nil)

	hs := search.NewHybridSearch(bm25, vectors, engine, embedder.Embed, nil, search.DefaultConfig())
	chunkRepo := NewChunkRepository(engine, hs)

	return docRepo, chunkRepo, engine
}

func TestCreateDocument_InsertsDocumentAndChunks(t *testing.T) {
	docRepo, _, engine := newTestRepo(t)
	ctx := context.Background()

	doc, err := docRepo.CreateDocument(ctx, DocumentInput{
		Content: "Setup guide.\n\nInstall the CLI first.",
		Title:   "Guide",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)

	stored, ok, err := engine.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Guide", stored.Title)

	chunks, err := engine.ChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Embedding)
	}
}

func TestCreateDocument_RejectsContentAndStructuredDocTogether(t *testing.T) {
	docRepo, _, _ := newTestRepo(t)
	sdoc, err := docmodel.New([]docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelParagraph, Text: "x"},
	}, []int{0}, nil)
	require.NoError(t, err)

	_, err = docRepo.CreateDocument(context.Background(), DocumentInput{
		Content:       "also set",
		StructuredDoc: sdoc,
	})
	require.Error(t, err)
	assert.IsType(t, ErrInvalidInput{}, err)
}

func TestUpdateDocument_ReplacesChunks(t *testing.T) {
	docRepo, _, engine := newTestRepo(t)
	ctx := context.Background()

	doc, err := docRepo.CreateDocument(ctx, DocumentInput{Content: "Original content here.", Title: "A"})
	require.NoError(t, err)

	original, err := engine.ChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, original)

	updated, err := docRepo.UpdateDocument(ctx, doc.ID, DocumentInput{Content: "Replaced content entirely.", Title: "B"})
	require.NoError(t, err)
	assert.Equal(t, "B", updated.Title)

	after, err := engine.ChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, after)
	assert.NotEqual(t, original[0].Content, after[0].Content)
}

func TestUpdateDocument_UnknownIDFailsNotFound(t *testing.T) {
	docRepo, _, _ := newTestRepo(t)
	_, err := docRepo.UpdateDocument(context.Background(), "missing", DocumentInput{Content: "x"})
	require.Error(t, err)
	assert.IsType(t, store.ErrNotFound{}, err)
}

func TestDeleteDocument_CascadesChunks(t *testing.T) {
	docRepo, _, engine := newTestRepo(t)
	ctx := context.Background()

	doc, err := docRepo.CreateDocument(ctx, DocumentInput{Content: "Some content to delete.", Title: "Gone"})
	require.NoError(t, err)

	require.NoError(t, docRepo.DeleteDocument(ctx, doc.ID))

	_, ok, err := engine.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	chunks, err := engine.ChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestUpsertByURI_EqualContentIsNoOpRechunk(t *testing.T) {
	docRepo, _, engine := newTestRepo(t)
	ctx := context.Background()

	first, err := docRepo.UpsertByURI(ctx, DocumentInput{Content: "Stable content.", URI: "file://a", Title: "A"})
	require.NoError(t, err)
	firstChunks, err := engine.ChunksByDocument(ctx, first.ID)
	require.NoError(t, err)

	second, err := docRepo.UpsertByURI(ctx, DocumentInput{Content: "Stable content.", URI: "file://a", Title: "A renamed"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "A renamed", second.Title)

	secondChunks, err := engine.ChunksByDocument(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, len(firstChunks), len(secondChunks))
}

func TestUpsertByURI_DifferentContentRechunks(t *testing.T) {
	docRepo, _, engine := newTestRepo(t)
	ctx := context.Background()

	first, err := docRepo.UpsertByURI(ctx, DocumentInput{Content: "Version one.", URI: "file://b"})
	require.NoError(t, err)

	second, err := docRepo.UpsertByURI(ctx, DocumentInput{Content: "Version two, totally different.", URI: "file://b"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	stored, _, err := engine.Documents.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Content, "Version two")
}

func TestRebuild_EmbedOnlyReembedsExistingChunks(t *testing.T) {
	docRepo, _, engine := newTestRepo(t)
	ctx := context.Background()

	doc, err := docRepo.CreateDocument(ctx, DocumentInput{Content: "Needs re-embedding.", Title: "R"})
	require.NoError(t, err)

	var seen []string
	err = docRepo.Rebuild(ctx, RebuildEmbedOnly, func(id string) { seen = append(seen, id) })
	require.NoError(t, err)
	assert.Equal(t, []string{doc.ID}, seen)

	chunks, err := engine.ChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Embedding)
	}
}

func TestRebuild_RechunkUsesStoredStructuredDocument(t *testing.T) {
	docRepo, _, engine := newTestRepo(t)
	ctx := context.Background()

	doc, err := docRepo.CreateDocument(ctx, DocumentInput{Content: "Some body text.", Title: "RC"})
	require.NoError(t, err)

	err = docRepo.Rebuild(ctx, RebuildRechunk, nil)
	require.NoError(t, err)

	chunks, err := engine.ChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestChunkRepository_SearchFindsExactMatch(t *testing.T) {
	docRepo, chunkRepo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := docRepo.CreateDocument(ctx, DocumentInput{
		Content: "The quick brown fox jumps over the lazy dog.",
		URI:     "file://fox", Title: "Fox",
	})
	require.NoError(t, err)

	results, err := chunkRepo.Search(ctx, SearchInput{Query: "quick brown fox", Mode: search.ModeFTS, Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestChunkRepository_SearchFilterScopesToMatchingDocuments(t *testing.T) {
	docRepo, chunkRepo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := docRepo.CreateDocument(ctx, DocumentInput{Content: "Invoice details for March.", URI: "file://inv", Title: "Invoice"})
	require.NoError(t, err)
	_, err = docRepo.CreateDocument(ctx, DocumentInput{Content: "Invoice details for March.", URI: "file://rec", Title: "Receipt"})
	require.NoError(t, err)

	results, err := chunkRepo.Search(ctx, SearchInput{
		Query: "invoice details", Mode: search.ModeFTS, Limit: 10,
		Filter: `title = 'Invoice'`,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "Invoice", r.DocumentTitle)
	}
}

func TestChunkRepository_SearchFilterMatchingNoDocumentsReturnsEmpty(t *testing.T) {
	docRepo, chunkRepo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := docRepo.CreateDocument(ctx, DocumentInput{Content: "Some text.", URI: "file://x", Title: "X"})
	require.NoError(t, err)

	results, err := chunkRepo.Search(ctx, SearchInput{
		Query: "text", Mode: search.ModeFTS, Limit: 10,
		Filter: `title = 'DoesNotExist'`,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}
