package ragclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/chunk"
	ragerrors "github.com/ragcore/ragcore/internal/errors"
	"github.com/ragcore/ragcore/internal/expand"
	"github.com/ragcore/ragcore/internal/repository"
	"github.com/ragcore/ragcore/internal/search"
	"github.com/ragcore/ragcore/internal/store"
)

type stubEmbedder struct {
	dims     int
	failN    int
	attempts int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.attempts++
	if s.attempts <= s.failN {
		return nil, errors.New("embedder: backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, s.dims)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                { return s.dims }
func (s *stubEmbedder) ModelName() string              { return "stub" }
func (s *stubEmbedder) Available(context.Context) bool { return true }
func (s *stubEmbedder) Close() error                   { return nil }
func (s *stubEmbedder) SetBatchIndex(int)              {}
func (s *stubEmbedder) SetFinalBatch(bool)             {}

func newTestClient(t *testing.T, embedder *stubEmbedder) (*Client, *store.Engine) {
	t.Helper()
	ctx := context.Background()

	engine, err := store.Open(ctx, "", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	bm25, err := store.NewSQLiteBM25Index("", store.DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	docRepo := repository.New(engine, chunk.New(chunk.DefaultPolicy()), embedder, bm25, vectors, nil)
	hs := search.NewHybridSearch(bm25, vectors, engine, embedder.Embed, nil, search.DefaultConfig())
	chunkRepo := repository.NewChunkRepository(engine, hs)
	expander := expand.New(engine, engine)

	retry := ragerrors.DefaultRetryConfig()
	retry.InitialDelay = 0
	retry.MaxDelay = 0

	return New(docRepo, chunkRepo, expander, retry), engine
}

func TestIngest_SucceedsOnFirstTry(t *testing.T) {
	client, _ := newTestClient(t, &stubEmbedder{dims: 8})
	doc, err := client.Ingest(context.Background(), repository.DocumentInput{Content: "Hello world.", Title: "Doc"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
}

func TestIngest_RetriesTransientEmbeddingFailureThenSucceeds(t *testing.T) {
	embedder := &stubEmbedder{dims: 8, failN: 2}
	client, _ := newTestClient(t, embedder)

	doc, err := client.Ingest(context.Background(), repository.DocumentInput{Content: "Retried content.", Title: "Doc"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Greater(t, embedder.attempts, 1)
}

func TestIngest_GivesUpAfterExhaustingRetries(t *testing.T) {
	embedder := &stubEmbedder{dims: 8, failN: 100}
	client, _ := newTestClient(t, embedder)

	_, err := client.Ingest(context.Background(), repository.DocumentInput{Content: "Always fails.", Title: "Doc"})
	require.Error(t, err)
}

func TestIngest_DoesNotRetryNonEmbeddingErrors(t *testing.T) {
	embedder := &stubEmbedder{dims: 8}
	client, _ := newTestClient(t, embedder)

	_, err := client.Ingest(context.Background(), repository.DocumentInput{})
	require.Error(t, err)
	assert.IsType(t, repository.ErrInvalidInput{}, err)
}

func TestSearch_AssignsStableCitationsAcrossCalls(t *testing.T) {
	client, _ := newTestClient(t, &stubEmbedder{dims: 8})
	ctx := context.Background()

	_, err := client.Ingest(ctx, repository.DocumentInput{
		Content: "The quick brown fox jumps over the lazy dog.",
		URI:     "file://fox", Title: "Fox",
	})
	require.NoError(t, err)

	first, err := client.Search(ctx, repository.SearchInput{Query: "quick brown fox", Mode: search.ModeFTS, Limit: 3}, expand.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := client.Search(ctx, repository.SearchInput{Query: "quick brown fox", Mode: search.ModeFTS, Limit: 3}, expand.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, second)

	assert.Equal(t, first[0].Citation, second[0].Citation)
}

func TestSearch_NoResultsReturnsEmptyNotError(t *testing.T) {
	client, _ := newTestClient(t, &stubEmbedder{dims: 8})
	results, err := client.Search(context.Background(), repository.SearchInput{Query: "nothing indexed", Mode: search.ModeFTS, Limit: 3}, expand.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
