package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ragcore/ragcore/internal/store"
)

// ChunkResolver looks up chunk and parent-document metadata by chunk id, the
// join the search layer needs to annotate a raw BM25/vector hit into a
// citable Result (spec §3/§4.4).
type ChunkResolver interface {
	ResolveChunk(ctx context.Context, chunkID string) (*store.Chunk, *store.Document, error)
}

// HybridSearch runs vector, fts, or hybrid (RRF-fused) queries over a
// BM25Index and VectorStore, annotates hits via a ChunkResolver, and hands
// the fused candidate pool to an optional Reranker.
type HybridSearch struct {
	bm25     store.BM25Index
	vectors  store.VectorStore
	resolver ChunkResolver
	embed    func(ctx context.Context, query string) ([]float32, error)
	reranker Reranker
	fusion   *RRFFusion
	cfg      Config
}

// NewHybridSearch wires a BM25 index, vector store, chunk resolver, and
// query embedder into a hybrid search engine. reranker may be nil, in which
// case NoOpReranker is used.
func NewHybridSearch(
	bm25 store.BM25Index,
	vectors store.VectorStore,
	resolver ChunkResolver,
	embed func(ctx context.Context, query string) ([]float32, error),
	reranker Reranker,
	cfg Config,
) *HybridSearch {
	if reranker == nil {
		reranker = &NoOpReranker{}
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	return &HybridSearch{
		bm25:     bm25,
		vectors:  vectors,
		resolver: resolver,
		embed:    embed,
		reranker: reranker,
		fusion:   NewRRFFusionWithK(cfg.RRFConstant),
		cfg:      cfg,
	}
}

// Search runs a query under the requested mode and returns up to opts.Limit
// annotated, scored results.
func (h *HybridSearch) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = h.cfg.DefaultLimit
	}
	if h.cfg.MaxLimit > 0 && opts.Limit > h.cfg.MaxLimit {
		opts.Limit = h.cfg.MaxLimit
	}

	// When a real reranker is configured, pull a wider candidate pool so it
	// has material to reorder (spec §4.4: 10x limit).
	poolLimit := opts.Limit
	if h.reranker.Available(ctx) {
		if _, ok := h.reranker.(*NoOpReranker); !ok {
			poolLimit = opts.Limit * 10
		}
	}

	switch opts.Mode {
	case ModeVector:
		return h.searchVector(ctx, query, poolLimit, opts)
	case ModeFTS:
		return h.searchFTS(ctx, query, poolLimit, opts)
	default:
		return h.searchHybrid(ctx, query, poolLimit, opts)
	}
}

func (h *HybridSearch) searchVector(ctx context.Context, query string, limit int, opts Options) ([]*Result, error) {
	embedding, err := h.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	vec, err := h.vectors.Search(ctx, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("search: vector search: %w", err)
	}
	results := make([]*Result, 0, len(vec))
	for _, r := range vec {
		res, err := h.annotate(ctx, r.ChunkID, opts)
		if err != nil {
			continue
		}
		// spec §4.4: vector-only score is max(0, 1/(1+distance)).
		res.Score = normalizeVectorDistance(r.Distance)
		res.VectorScore = res.Score
		results = append(results, res)
	}
	return h.finish(ctx, query, results, opts.Limit)
}

func (h *HybridSearch) searchFTS(ctx context.Context, query string, limit int, opts Options) ([]*Result, error) {
	bm25, err := h.bm25.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: fts search: %w", err)
	}
	minMaxNormalizeBM25(bm25)
	results := make([]*Result, 0, len(bm25))
	for _, r := range bm25 {
		res, err := h.annotate(ctx, r.ChunkID, opts)
		if err != nil {
			continue
		}
		res.Score = r.Score
		res.BM25Score = r.Score
		results = append(results, res)
	}
	return h.finish(ctx, query, results, opts.Limit)
}

func (h *HybridSearch) searchHybrid(ctx context.Context, query string, limit int, opts Options) ([]*Result, error) {
	var bm25 []*store.BM25Result
	var vec []*store.VectorResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bm25, err = h.bm25.Search(gctx, query, limit)
		return err
	})
	g.Go(func() error {
		embedding, err := h.embed(gctx, query)
		if err != nil {
			return err
		}
		vec, err = h.vectors.Search(gctx, embedding, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search: hybrid search: %w", err)
	}

	weights := opts.Weights
	if weights.BM25 == 0 && weights.Semantic == 0 {
		weights = DefaultWeights()
	}
	fused := h.fusion.Fuse(bm25, vec, weights)

	results := make([]*Result, 0, len(fused))
	for _, r := range fused {
		res, err := h.annotate(ctx, r.ChunkID, opts)
		if err != nil {
			continue
		}
		res.Score = r.RRFScore
		res.BM25Score = r.BM25Score
		res.VectorScore = r.VecScore
		res.BM25Rank = r.BM25Rank
		res.VectorRank = r.VecRank
		results = append(results, res)
	}
	return h.finish(ctx, query, results, opts.Limit)
}

func (h *HybridSearch) annotate(ctx context.Context, chunkID string, opts Options) (*Result, error) {
	chunk, doc, err := h.resolver.ResolveChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if len(opts.DocumentIDs) > 0 && !containsID(opts.DocumentIDs, chunk.DocumentID) {
		return nil, fmt.Errorf("search: chunk %s outside document scope", chunkID)
	}
	return &Result{
		Content:       chunk.Content,
		ChunkID:       chunk.ID,
		DocumentID:    chunk.DocumentID,
		DocumentURI:   doc.URI,
		DocumentTitle: doc.Title,
		DocItemRefs:   chunk.Metadata.DocItemRefs,
		PageNumbers:   chunk.Metadata.PageNumbers,
		Headings:      chunk.Metadata.Headings,
		Labels:        chunk.Metadata.Labels,
	}, nil
}

// finish truncates to limit and, when a real reranker is wired, replaces
// fused scores with reranked ones (spec §4.4).
func (h *HybridSearch) finish(ctx context.Context, query string, results []*Result, limit int) ([]*Result, error) {
	if _, ok := h.reranker.(*NoOpReranker); !ok && h.reranker.Available(ctx) && len(results) > 0 {
		docs := make([]string, len(results))
		for i, r := range results {
			docs[i] = r.Content
		}
		reranked, err := h.reranker.Rerank(ctx, query, docs, limit)
		if err == nil {
			out := make([]*Result, 0, len(reranked))
			for _, rr := range reranked {
				if rr.Index < 0 || rr.Index >= len(results) {
					continue
				}
				r := results[rr.Index]
				r.Score = rr.Score
				out = append(out, r)
			}
			return out, nil
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// normalizeVectorDistance converts an HNSW cosine/L2 distance into the
// spec's vector-only relevance score: max(0, 1/(1+d)) (spec §4.4).
func normalizeVectorDistance(distance float32) float64 {
	d := float64(distance)
	score := 1.0 / (1.0 + d)
	if score < 0 {
		return 0
	}
	return score
}

// minMaxNormalizeBM25 rescales raw BM25 scores to [0,1] in place (spec §4.4).
func minMaxNormalizeBM25(results []*store.BM25Result) {
	if len(results) == 0 {
		return
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	spread := max - min
	for _, r := range results {
		if spread == 0 {
			r.Score = 1.0
			continue
		}
		r.Score = (r.Score - min) / spread
	}
}
