package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/ragcore/ragcore/internal/docmodel"
)

// ResolveChunk implements search.ChunkResolver: the join from a chunk id to
// its parent document, used to annotate a raw BM25/vector hit.
func (e *Engine) ResolveChunk(ctx context.Context, chunkID string) (*Chunk, *Document, error) {
	chunk, ok, err := e.Chunks.Get(ctx, chunkID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotFound{Kind: "chunk", ID: chunkID}
	}
	doc, ok, err := e.Documents.Get(ctx, chunk.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotFound{Kind: "document", ID: chunk.DocumentID}
	}
	return &chunk, &doc, nil
}

// StructuredDocument implements expand.DocumentSource: it deserializes the
// document's stored structured form, when one was recorded at ingest time.
func (e *Engine) StructuredDocument(ctx context.Context, documentID string) (*docmodel.StructuredDocument, bool, error) {
	doc, ok, err := e.Documents.Get(ctx, documentID)
	if err != nil || !ok || len(doc.StructuredDocJSON) == 0 {
		return nil, false, err
	}
	sdoc := &docmodel.StructuredDocument{}
	if err := sdoc.UnmarshalJSON(doc.StructuredDocJSON); err != nil {
		return nil, false, fmt.Errorf("store: decode structured document %s: %w", documentID, err)
	}
	return sdoc, true, nil
}

// ChunksByDocument implements expand.ChunkSource: every chunk of a document,
// ordered by Order ascending.
func (e *Engine) ChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	all, err := e.Chunks.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Chunk
	for i := range all {
		if all[i].DocumentID == documentID {
			c := all[i]
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}
