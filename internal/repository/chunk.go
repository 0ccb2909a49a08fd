package repository

import (
	"context"
	"fmt"

	"github.com/ragcore/ragcore/internal/filterql"
	"github.com/ragcore/ragcore/internal/search"
	"github.com/ragcore/ragcore/internal/store"
)

// ChunkRepository is the C6 Chunk Repository: CRUD plus vector/fts/hybrid
// search over chunks, with document-scope filtering resolved from a
// filterql WHERE clause before delegating to search.HybridSearch (spec
// §4.6, §4.4, §9).
type ChunkRepository struct {
	engine *store.Engine
	search *search.HybridSearch
}

// NewChunkRepository wires an Engine and a pre-built HybridSearch (which
// already owns the BM25 index, vector store, resolver, and embed func).
func NewChunkRepository(engine *store.Engine, hs *search.HybridSearch) *ChunkRepository {
	return &ChunkRepository{engine: engine, search: hs}
}

// Get returns a single chunk by id.
func (r *ChunkRepository) Get(ctx context.Context, id string) (*store.Chunk, error) {
	c, ok, err := r.engine.Chunks.Get(ctx, id)
	if err != nil {
		return nil, ErrStorageFailed{Cause: err}
	}
	if !ok {
		return nil, store.ErrNotFound{Kind: "chunk", ID: id}
	}
	return &c, nil
}

// ListByDocument returns every chunk of a document, in order.
func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]*store.Chunk, error) {
	chunks, err := r.engine.ChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, ErrStorageFailed{Cause: err}
	}
	return chunks, nil
}

// SearchInput is the payload for Search: a free-text query plus the mode,
// limit, and an optional document-scope filter over the documents table.
type SearchInput struct {
	Query  string
	Mode   search.Mode
	Limit  int
	Filter string // filterql WHERE clause, empty means unfiltered
}

// Search resolves Filter (if any) to a set of document ids, then delegates
// to the wired HybridSearch (spec §4.4, §6 search command, §9 filter
// syntax).
func (r *ChunkRepository) Search(ctx context.Context, in SearchInput) ([]*search.Result, error) {
	opts := search.Options{Mode: in.Mode, Limit: in.Limit}

	if in.Filter != "" {
		ids, err := r.resolveDocumentScope(ctx, in.Filter)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		opts.DocumentIDs = ids
	}

	results, err := r.search.Search(ctx, in.Query, opts)
	if err != nil {
		return nil, fmt.Errorf("repository: search: %w", err)
	}
	return results, nil
}

// resolveDocumentScope evaluates filter against every live document's
// scalar fields, returning the ids of the ones that match. Documents, not
// chunks, are what the filter syntax targets (spec §9): "the documents
// table" is explicit in the grammar's scope.
func (r *ChunkRepository) resolveDocumentScope(ctx context.Context, filter string) ([]string, error) {
	predExpr, err := filterql.Parse(filter)
	if err != nil {
		return nil, ErrInvalidInput{Reason: fmt.Sprintf("invalid filter: %v", err)}
	}
	pred := filterql.Compile(predExpr)

	docs, err := r.engine.Documents.ListAll(ctx)
	if err != nil {
		return nil, ErrStorageFailed{Cause: err}
	}

	var ids []string
	for _, doc := range docs {
		row := documentRow(doc)
		if pred(row) {
			ids = append(ids, doc.ID)
		}
	}
	return ids, nil
}

// documentRow projects a store.Document into the flat string map filterql
// predicates evaluate against: id/uri/title plus every metadata entry.
func documentRow(doc store.Document) filterql.Row {
	row := filterql.Row{
		"id":    doc.ID,
		"uri":   doc.URI,
		"title": doc.Title,
	}
	for k, v := range doc.Metadata {
		row[k] = v
	}
	return row
}
