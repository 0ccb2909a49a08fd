package repository

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ragcore/ragcore/internal/chunk"
	"github.com/ragcore/ragcore/internal/docmodel"
	"github.com/ragcore/ragcore/internal/embed"
	"github.com/ragcore/ragcore/internal/store"
)

// Converter is the external collaborator (spec §6) that turns raw content
// or a file into a StructuredDocument. The repository calls it only when
// CreateDocument/UpdateDocument receive bare content and no pre-built
// StructuredDocument.
type Converter interface {
	ConvertText(ctx context.Context, content, name string) (*docmodel.StructuredDocument, error)
	ConvertFile(ctx context.Context, path string) (*docmodel.StructuredDocument, error)
	SupportedExtensions() []string
}

// RebuildMode selects how Rebuild regenerates stored documents (spec §4.6).
type RebuildMode string

const (
	RebuildFull      RebuildMode = "full"       // re-convert from source URI, re-chunk, re-embed
	RebuildRechunk   RebuildMode = "rechunk"    // re-chunk from stored content, re-embed
	RebuildEmbedOnly RebuildMode = "embed_only" // re-embed existing chunks in place
)

// DocumentInput is the payload for CreateDocument/UpdateDocument. Exactly
// one of Content or StructuredDoc should be set; supplying both is
// InvalidInput (spec §7).
type DocumentInput struct {
	Content       string
	StructuredDoc *docmodel.StructuredDocument
	URI           string
	Title         string
	Metadata      map[string]string
}

// DocumentRepository is the C5 Document Repository: atomic document+chunk
// writes over the versioned store, with snapshot/restore rollback on
// failure (spec §4.6). Grounded on the teacher's indexing pipeline shape
// (convert → chunk → embed → store) but rebuilt around the spec's explicit
// two-table transactional contract, which the teacher's flat file indexer
// never had to satisfy.
type DocumentRepository struct {
	engine    *store.Engine
	chunker   chunk.Chunker
	embedder  embed.Embedder
	bm25      store.BM25Index
	vectors   store.VectorStore
	converter Converter
	policy    chunk.Policy
}

// New constructs a DocumentRepository. converter may be nil: callers that
// only ever pass a pre-built StructuredDocument (or plain content with no
// conversion need) don't require one.
func New(engine *store.Engine, chunker chunk.Chunker, embedder embed.Embedder, bm25 store.BM25Index, vectors store.VectorStore, converter Converter) *DocumentRepository {
	return &DocumentRepository{
		engine:    engine,
		chunker:   chunker,
		embedder:  embedder,
		bm25:      bm25,
		vectors:   vectors,
		converter: converter,
		policy:    chunk.DefaultPolicy(),
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// resolveStructuredDoc picks the StructuredDocument to chunk: the caller's,
// or one built from raw content via the Converter, or — when no converter
// is wired — a single-paragraph synthetic document wrapping the content
// verbatim so the repository stays usable without a converter collaborator.
func (r *DocumentRepository) resolveStructuredDoc(ctx context.Context, in DocumentInput) (*docmodel.StructuredDocument, error) {
	if in.StructuredDoc != nil && in.Content != "" {
		return nil, ErrInvalidInput{Reason: "both content and structured_doc supplied"}
	}
	if in.StructuredDoc != nil {
		return in.StructuredDoc, nil
	}
	if in.Content == "" {
		return nil, ErrInvalidInput{Reason: "neither content nor structured_doc supplied"}
	}
	if r.converter != nil {
		sdoc, err := r.converter.ConvertText(ctx, in.Content, in.Title)
		if err != nil {
			return nil, ErrConversionFailed{Cause: err}
		}
		return sdoc, nil
	}
	return syntheticDocument(in.Content)
}

// syntheticDocument wraps raw content as a single paragraph item, used when
// no Converter is configured.
func syntheticDocument(content string) (*docmodel.StructuredDocument, error) {
	items := []docmodel.DocItem{{SelfRef: "#/texts/0", Label: docmodel.LabelParagraph, Text: content}}
	return docmodel.New(items, []int{0}, nil)
}

// CreateDocument implements spec §4.6's create_document: snapshot, insert
// the document, chunk + embed + insert chunks, rolling back both tables on
// any failure after the document insert.
func (r *DocumentRepository) CreateDocument(ctx context.Context, in DocumentInput) (*store.Document, error) {
	sdoc, err := r.resolveStructuredDoc(ctx, in)
	if err != nil {
		return nil, err
	}

	docID := uuid.NewString()
	doc, err := r.writeDocumentAndChunks(ctx, docID, sdoc, in)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// writeDocumentAndChunks performs the snapshot/insert/chunk/embed/index
// sequence shared by CreateDocument and UpdateDocument, rolling back the
// documents and chunks tables on any failure.
func (r *DocumentRepository) writeDocumentAndChunks(ctx context.Context, docID string, sdoc *docmodel.StructuredDocument, in DocumentInput) (*store.Document, error) {
	scope, err := store.BeginSnapshot(ctx, r.engine.Documents, r.engine.Chunks)
	if err != nil {
		return nil, ErrStorageFailed{Cause: err}
	}

	doc, chunks, err := r.assemble(ctx, docID, sdoc, in)
	if err != nil {
		if rerr := scope.Rollback(ctx); rerr != nil {
			return nil, ErrStorageFailed{Cause: rerr}
		}
		return nil, err
	}

	if err := r.engine.Documents.Append(ctx, []store.Document{*doc}); err != nil {
		_ = scope.Rollback(ctx)
		return nil, ErrStorageFailed{Cause: err}
	}
	if len(chunks) > 0 {
		records := make([]store.Chunk, len(chunks))
		for i, c := range chunks {
			records[i] = *c
		}
		if err := r.engine.Chunks.Append(ctx, records); err != nil {
			_ = scope.Rollback(ctx)
			return nil, ErrStorageFailed{Cause: err}
		}
	}

	if err := r.indexChunks(ctx, chunks); err != nil {
		_ = scope.Rollback(ctx)
		return nil, err
	}

	scope.Commit()
	return doc, nil
}

// assemble converts/chunks/embeds without touching storage, so it can run
// before the snapshot's mutations are committed.
func (r *DocumentRepository) assemble(ctx context.Context, docID string, sdoc *docmodel.StructuredDocument, in DocumentInput) (*store.Document, []*store.Chunk, error) {
	sdocJSON, err := sdoc.MarshalJSON()
	if err != nil {
		return nil, nil, ErrStorageFailed{Cause: err}
	}

	content := sdoc.ToMarkdown()
	if in.StructuredDoc == nil && in.Content != "" {
		content = in.Content
	}

	metadata := map[string]string{}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata["md5"] = md5Hex(content)

	now := time.Now()
	doc := &store.Document{
		ID:                   docID,
		Content:              content,
		URI:                  in.URI,
		Title:                in.Title,
		Metadata:             metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
		StructuredDocJSON:    sdocJSON,
		StructuredDocVersion: sdoc.Version(),
	}

	chunks, err := r.chunker.Chunk(ctx, docID, sdoc)
	if err != nil {
		return nil, nil, fmt.Errorf("repository: chunk document %s: %w", docID, err)
	}
	if err := r.embedChunks(ctx, chunks); err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

// embedChunks contextualizes (headings + content, spec §4.2) and embeds
// every chunk in one batch call, assigning each chunk its vector in place.
func (r *DocumentRepository) embedChunks(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.ContentFTS()
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return ErrEmbeddingFailed{Cause: err}
	}
	for i, c := range chunks {
		c.Embedding = vecs[i]
	}
	return nil
}

// indexChunks pushes chunk content/embeddings into the BM25 and vector
// indexes after the chunk rows have been appended; the snapshot scope is
// still open, so a failure here rolls those rows back.
func (r *DocumentRepository) indexChunks(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ftsDocs := make([]*store.FTSDoc, len(chunks))
	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	for i, c := range chunks {
		ftsDocs[i] = &store.FTSDoc{ID: c.ID, Content: c.ContentFTS()}
		ids[i] = c.ID
		vecs[i] = c.Embedding
	}
	if r.bm25 != nil {
		if err := r.bm25.Index(ctx, ftsDocs); err != nil {
			return ErrStorageFailed{Cause: err}
		}
	}
	if r.vectors != nil {
		if err := r.vectors.Add(ctx, ids, vecs); err != nil {
			return ErrStorageFailed{Cause: err}
		}
	}
	return nil
}

// UpdateDocument implements spec §4.6's update_document: the same
// snapshot/assemble/rollback pattern as create, but deletes the document's
// existing chunks (SQL table, BM25, vector store) before inserting the
// replacements.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, id string, in DocumentInput) (*store.Document, error) {
	_, ok, err := r.engine.Documents.Get(ctx, id)
	if err != nil {
		return nil, ErrStorageFailed{Cause: err}
	}
	if !ok {
		return nil, store.ErrNotFound{Kind: "document", ID: id}
	}

	sdoc, err := r.resolveStructuredDoc(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := r.deleteChunksForDocument(ctx, id); err != nil {
		return nil, err
	}

	return r.writeDocumentAndChunks(ctx, id, sdoc, in)
}

func (r *DocumentRepository) deleteChunksForDocument(ctx context.Context, documentID string) error {
	existing, err := r.engine.ChunksByDocument(ctx, documentID)
	if err != nil {
		return ErrStorageFailed{Cause: err}
	}
	if len(existing) == 0 {
		return nil
	}
	ids := make([]string, len(existing))
	for i, c := range existing {
		ids[i] = c.ID
	}
	if err := r.engine.Chunks.Delete(ctx, func(c store.Chunk) bool { return c.DocumentID == documentID }); err != nil {
		return ErrStorageFailed{Cause: err}
	}
	if r.bm25 != nil {
		if err := r.bm25.Delete(ctx, ids); err != nil {
			return ErrStorageFailed{Cause: err}
		}
	}
	if r.vectors != nil {
		if err := r.vectors.Delete(ctx, ids); err != nil {
			return ErrStorageFailed{Cause: err}
		}
	}
	return nil
}

// DeleteDocument implements spec §4.6's delete_document: cascade delete
// chunks then the document.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	if err := r.deleteChunksForDocument(ctx, id); err != nil {
		return err
	}
	if err := r.engine.Documents.DeleteByID(ctx, id); err != nil {
		return ErrStorageFailed{Cause: err}
	}
	return nil
}

// UpsertByURI implements the upsert-by-uri rule: compare incoming md5
// against stored; equal is a no-op except title/metadata refresh, different
// triggers update+rechunk (spec §4.6).
func (r *DocumentRepository) UpsertByURI(ctx context.Context, in DocumentInput) (*store.Document, error) {
	if in.URI == "" {
		return nil, ErrInvalidInput{Reason: "uri required for upsert"}
	}

	all, err := r.engine.Documents.ListAll(ctx)
	if err != nil {
		return nil, ErrStorageFailed{Cause: err}
	}
	var existing *store.Document
	for i := range all {
		if all[i].URI == in.URI {
			existing = &all[i]
			break
		}
	}
	if existing == nil {
		return r.CreateDocument(ctx, in)
	}

	incomingContent := in.Content
	if incomingContent == "" && in.StructuredDoc != nil {
		incomingContent = in.StructuredDoc.ToMarkdown()
	}
	if md5Hex(incomingContent) == existing.Metadata["md5"] {
		existing.Title = in.Title
		for k, v := range in.Metadata {
			existing.Metadata[k] = v
		}
		existing.UpdatedAt = time.Now()
		if err := r.engine.Documents.Append(ctx, []store.Document{*existing}); err != nil {
			return nil, ErrStorageFailed{Cause: err}
		}
		return existing, nil
	}

	return r.UpdateDocument(ctx, existing.ID, in)
}

// Rebuild regenerates every stored document under the given mode,
// invoking onDocument synchronously as each one completes, and finishes
// with a store-wide vacuum (spec §4.6).
func (r *DocumentRepository) Rebuild(ctx context.Context, mode RebuildMode, onDocument func(documentID string)) error {
	docs, err := r.engine.Documents.ListAll(ctx)
	if err != nil {
		return ErrStorageFailed{Cause: err}
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.rebuildOne(ctx, doc, mode); err != nil {
			return err
		}
		if onDocument != nil {
			onDocument(doc.ID)
		}
	}

	return r.engine.Vacuum(ctx, 0)
}

func (r *DocumentRepository) rebuildOne(ctx context.Context, doc store.Document, mode RebuildMode) error {
	switch mode {
	case RebuildEmbedOnly:
		chunks, err := r.engine.ChunksByDocument(ctx, doc.ID)
		if err != nil {
			return ErrStorageFailed{Cause: err}
		}
		if err := r.embedChunks(ctx, chunks); err != nil {
			return err
		}
		records := make([]store.Chunk, len(chunks))
		for i, c := range chunks {
			records[i] = *c
		}
		if err := r.engine.Chunks.Append(ctx, records); err != nil {
			return ErrStorageFailed{Cause: err}
		}
		return r.indexChunks(ctx, chunks)

	case RebuildRechunk:
		sdoc, ok, err := r.engine.StructuredDocument(ctx, doc.ID)
		if err != nil {
			return ErrStorageFailed{Cause: err}
		}
		if !ok {
			sdoc, err = syntheticDocument(doc.Content)
			if err != nil {
				return ErrStorageFailed{Cause: err}
			}
		}
		_, err = r.writeDocumentAndChunks(ctx, doc.ID, sdoc, DocumentInput{
			StructuredDoc: sdoc, URI: doc.URI, Title: doc.Title, Metadata: doc.Metadata,
		})
		return err

	case RebuildFull:
		if r.converter == nil || doc.URI == "" {
			// No converter or no source to re-fetch from: fall back to rechunk.
			return r.rebuildOne(ctx, doc, RebuildRechunk)
		}
		sdoc, err := r.converter.ConvertFile(ctx, doc.URI)
		if err != nil {
			return ErrConversionFailed{Cause: err}
		}
		_, err = r.writeDocumentAndChunks(ctx, doc.ID, sdoc, DocumentInput{
			StructuredDoc: sdoc, URI: doc.URI, Title: doc.Title, Metadata: doc.Metadata,
		})
		return err

	default:
		return ErrInvalidInput{Reason: fmt.Sprintf("unknown rebuild mode %q", mode)}
	}
}
