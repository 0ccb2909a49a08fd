// Package store provides the versioned persistence layer for ragcore: four
// tables (documents, chunks, settings, mm_assets) with per-table version
// history, a snapshot/restore rollback primitive, full-text indexing over a
// contextualized content column, and HNSW-based vector ANN search.
package store

import (
	"context"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the schema version this build of the store
// expects. The migration gate (internal/migrate) compares it against the
// version recorded in the settings row on open.
const CurrentSchemaVersion = "1.0.0"

// Document is a single ingested source: its markdown export, provenance
// metadata, and (optionally) the structured form it was converted from.
type Document struct {
	ID                   string
	Content              string // markdown export of the structured form
	URI                  string // canonical origin; upsert key via md5
	Title                string
	Metadata             map[string]string // always carries md5 + contentType when ingested from a source
	CreatedAt            time.Time
	UpdatedAt            time.Time
	StructuredDocJSON    []byte // versioned JSON form, optional
	StructuredDocVersion string
}

// ChunkMetadata carries everything the context-expansion engine and
// citation registry need beyond raw content.
type ChunkMetadata struct {
	DocItemRefs []string `json:"doc_item_refs"`
	Headings    []string `json:"headings,omitempty"`
	Labels      []string `json:"labels"`
	PageNumbers []int    `json:"page_numbers"`
}

// Chunk is the unit of embedding and retrieval.
type Chunk struct {
	ID         string
	DocumentID string
	Content    string // raw text: what is embedded and returned
	Metadata   ChunkMetadata
	Order      int // dense, starts at 0, position within the document
	Embedding  []float32
}

// ContentFTS returns the contextualized form stored in content_fts: headings
// joined by newline, then the raw content. Heading context participates in
// keyword matching without polluting the embedded/returned text (spec §3).
func (c *Chunk) ContentFTS() string {
	if len(c.Metadata.Headings) == 0 {
		return c.Content
	}
	out := ""
	for _, h := range c.Metadata.Headings {
		out += h + "\n"
	}
	return out + c.Content
}

// MMAsset is a stored image region (bbox crop) indexed for multimodal
// retrieval, keyed by (document_id, doc_item_ref, item_index).
type MMAsset struct {
	DocumentID string
	DocItemRef string
	ItemIndex  int
	PageNo     int
	BBox       BBox
	Caption    string
	Image      []byte
	Embedding  []float32 // optional, possibly different dim than chunk embeddings
}

// BBox mirrors docmodel.BoundingBox for storage without importing the
// converter-facing package into the persistence layer.
type BBox struct {
	Left, Top, Right, Bottom float64
}

// Settings is the singleton configuration row (id=1).
type Settings struct {
	EmbeddingModelName string
	EmbeddingVectorDim int
	ChunkerConfigJSON  string
	SchemaVersion      string
}

// ErrDimensionMismatch indicates the runtime embedder's dimension does not
// match the dimension recorded in the settings row (spec §3 invariant).
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: settings recorded %d, runtime embedder reports %d", e.Expected, e.Got)
}

// ErrReadOnly is returned by every mutating operation on a read-only store.
type ErrReadOnly struct {
	Op string
}

func (e ErrReadOnly) Error() string {
	return fmt.Sprintf("store: %s: store is read-only", e.Op)
}

// ErrNotFound indicates a document or chunk id does not exist.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("store: %s %q not found", e.Kind, e.ID)
}

// TableVersion describes one entry in a table's version history.
type TableVersion struct {
	Version    int64
	RecordedAt time.Time
}

// VersionedTable is the contract every one of the four tables satisfies
// (spec §4.3): append/update/delete plus the version history primitives
// that the snapshot/restore helper and `vacuum` operate on.
type VersionedTable interface {
	ListVersions(ctx context.Context) ([]TableVersion, error)
	Restore(ctx context.Context, version int64) error
	CurrentVersion(ctx context.Context) (int64, error)
	Optimize(ctx context.Context) error
	Vacuum(ctx context.Context, retention time.Duration) error
}

// BM25Result represents a single BM25/FTS search result.
type BM25Result struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// VectorResult represents a single vector ANN search result.
type VectorResult struct {
	ChunkID  string
	Distance float32 // lower is more similar
	Score    float32 // normalized similarity in [0,1]
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" (default) or "l2"
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// ANNBuildThreshold is the minimum chunk count required before create_index
// does anything (spec §4.3); below it, building the ANN graph is a no-op.
const ANNBuildThreshold = 256
