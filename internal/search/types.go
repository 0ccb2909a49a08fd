// Package search implements hybrid (vector + full-text) retrieval over
// chunks: three search modes (vector, fts, hybrid), RRF fusion of the two
// ranked lists, score normalization, and an optional external reranker
// (spec §4.4).
package search

import (
	"time"
)

// Mode selects which of the three search modes a query runs in.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeFTS    Mode = "fts"
	ModeHybrid Mode = "hybrid"
)

// DefaultRRFConstant is k in the reciprocal rank fusion formula
// 1/(k+rank) (spec §4.4).
const DefaultRRFConstant = 60

// Weights configures the relative importance of BM25 vs semantic search in
// RRF fusion.
type Weights struct {
	BM25     float64
	Semantic float64
}

// DefaultWeights gives both lists equal say; RRF's rank-based scoring
// already dampens the effect of a list's raw score scale.
func DefaultWeights() Weights {
	return Weights{BM25: 1.0, Semantic: 1.0}
}

// Options configures a single search call.
type Options struct {
	Mode    Mode
	Limit   int // results to return; with a Reranker, the candidate pool is 10x this (spec §4.4)
	Weights Weights
	// DocumentIDs restricts the search to this set of documents, resolved
	// ahead of time by the caller from a document-scope filter (spec §4.4).
	DocumentIDs []string
}

// Config configures a HybridSearch instance.
type Config struct {
	DefaultLimit  int
	MaxLimit      int
	RRFConstant   int
	SearchTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:  10,
		MaxLimit:      100,
		RRFConstant:   DefaultRRFConstant,
		SearchTimeout: 5 * time.Second,
	}
}

// BoundingBox mirrors docmodel.BoundingBox for result annotation without
// importing the converter-facing package into search.
type BoundingBox struct {
	Left, Top, Right, Bottom float64
}

// Result is a single ranked chunk, annotated with everything the citation
// registry and context-expansion engine need downstream (spec §3).
type Result struct {
	Content       string
	Score         float64
	ChunkID       string
	DocumentID    string
	DocumentURI   string
	DocumentTitle string
	DocItemRefs   []string
	PageNumbers   []int
	Headings      []string
	Labels        []string
	BoundingBoxes []BoundingBox

	BM25Score  float64
	VectorScore float64
	BM25Rank   int // 1-indexed, 0 if absent from the BM25 list
	VectorRank int // 1-indexed, 0 if absent from the vector list
}

// EngineStats reports index sizes for observability.
type EngineStats struct {
	BM25DocumentCount int
	VectorCount       int
}
