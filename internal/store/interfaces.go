package store

import "context"

// FTSDoc is the payload a BM25Index indexes: a chunk id paired with the
// contextualized text (content_fts) that keyword search matches against.
type FTSDoc struct {
	ID      string
	Content string
}

// IndexStats describes a BM25 index's size.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Config configures a BM25Index.
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultBM25Config returns the default BM25 tuning.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords filters common words with little discriminative value.
var DefaultStopWords = []string{
	"the", "a", "an", "is", "are", "was", "were", "be", "been",
	"and", "or", "of", "to", "in", "on", "for", "with", "as", "it",
}

// BM25Index provides full-text keyword search over chunks' content_fts.
type BM25Index interface {
	Index(ctx context.Context, docs []*FTSDoc) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorStore provides HNSW-based ANN search over chunk embeddings.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}
