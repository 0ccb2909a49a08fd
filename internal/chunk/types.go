package chunk

import (
	"context"

	"github.com/ragcore/ragcore/internal/docmodel"
	"github.com/ragcore/ragcore/internal/store"
)

// Chunk size defaults (spec §4.1).
const (
	DefaultTokenBudget = 256
	TokensPerChar      = 4 // rough approximation: 4 chars = 1 token
)

// Policy configures chunk assembly (spec §4.1): a token budget, and the two
// named policy flags the spec calls out.
type Policy struct {
	TokenBudget       int
	MergePeers        bool // concatenate adjacent small same-label items until budget is exceeded
	UseMarkdownTables bool // split oversized tables at row boundaries, repeating the header row
}

// DefaultPolicy returns the spec's default budget with both flags enabled.
func DefaultPolicy() Policy {
	return Policy{TokenBudget: DefaultTokenBudget, MergePeers: true, UseMarkdownTables: true}
}

// ErrInvalidDocument is returned when a StructuredDocument contains an item
// whose parent_ref does not resolve to any item (spec §4.1 failure mode).
type ErrInvalidDocument struct {
	Ref string
}

func (e ErrInvalidDocument) Error() string {
	return "chunk: invalid document: unresolvable ref " + e.Ref
}

// Chunker splits a StructuredDocument into store.Chunk records.
type Chunker interface {
	Chunk(ctx context.Context, documentID string, doc *docmodel.StructuredDocument) ([]*store.Chunk, error)
}
