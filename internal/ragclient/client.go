// Package ragclient implements the C11 Client Facade (spec §2): the single
// entry point an embedding application calls for ingestion and search,
// orchestrating the document repository, context expansion engine, and
// citation registry behind one bounded-retry surface. Grounded on the
// teacher's top-level client wiring (one façade type composing the
// collaborators cmd/ and external callers both use) and its
// ragerrors.Retry helper for the transient-failure policy spec §7 requires.
package ragclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/ragcore/ragcore/internal/citation"
	ragerrors "github.com/ragcore/ragcore/internal/errors"
	"github.com/ragcore/ragcore/internal/expand"
	"github.com/ragcore/ragcore/internal/repository"
	"github.com/ragcore/ragcore/internal/search"
	"github.com/ragcore/ragcore/internal/store"
)

// Client is the C11 Client Facade: ingestion (convert → chunk → embed →
// store, delegated to the Document Repository) and search (search →
// expand → cite), with bounded retry on transient embedding failures
// (spec §7).
type Client struct {
	Documents *repository.DocumentRepository
	Chunks    *repository.ChunkRepository
	expander  *expand.Engine
	citations *citation.Registry
	retry     ragerrors.RetryConfig
}

// New wires a Client from its collaborators. retry, if zero-valued, falls
// back to ragerrors.DefaultRetryConfig() (3 attempts, 1s initial delay,
// 16s cap, 2x backoff — spec §7's "bounded, exponential backoff").
func New(docs *repository.DocumentRepository, chunks *repository.ChunkRepository, expander *expand.Engine, retry ragerrors.RetryConfig) *Client {
	if retry == (ragerrors.RetryConfig{}) {
		retry = ragerrors.DefaultRetryConfig()
	}
	return &Client{
		Documents: docs,
		Chunks:    chunks,
		expander:  expander,
		citations: citation.New(),
		retry:     retry,
	}
}

// isTransientEmbeddingFailure reports whether err is the retryable class
// spec §7 names: an embedding-backend error, not a storage/conversion/
// input failure that retrying cannot fix.
func isTransientEmbeddingFailure(err error) bool {
	var embedErr repository.ErrEmbeddingFailed
	return errors.As(err, &embedErr)
}

// withEmbeddingRetry retries fn only while it keeps failing with a
// transient embedding error, up to c.retry's bound.
func (c *Client) withEmbeddingRetry(ctx context.Context, fn func() error) error {
	var lastNonRetryable error
	err := ragerrors.Retry(ctx, c.retry, func() error {
		if err := fn(); err != nil {
			if !isTransientEmbeddingFailure(err) {
				lastNonRetryable = err
				return nil // stop retrying: Retry treats nil as success
			}
			return err
		}
		return nil
	})
	if lastNonRetryable != nil {
		return lastNonRetryable
	}
	return err
}

// Ingest creates a new document, retrying the embedding step under
// transient failure (spec §7).
func (c *Client) Ingest(ctx context.Context, in repository.DocumentInput) (*store.Document, error) {
	var result *store.Document
	err := c.withEmbeddingRetry(ctx, func() error {
		doc, err := c.Documents.CreateDocument(ctx, in)
		if err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert upserts a document by URI, retrying the embedding step under
// transient failure (spec §7).
func (c *Client) Upsert(ctx context.Context, in repository.DocumentInput) (*store.Document, error) {
	var result *store.Document
	err := c.withEmbeddingRetry(ctx, func() error {
		doc, err := c.Documents.UpsertByURI(ctx, in)
		if err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Rebuild delegates to the Document Repository's rebuild modes. embed_only
// re-embeds in place and benefits from the same retry policy as Ingest.
func (c *Client) Rebuild(ctx context.Context, mode repository.RebuildMode, onDocument func(documentID string)) error {
	return c.withEmbeddingRetry(ctx, func() error {
		return c.Documents.Rebuild(ctx, mode, onDocument)
	})
}

// CitedResult pairs a ranked, expanded search result with its stable
// citation number (spec §4.7): repeated references to the same chunk
// within one session reuse the same number.
type CitedResult struct {
	*search.Result
	Citation int
}

// Search runs a chunk search, expands each hit into its surrounding
// context window, and assigns a stable citation number to every result
// (spec §2: search → expand → annotate).
func (c *Client) Search(ctx context.Context, in repository.SearchInput, expandOpts expand.Options) ([]CitedResult, error) {
	results, err := c.Chunks.Search(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("ragclient: search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	if c.expander != nil {
		results, err = c.expander.Expand(ctx, results, expandOpts)
		if err != nil {
			return nil, fmt.Errorf("ragclient: expand: %w", err)
		}
	}

	out := make([]CitedResult, len(results))
	for i, r := range results {
		out[i] = CitedResult{Result: r, Citation: c.citations.GetOrAssign(r.ChunkID)}
	}
	return out, nil
}

// Citations exposes the session's citation registry, e.g. for rendering a
// references list alongside search output (spec §4.7).
func (c *Client) Citations() *citation.Registry {
	return c.citations
}
