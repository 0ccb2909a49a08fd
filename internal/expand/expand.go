// Package expand implements the context expansion engine (spec §4.5): given
// a set of search hits, it grows each hit into a window of surrounding
// content — either by walking the source StructuredDocument's item order
// (structural expansion) or, when no structured document is available, by
// walking the chunk order within the document (chunk-order expansion).
//
// Grounded on the teacher's internal/search candidate-pooling shape
// (group-then-merge over a single scored list) but built fresh: the teacher
// has no analogue for structural document expansion since it indexes source
// files, not converter output.
package expand

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ragcore/ragcore/internal/docmodel"
	"github.com/ragcore/ragcore/internal/search"
	"github.com/ragcore/ragcore/internal/store"
)

// DocumentSource resolves a document id to its structured form, when one
// exists. ok is false when the document was ingested from raw text and has
// no structured representation to expand against.
type DocumentSource interface {
	StructuredDocument(ctx context.Context, documentID string) (doc *docmodel.StructuredDocument, ok bool, err error)
}

// ChunkSource fetches all chunks of a document in ascending Order, the
// traversal chunk-order expansion indexes into.
type ChunkSource interface {
	ChunksByDocument(ctx context.Context, documentID string) ([]*store.Chunk, error)
}

// Options bounds a single expansion call (spec §4.5).
type Options struct {
	Radius   int
	MaxItems int
	MaxChars int
}

// ellipsis marks content truncated to satisfy MaxChars.
const ellipsis = "\n...(truncated)"

// Engine expands search results into surrounding context windows.
type Engine struct {
	docs   DocumentSource
	chunks ChunkSource
}

// New wires a document source and chunk source into an expansion engine.
func New(docs DocumentSource, chunks ChunkSource) *Engine {
	return &Engine{docs: docs, chunks: chunks}
}

// Expand grows each result into its surrounding window. r=0 is a
// short-circuit: the input is returned unchanged (spec §4.5.3).
func (e *Engine) Expand(ctx context.Context, results []*search.Result, opts Options) ([]*search.Result, error) {
	if opts.Radius == 0 || len(results) == 0 {
		return results, nil
	}

	docIDs, groups := groupByDocument(results)

	out := make([]*search.Result, 0, len(results))
	for _, docID := range docIDs {
		group := groups[docID]
		if docID == "" {
			out = append(out, group...)
			continue
		}
		expanded, err := e.expandDocument(ctx, docID, group, opts)
		if err != nil {
			return nil, fmt.Errorf("expand: document %s: %w", docID, err)
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// groupByDocument buckets results by DocumentID, preserving the order in
// which each document id was first seen (spec §4.5: "original ordering
// preserved by first-hit document order").
func groupByDocument(results []*search.Result) ([]string, map[string][]*search.Result) {
	order := make([]string, 0)
	groups := make(map[string][]*search.Result)
	for _, r := range results {
		if _, ok := groups[r.DocumentID]; !ok {
			order = append(order, r.DocumentID)
		}
		groups[r.DocumentID] = append(groups[r.DocumentID], r)
	}
	return order, groups
}

func (e *Engine) expandDocument(ctx context.Context, docID string, group []*search.Result, opts Options) ([]*search.Result, error) {
	sdoc, ok, err := e.docs.StructuredDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	hasRefs := false
	for _, r := range group {
		if len(r.DocItemRefs) > 0 {
			hasRefs = true
			break
		}
	}

	if ok && sdoc != nil && hasRefs {
		return expandStructural(sdoc, group, opts), nil
	}
	return e.expandChunkOrder(ctx, docID, group, opts)
}

// labelPriority is the ONLY tie-break the engine uses: table > code >
// list-item > formula > caption > any text label > picture > other
// (spec §4.5.1).
func labelPriority(l docmodel.Label) int {
	switch l {
	case docmodel.LabelTable:
		return 0
	case docmodel.LabelCode:
		return 1
	case docmodel.LabelListItem:
		return 2
	case docmodel.LabelFormula:
		return 3
	case docmodel.LabelCaption:
		return 4
	case docmodel.LabelParagraph, docmodel.LabelTitle, docmodel.LabelSectionHeader:
		return 5
	case docmodel.LabelPicture:
		return 6
	default:
		return 7
	}
}

// isStructuralLabel reports whether expansion around this label ignores
// radius in favor of the full contiguous run sharing it (spec §4.5.1).
func isStructuralLabel(l docmodel.Label) bool {
	switch l {
	case docmodel.LabelTable, docmodel.LabelListItem, docmodel.LabelCode:
		return true
	default:
		return false
	}
}

// itemWindow is one result's raw (pre-merge) structural expansion.
type itemWindow struct {
	start, end   int // inclusive item indices
	primary      docmodel.Label
	hasPrimary   bool
	sources      []*search.Result
}

func expandStructural(sdoc *docmodel.StructuredDocument, group []*search.Result, opts Options) []*search.Result {
	n := sdoc.Len()
	if n == 0 {
		return group
	}
	items := sdoc.Iterate()
	labels := make([]docmodel.Label, n)
	for i, id := range items {
		labels[i] = id.Item.Label
	}

	var windows []*itemWindow
	var passthrough []*search.Result

	for _, r := range group {
		idxs := make([]int, 0, len(r.DocItemRefs))
		for _, ref := range r.DocItemRefs {
			if idx := sdoc.IndexOf(ref); idx >= 0 {
				idxs = append(idxs, idx)
			}
		}
		if len(idxs) == 0 {
			// Zero valid refs degrades to pass-through for this result
			// (spec §4.5.3).
			passthrough = append(passthrough, r)
			continue
		}

		minIdx, maxIdx := idxs[0], idxs[0]
		for _, idx := range idxs {
			if idx < minIdx {
				minIdx = idx
			}
			if idx > maxIdx {
				maxIdx = idx
			}
		}

		primary, hasPrimary := dominantLabel(labels, idxs)

		start, end := minIdx, maxIdx
		if hasPrimary && isStructuralLabel(primary) {
			// Radius ignored: expand outward to the full contiguous run
			// sharing this label.
			for start > 0 && labels[start-1] == primary {
				start--
			}
			for end < n-1 && labels[end+1] == primary {
				end++
			}
		} else {
			start = clamp(minIdx-opts.Radius, 0, n-1)
			end = clamp(maxIdx+opts.Radius, 0, n-1)
		}

		windows = append(windows, &itemWindow{start: start, end: end, primary: primary, hasPrimary: hasPrimary, sources: []*search.Result{r}})
	}

	merged := mergeItemWindows(windows)
	out := make([]*search.Result, 0, len(merged)+len(passthrough))
	for _, w := range merged {
		out = append(out, buildStructuralResult(sdoc, items, w, opts))
	}
	out = append(out, passthrough...)
	return out
}

// dominantLabel picks the highest-priority label among the items a result's
// refs resolve to.
func dominantLabel(labels []docmodel.Label, idxs []int) (docmodel.Label, bool) {
	if len(idxs) == 0 {
		return "", false
	}
	best := labels[idxs[0]]
	for _, idx := range idxs[1:] {
		if labelPriority(labels[idx]) < labelPriority(best) {
			best = labels[idx]
		}
	}
	return best, true
}

func mergeItemWindows(windows []*itemWindow) []*itemWindow {
	if len(windows) == 0 {
		return nil
	}
	sort.SliceStable(windows, func(i, j int) bool { return windows[i].start < windows[j].start })

	merged := []*itemWindow{windows[0]}
	for _, w := range windows[1:] {
		last := merged[len(merged)-1]
		if w.start <= last.end+1 { // overlapping or adjacent (spec §4.5)
			if w.end > last.end {
				last.end = w.end
			}
			if w.hasPrimary && (!last.hasPrimary || labelPriority(w.primary) < labelPriority(last.primary)) {
				last.primary = w.primary
				last.hasPrimary = true
			}
			last.sources = append(last.sources, w.sources...)
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func buildStructuralResult(sdoc *docmodel.StructuredDocument, items []docmodel.ItemDepth, w *itemWindow, opts Options) *search.Result {
	start, end := w.start, w.end
	if opts.MaxItems > 0 && end-start+1 > opts.MaxItems {
		end = start + opts.MaxItems - 1
	}

	first := w.sources[0]
	res := &search.Result{
		ChunkID:       first.ChunkID,
		DocumentID:    first.DocumentID,
		DocumentURI:   first.DocumentURI,
		DocumentTitle: first.DocumentTitle,
	}

	var maxScore float64
	refSeen := map[string]bool{}
	pageSeen := map[int]bool{}
	labelSeen := map[string]bool{}
	headingSeen := map[string]bool{}
	for _, src := range w.sources {
		if src.Score > maxScore {
			maxScore = src.Score
		}
		for _, ref := range src.DocItemRefs {
			if !refSeen[ref] {
				refSeen[ref] = true
				res.DocItemRefs = append(res.DocItemRefs, ref)
			}
		}
		for _, l := range src.Labels {
			if !labelSeen[l] {
				labelSeen[l] = true
				res.Labels = append(res.Labels, l)
			}
		}
		for _, h := range src.Headings {
			if !headingSeen[h] {
				headingSeen[h] = true
				res.Headings = append(res.Headings, h)
			}
		}
		res.BoundingBoxes = append(res.BoundingBoxes, src.BoundingBoxes...)
	}
	res.Score = maxScore

	var parts []string
	for i := start; i <= end && i <= w.end; i++ {
		it := items[i].Item
		if it.Text == "" {
			continue
		}
		for _, p := range it.Provenance {
			if !pageSeen[p.PageNo] {
				pageSeen[p.PageNo] = true
				res.PageNumbers = append(res.PageNumbers, p.PageNo)
			}
		}
		parts = append(parts, it.Text)
	}
	sort.Ints(res.PageNumbers)

	content := strings.Join(parts, "\n\n")
	res.Content = truncateContent(content, opts.MaxChars)
	return res
}

func (e *Engine) expandChunkOrder(ctx context.Context, docID string, group []*search.Result, opts Options) ([]*search.Result, error) {
	chunks, err := e.chunks.ChunksByDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	if len(chunks) == 0 {
		return group, nil
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	byContent := make(map[string]*store.Chunk, len(chunks))
	minOrder, maxOrder := chunks[0].Order, chunks[0].Order
	for _, c := range chunks {
		byID[c.ID] = c
		byContent[c.Content] = c
		if c.Order < minOrder {
			minOrder = c.Order
		}
		if c.Order > maxOrder {
			maxOrder = c.Order
		}
	}
	ordered := append([]*store.Chunk(nil), chunks...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	type cwindow struct {
		start, end int
		sources    []*search.Result
	}
	var windows []*cwindow
	var passthrough []*search.Result

	for _, r := range group {
		c, ok := byID[r.ChunkID]
		if !ok {
			c, ok = byContent[r.Content]
		}
		if !ok {
			// Chunk cannot be located: drop to pass-through (spec §4.5.2).
			passthrough = append(passthrough, r)
			continue
		}
		start := clamp(c.Order-opts.Radius, minOrder, maxOrder)
		end := clamp(c.Order+opts.Radius, minOrder, maxOrder)
		windows = append(windows, &cwindow{start: start, end: end, sources: []*search.Result{r}})
	}

	sort.SliceStable(windows, func(i, j int) bool { return windows[i].start < windows[j].start })
	var merged []*cwindow
	for _, w := range windows {
		if len(merged) > 0 {
			last := merged[len(merged)-1]
			if w.start <= last.end+1 {
				if w.end > last.end {
					last.end = w.end
				}
				last.sources = append(last.sources, w.sources...)
				continue
			}
		}
		merged = append(merged, w)
	}

	out := make([]*search.Result, 0, len(merged)+len(passthrough))
	for _, w := range merged {
		start, end := w.start, w.end
		if opts.MaxItems > 0 && end-start+1 > opts.MaxItems {
			end = start + opts.MaxItems - 1
		}

		first := w.sources[0]
		res := &search.Result{
			ChunkID:       first.ChunkID,
			DocumentID:    first.DocumentID,
			DocumentURI:   first.DocumentURI,
			DocumentTitle: first.DocumentTitle,
			PageNumbers:   first.PageNumbers,
			Headings:      first.Headings,
			Labels:        first.Labels,
			BoundingBoxes: first.BoundingBoxes,
		}
		var maxScore float64
		for _, src := range w.sources {
			if src.Score > maxScore {
				maxScore = src.Score
			}
		}
		res.Score = maxScore

		var content strings.Builder
		refSeen := map[string]bool{}
		for _, c := range ordered {
			if c.Order < start || c.Order > end {
				continue
			}
			content.WriteString(c.Content)
			for _, ref := range c.Metadata.DocItemRefs {
				if !refSeen[ref] {
					refSeen[ref] = true
					res.DocItemRefs = append(res.DocItemRefs, ref)
				}
			}
		}
		res.Content = truncateContent(content.String(), opts.MaxChars)
		out = append(out, res)
	}
	out = append(out, passthrough...)
	return out, nil
}

func truncateContent(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars - len(ellipsis)
	if cut < 0 {
		cut = maxChars
	}
	// Best-effort avoidance of a mid-table-row cut: back off to the last
	// paragraph/row boundary within the budget when one exists.
	if idx := strings.LastIndex(content[:cut], "\n"); idx > cut/2 {
		cut = idx
	}
	return content[:cut] + ellipsis
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
