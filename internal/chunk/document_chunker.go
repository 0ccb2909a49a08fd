package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ragcore/ragcore/internal/docmodel"
	"github.com/ragcore/ragcore/internal/store"
)

// DocumentChunker is the C2 Chunker (spec §4.1): it walks a
// StructuredDocument in order, tracking the section-header path, and emits
// budgeted store.Chunk records. Grounded on the teacher's MarkdownChunker
// (header-path tracking, token-budget paragraph accumulation, atomic-block
// preservation), adapted from raw markdown text to StructuredDocument's
// self_ref/label/depth model.
type DocumentChunker struct {
	policy Policy
}

// New returns a DocumentChunker with the given policy.
func New(policy Policy) *DocumentChunker {
	if policy.TokenBudget <= 0 {
		policy.TokenBudget = DefaultTokenBudget
	}
	return &DocumentChunker{policy: policy}
}

var _ Chunker = (*DocumentChunker)(nil)

// accumulator holds the items pending assembly into the next chunk.
type accumulator struct {
	items  []docmodel.ItemDepth
	tokens int
}

func (a *accumulator) reset() {
	a.items = nil
	a.tokens = 0
}

func (a *accumulator) empty() bool {
	return len(a.items) == 0
}

// Chunk implements Chunker.
func (c *DocumentChunker) Chunk(ctx context.Context, documentID string, doc *docmodel.StructuredDocument) ([]*store.Chunk, error) {
	if doc == nil || doc.Len() == 0 {
		return nil, nil
	}

	if err := validateRefs(doc); err != nil {
		return nil, err
	}

	items := doc.Iterate()
	var out []*store.Chunk
	order := 0
	var headingPath []string
	headingBase := 0 // 1 once a title heads the path, so section depths sit below it
	var acc accumulator

	emit := func() {
		if acc.empty() {
			return
		}
		if ch := buildChunk(documentID, order, headingPath, acc.items); ch != nil {
			out = append(out, ch)
			order++
		}
		acc.reset()
	}

	for _, id := range items {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		item := id.Item

		switch item.Label {
		case docmodel.LabelTitle:
			emit()
			headingPath = []string{item.Text}
			headingBase = 1
			continue
		case docmodel.LabelSectionHeader:
			emit()
			headingPath = truncateHeadingPath(headingPath, headingBase+id.Depth)
			headingPath = append(headingPath, item.Text)
			continue
		}

		if item.Text == "" {
			continue
		}

		if isStructural(item.Label) {
			tokens := estimateTokens(item.Text)
			if tokens <= c.policy.TokenBudget {
				if c.policy.MergePeers && canMergePeer(acc, item.Label, tokens, c.policy.TokenBudget) {
					acc.items = append(acc.items, id)
					acc.tokens += tokens
					continue
				}
				emit()
				acc.items = append(acc.items, id)
				acc.tokens = tokens
				if !c.policy.MergePeers {
					emit()
				}
				continue
			}
			emit()
			out = append(out, c.splitOversized(documentID, &order, headingPath, id)...)
			continue
		}

		// Regular prose item: paragraph, list-item, caption, footnote, formula,
		// page-header, page-footer. Never folds into a pending structural
		// accumulator, even if there's budget left.
		tokens := estimateTokens(item.Text)
		if !acc.empty() && (accHasStructural(acc) || acc.tokens+tokens > c.policy.TokenBudget) {
			emit()
		}
		acc.items = append(acc.items, id)
		acc.tokens += tokens
	}
	emit()

	return out, nil
}

// canMergePeer reports whether item (of label with tokens) can be folded
// into the pending accumulator: the accumulator must be non-empty, every
// item in it must already share label, and the combined size must still fit
// the budget.
func canMergePeer(acc accumulator, label docmodel.Label, tokens, budget int) bool {
	if acc.empty() {
		return false
	}
	if acc.tokens+tokens > budget {
		return false
	}
	for _, it := range acc.items {
		if it.Item.Label != label {
			return false
		}
	}
	return true
}

// accHasStructural reports whether the accumulator currently holds a
// structural (table/code) item.
func accHasStructural(acc accumulator) bool {
	for _, it := range acc.items {
		if isStructural(it.Item.Label) {
			return true
		}
	}
	return false
}

// splitOversized breaks a single structural item (table or code) too large
// for the budget into consecutive chunks that all bear its label as their
// sole primary label (spec §4.1.c).
func (c *DocumentChunker) splitOversized(documentID string, order *int, headingPath []string, id docmodel.ItemDepth) []*store.Chunk {
	var fragments []string
	if id.Item.Label == docmodel.LabelTable && c.policy.UseMarkdownTables {
		fragments = splitTableRows(id.Item.Text, c.policy.TokenBudget)
	} else {
		fragments = splitLines(id.Item.Text, c.policy.TokenBudget)
	}

	out := make([]*store.Chunk, 0, len(fragments))
	for _, frag := range fragments {
		if strings.TrimSpace(frag) == "" {
			continue
		}
		fragItem := id
		fragItem.Item.Text = frag
		ch := buildChunk(documentID, *order, headingPath, []docmodel.ItemDepth{fragItem})
		if ch == nil {
			continue
		}
		out = append(out, ch)
		*order++
	}
	return out
}

// buildChunk assembles a store.Chunk from one or more adjacent document
// items sharing the same emission window.
func buildChunk(documentID string, order int, headingPath []string, items []docmodel.ItemDepth) *store.Chunk {
	if len(items) == 0 {
		return nil
	}

	var content strings.Builder
	refs := make([]string, 0, len(items))
	labels := make([]string, 0, len(items))
	pages := make([]int, 0)
	seenPage := map[int]bool{}

	for i, id := range items {
		if i > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(id.Item.Text)
		refs = append(refs, id.Item.SelfRef)
		label := string(id.Item.Label)
		if len(labels) == 0 || labels[len(labels)-1] != label {
			labels = append(labels, label)
		}
		for _, p := range id.Item.Provenance {
			if !seenPage[p.PageNo] {
				seenPage[p.PageNo] = true
				pages = append(pages, p.PageNo)
			}
		}
	}

	return &store.Chunk{
		ID:         generateChunkID(documentID, order),
		DocumentID: documentID,
		Content:    content.String(),
		Order:      order,
		Metadata: store.ChunkMetadata{
			DocItemRefs: refs,
			Headings:    append([]string{}, headingPath...),
			Labels:      labels,
			PageNumbers: pages,
		},
	}
}

// truncateHeadingPath drops stale deeper headings when a new section-header
// appears at depth d, so headingPath always reflects the live ancestor path.
func truncateHeadingPath(path []string, depth int) []string {
	if depth < len(path) {
		return append([]string{}, path[:depth]...)
	}
	return append([]string{}, path...)
}

func isStructural(l docmodel.Label) bool {
	return l == docmodel.LabelTable || l == docmodel.LabelCode
}

// estimateTokens approximates token count from character count, matching
// the teacher's TokensPerChar heuristic.
func estimateTokens(s string) int {
	n := len(s) / TokensPerChar
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// generateChunkID derives a stable, content-address-free chunk id from the
// document id and its position, matching the teacher's
// SHA256(...)[:16] convention.
func generateChunkID(documentID string, order int) string {
	sum := sha256.Sum256([]byte(documentID + ":" + strconv.Itoa(order)))
	return hex.EncodeToString(sum[:])[:16]
}

// splitLines breaks text into budget-sized fragments on line boundaries,
// used for oversized code blocks and as the table fallback.
func splitLines(text string, budget int) []string {
	lines := strings.Split(text, "\n")
	var out []string
	var cur strings.Builder
	curTokens := 0
	for _, line := range lines {
		lt := estimateTokens(line)
		if curTokens > 0 && curTokens+lt > budget {
			out = append(out, cur.String())
			cur.Reset()
			curTokens = 0
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(line)
		curTokens += lt
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitTableRows breaks an oversized markdown table at row boundaries,
// repeating the header row (and its separator row, if present) in every
// fragment so each remains independently parseable.
func splitTableRows(text string, budget int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return splitLines(text, budget)
	}

	header := lines[0]
	headerTokens := estimateTokens(header)
	bodyStart := 1
	if isSeparatorRow(lines[1]) {
		header = header + "\n" + lines[1]
		headerTokens = estimateTokens(header)
		bodyStart = 2
	}

	var out []string
	var cur strings.Builder
	curTokens := headerTokens
	cur.WriteString(header)

	flush := func() {
		if curTokens > headerTokens {
			out = append(out, cur.String())
		}
		cur.Reset()
		cur.WriteString(header)
		curTokens = headerTokens
	}

	for _, row := range lines[bodyStart:] {
		if strings.TrimSpace(row) == "" {
			continue
		}
		rt := estimateTokens(row)
		if curTokens+rt > budget && curTokens > headerTokens {
			flush()
		}
		cur.WriteString("\n")
		cur.WriteString(row)
		curTokens += rt
	}
	if curTokens > headerTokens {
		out = append(out, cur.String())
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func isSeparatorRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "|") {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '|', '-', ':', ' ':
		default:
			return false
		}
	}
	return true
}

// validateRefs fails with ErrInvalidDocument if any item's parent_ref does
// not resolve within the document (spec §4.1 failure mode).
func validateRefs(doc *docmodel.StructuredDocument) error {
	for _, id := range doc.Iterate() {
		if id.Item.ParentRef == "" {
			continue
		}
		if doc.IndexOf(id.Item.ParentRef) < 0 {
			return ErrInvalidDocument{Ref: id.Item.ParentRef}
		}
	}
	return nil
}
