package docmodel

import (
	"encoding/json"
	"fmt"
)

// StructuredDocument is an immutable, ordered tree of DocItems produced by a
// converter. Items are stored flattened in document order; depth is tracked
// alongside each item so callers can reconstruct nesting without walking a
// pointer graph. self_refs are unique within the document and iteration
// order is stable across serialization round-trips (the invariant that the
// context-expansion engine relies on for its structural indices).
type StructuredDocument struct {
	version string
	items   []DocItem
	depths  []int
	byRef   map[string]int // self_ref -> index into items/depths
	pages   map[int]PageInfo
}

// New builds a StructuredDocument from a flat, depth-annotated item list.
// It rejects documents with duplicate self_refs so the invariant in spec
// §3 holds from construction onward.
func New(items []DocItem, depths []int, pages map[int]PageInfo) (*StructuredDocument, error) {
	if len(items) != len(depths) {
		return nil, fmt.Errorf("docmodel: items and depths length mismatch: %d vs %d", len(items), len(depths))
	}

	byRef := make(map[string]int, len(items))
	for i, it := range items {
		if it.SelfRef == "" {
			return nil, fmt.Errorf("docmodel: item %d has empty self_ref", i)
		}
		if _, dup := byRef[it.SelfRef]; dup {
			return nil, fmt.Errorf("docmodel: duplicate self_ref %q", it.SelfRef)
		}
		byRef[it.SelfRef] = i
	}

	if pages == nil {
		pages = map[int]PageInfo{}
	}

	return &StructuredDocument{
		version: schemaVersion,
		items:   items,
		depths:  depths,
		byRef:   byRef,
		pages:   pages,
	}, nil
}

// Version returns the schema version this document was built or
// deserialized with.
func (d *StructuredDocument) Version() string {
	return d.version
}

// Len returns the number of items in the document.
func (d *StructuredDocument) Len() int {
	return len(d.items)
}

// ItemDepth pairs a DocItem with its nesting depth, the unit the iteration
// contract yields.
type ItemDepth struct {
	Item  DocItem
	Depth int
}

// Iterate returns every (item, depth) pair in document order. This is the
// single in-order traversal the rest of the system (chunker, context
// expansion) indexes into; it must stay deterministic and stable across
// serialization round-trips.
func (d *StructuredDocument) Iterate() []ItemDepth {
	out := make([]ItemDepth, len(d.items))
	for i, it := range d.items {
		out[i] = ItemDepth{Item: it, Depth: d.depths[i]}
	}
	return out
}

// ItemAt returns the item at a given document-order index.
func (d *StructuredDocument) ItemAt(i int) (DocItem, bool) {
	if i < 0 || i >= len(d.items) {
		return DocItem{}, false
	}
	return d.items[i], true
}

// IndexOf returns the document-order index of the item with the given
// self_ref, or -1 if it does not resolve.
func (d *StructuredDocument) IndexOf(selfRef string) int {
	if idx, ok := d.byRef[selfRef]; ok {
		return idx
	}
	return -1
}

// Resolve returns the item referenced by selfRef.
func (d *StructuredDocument) Resolve(selfRef string) (DocItem, bool) {
	idx, ok := d.byRef[selfRef]
	if !ok {
		return DocItem{}, false
	}
	return d.items[idx], true
}

// Page returns page layout info for a 1-indexed page number.
func (d *StructuredDocument) Page(pageNo int) (PageInfo, bool) {
	p, ok := d.pages[pageNo]
	return p, ok
}

// Pages returns all known pages keyed by page number.
func (d *StructuredDocument) Pages() map[int]PageInfo {
	return d.pages
}

// MarshalJSON serializes the document to its versioned JSON form.
func (d *StructuredDocument) MarshalJSON() ([]byte, error) {
	return json.Marshal(serialForm{
		Version: d.version,
		Items:   d.items,
		Pages:   d.pages,
	})
}

// UnmarshalJSON restores a document from its versioned JSON form, rebuilding
// the self_ref index. Depth is not persisted explicitly on the wire; it is
// recomputed from parent_ref chains so iteration order and nesting survive
// the round-trip untouched.
func (d *StructuredDocument) UnmarshalJSON(data []byte) error {
	var sf serialForm
	if err := json.Unmarshal(data, &sf); err != nil {
		return err
	}

	byRef := make(map[string]int, len(sf.Items))
	for i, it := range sf.Items {
		byRef[it.SelfRef] = i
	}

	depths := make([]int, len(sf.Items))
	for i, it := range sf.Items {
		depths[i] = depthOf(it, sf.Items, byRef, 0)
	}

	d.version = sf.Version
	if d.version == "" {
		d.version = schemaVersion
	}
	d.items = sf.Items
	d.depths = depths
	d.byRef = byRef
	d.pages = sf.Pages
	if d.pages == nil {
		d.pages = map[int]PageInfo{}
	}
	return nil
}

func depthOf(it DocItem, items []DocItem, byRef map[string]int, guard int) int {
	if it.ParentRef == "" || guard > len(items) {
		return 0
	}
	parentIdx, ok := byRef[it.ParentRef]
	if !ok {
		return 0
	}
	return 1 + depthOf(items[parentIdx], items, byRef, guard+1)
}

// ToMarkdown renders the document as a markdown export, used by the
// Document Repository to populate Document.content when ingesting
// structured input directly (spec §3, Document.content).
func (d *StructuredDocument) ToMarkdown() string {
	var out []byte
	for _, it := range d.items {
		if it.Text == "" {
			continue
		}
		switch it.Label {
		case LabelTitle:
			out = append(out, "# "+it.Text+"\n\n"...)
		case LabelSectionHeader:
			out = append(out, "## "+it.Text+"\n\n"...)
		case LabelListItem:
			out = append(out, "- "+it.Text+"\n"...)
		case LabelCode:
			out = append(out, "```\n"+it.Text+"\n```\n\n"...)
		default:
			out = append(out, it.Text+"\n\n"...)
		}
	}
	return string(out)
}
