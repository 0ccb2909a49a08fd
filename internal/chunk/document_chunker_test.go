package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/docmodel"
)

func buildDoc(t *testing.T, items []docmodel.DocItem) *docmodel.StructuredDocument {
	t.Helper()
	depths := make([]int, len(items))
	doc, err := docmodel.New(items, depths, nil)
	require.NoError(t, err)
	return doc
}

func TestChunk_EmptyDocumentProducesZeroChunks(t *testing.T) {
	doc := buildDoc(t, nil)
	c := New(DefaultPolicy())
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestChunk_HeadingPathPopulatedFromAncestorSections(t *testing.T) {
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelTitle, Text: "Guide"},
		{SelfRef: "#/texts/1", Label: docmodel.LabelSectionHeader, Text: "Setup"},
		{SelfRef: "#/texts/2", Label: docmodel.LabelParagraph, Text: "Install the CLI."},
	})
	c := New(DefaultPolicy())
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"Guide", "Setup"}, out[0].Metadata.Headings)
	assert.Equal(t, "Install the CLI.", out[0].Content)
	assert.Equal(t, []string{"#/texts/2"}, out[0].Metadata.DocItemRefs)
}

func TestChunk_NeverSpansTwoSectionHeaderBoundaries(t *testing.T) {
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelSectionHeader, Text: "A"},
		{SelfRef: "#/texts/1", Label: docmodel.LabelParagraph, Text: "a body"},
		{SelfRef: "#/texts/2", Label: docmodel.LabelSectionHeader, Text: "B"},
		{SelfRef: "#/texts/3", Label: docmodel.LabelParagraph, Text: "b body"},
	})
	c := New(DefaultPolicy())
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"A"}, out[0].Metadata.Headings)
	assert.Equal(t, []string{"B"}, out[1].Metadata.Headings)
}

func TestChunk_TablePreservedAsSingleChunkWhenItFits(t *testing.T) {
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelParagraph, Text: "before"},
		{SelfRef: "#/tables/0", Label: docmodel.LabelTable, Text: "| a | b |\n|---|---|\n| 1 | 2 |"},
		{SelfRef: "#/texts/1", Label: docmodel.LabelParagraph, Text: "after"},
	})
	c := New(DefaultPolicy())
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "| a | b |\n|---|---|\n| 1 | 2 |", out[1].Content)
	assert.Equal(t, []string{"table"}, out[1].Metadata.Labels)
}

func TestChunk_MergePeersConcatenatesAdjacentSmallSameLabelItems(t *testing.T) {
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/tables/0", Label: docmodel.LabelTable, Text: "row a"},
		{SelfRef: "#/tables/1", Label: docmodel.LabelTable, Text: "row b"},
	})
	policy := DefaultPolicy()
	policy.MergePeers = true
	c := New(policy)
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"#/tables/0", "#/tables/1"}, out[0].Metadata.DocItemRefs)
}

func TestChunk_MergePeersDisabledKeepsStructuralItemsSeparate(t *testing.T) {
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/tables/0", Label: docmodel.LabelTable, Text: "row a"},
		{SelfRef: "#/tables/1", Label: docmodel.LabelTable, Text: "row b"},
	})
	policy := DefaultPolicy()
	policy.MergePeers = false
	c := New(policy)
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestChunk_OversizedCodeSplitsAcrossConsecutiveChunksSameLabel(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, "line of code that takes up some space")
	}
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelCode, Text: strings.Join(lines, "\n")},
	})
	policy := DefaultPolicy()
	policy.TokenBudget = 64
	c := New(policy)
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	require.Greater(t, len(out), 1)
	for _, ch := range out {
		assert.Equal(t, []string{"code"}, ch.Metadata.Labels)
		assert.Equal(t, []string{"#/texts/0"}, ch.Metadata.DocItemRefs)
	}
}

func TestChunk_OversizedTableSplitsAtRowBoundariesRepeatingHeader(t *testing.T) {
	var rows []string
	rows = append(rows, "| a | b |", "|---|---|")
	for i := 0; i < 100; i++ {
		rows = append(rows, "| 1 | 2 |")
	}
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/tables/0", Label: docmodel.LabelTable, Text: strings.Join(rows, "\n")},
	})
	policy := DefaultPolicy()
	policy.TokenBudget = 20
	policy.UseMarkdownTables = true
	c := New(policy)
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	require.Greater(t, len(out), 1)
	for _, ch := range out {
		assert.True(t, strings.HasPrefix(ch.Content, "| a | b |"))
	}
}

func TestChunk_TokenBudgetFlushesLargeParagraphRun(t *testing.T) {
	policy := DefaultPolicy()
	policy.TokenBudget = 10
	c := New(policy)

	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelParagraph, Text: "this paragraph is long enough to exceed a small budget on its own"},
		{SelfRef: "#/texts/1", Label: docmodel.LabelParagraph, Text: "and so is this second one, which should land in its own chunk"},
	})
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestChunk_DanglingParentRefFailsWithInvalidDocument(t *testing.T) {
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelParagraph, Text: "orphan", ParentRef: "#/texts/missing"},
	})
	c := New(DefaultPolicy())
	_, err := c.Chunk(context.Background(), "d1", doc)
	require.Error(t, err)
	assert.IsType(t, ErrInvalidDocument{}, err)
}

func TestChunk_DocItemRefsCoverEveryNonEmptyTextItemInOrderNoDuplicates(t *testing.T) {
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelParagraph, Text: "one"},
		{SelfRef: "#/pictures/0", Label: docmodel.LabelPicture, Text: ""},
		{SelfRef: "#/texts/1", Label: docmodel.LabelParagraph, Text: "two"},
	})
	c := New(DefaultPolicy())
	out, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)

	var refs []string
	for _, ch := range out {
		refs = append(refs, ch.Metadata.DocItemRefs...)
	}
	assert.Equal(t, []string{"#/texts/0", "#/texts/1"}, refs)
}

func TestChunk_IDsAreStableAndOrdered(t *testing.T) {
	doc := buildDoc(t, []docmodel.DocItem{
		{SelfRef: "#/texts/0", Label: docmodel.LabelParagraph, Text: "one"},
	})
	c := New(DefaultPolicy())
	first, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), "d1", doc)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 0, first[0].Order)
}
