package filterql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches_SimpleEquality(t *testing.T) {
	ok, err := Matches(`title = 'Invoice'`, Row{"title": "Invoice"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(`title = 'Invoice'`, Row{"title": "Receipt"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatches_NotEquals(t *testing.T) {
	ok, err := Matches(`title != 'Invoice'`, Row{"title": "Receipt"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatches_Like(t *testing.T) {
	ok, err := Matches(`uri LIKE '%.pdf'`, Row{"uri": "docs/report.pdf"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(`uri LIKE '%.pdf'`, Row{"uri": "docs/report.docx"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatches_LowerFunction(t *testing.T) {
	ok, err := Matches(`LOWER(title) = 'invoice'`, Row{"title": "INVOICE"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatches_In(t *testing.T) {
	ok, err := Matches(`status IN ('draft', 'final')`, Row{"status": "final"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(`status IN ('draft', 'final')`, Row{"status": "archived"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatches_AndOrParens(t *testing.T) {
	filter := `(status = 'final' OR status = 'draft') AND LOWER(title) LIKE '%invoice%'`
	ok, err := Matches(filter, Row{"status": "draft", "title": "Q1 Invoice"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(filter, Row{"status": "archived", "title": "Q1 Invoice"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatches_QuoteDoublingEscape(t *testing.T) {
	ok, err := Matches(`title = 'O''Brien'''`, Row{"title": "O'Brien'"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEscapeLiteral_RoundTrips(t *testing.T) {
	original := `O'Brien's Report`
	escaped := EscapeLiteral(original)
	filter := "title = '" + escaped + "'"

	ok, err := Matches(filter, Row{"title": original})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParse_RejectsMalformedInput(t *testing.T) {
	_, err := Parse(`title = `)
	assert.Error(t, err)

	_, err = Parse(`title = 'unterminated`)
	assert.Error(t, err)

	_, err = Parse(`(title = 'a'`)
	assert.Error(t, err)

	_, err = Parse(`title`)
	assert.Error(t, err)
}

func TestCompile_ReusablePredicate(t *testing.T) {
	expr, err := Parse(`status = 'final'`)
	require.NoError(t, err)
	pred := Compile(expr)

	assert.True(t, pred(Row{"status": "final"}))
	assert.False(t, pred(Row{"status": "draft"}))
}
