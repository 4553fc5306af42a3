package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skus(items []ParsedSkuItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.SKU
	}
	return out
}

func TestParseTokens_MixedSeparatorsWithDuplicate(t *testing.T) {
	res := ParseTokens("SKU001,SKU002;SKU001", TokenOptions{Mode: ModeSkuOnly})

	assert.Equal(t, []string{"SKU001", "SKU002"}, skus(res.Items))
	assert.Equal(t, 1, res.Items[0].SourceLine)
	assert.Empty(t, res.Errors)

	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, WarnDuplicateInBatch, w.Kind)
	assert.Equal(t, "SKU001", w.SKU)
	assert.Equal(t, []int{1, 1}, w.Lines)

	assert.Equal(t, TokenStats{
		Lines: 1, NonBlankLines: 1, Tokens: 3, Valid: 3, Duplicates: 1, Unique: 2, Layout: LayoutMulti,
	}, res.Stats)
}

func TestParseTokens_OnePerLine(t *testing.T) {
	res := ParseTokens("A-1\r\n\r\nB_2\r\nc.3/x\n", TokenOptions{})

	assert.Equal(t, LayoutSingle, res.Stats.Layout)
	assert.Equal(t, []string{"A-1", "B_2", "c.3/x"}, skus(res.Items))
	assert.Equal(t, []int{1, 3, 4}, []int{res.Items[0].SourceLine, res.Items[1].SourceLine, res.Items[2].SourceLine})
	assert.Equal(t, 4, res.Stats.Lines)
	assert.Equal(t, 3, res.Stats.NonBlankLines)
}

func TestParseTokens_DuplicatesIgnoreCase(t *testing.T) {
	res := ParseTokens("abc\nABC\n Abc ", TokenOptions{})

	assert.Equal(t, []string{"abc"}, skus(res.Items))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, []int{1, 2, 3}, res.Warnings[0].Lines)
	assert.Equal(t, 2, res.Stats.Duplicates)
}

func TestParseTokens_InvalidSKUs(t *testing.T) {
	res := ParseTokens("PRÓDUKT1\nOK-1\nX", TokenOptions{})

	assert.Equal(t, []string{"OK-1"}, skus(res.Items))
	require.Len(t, res.Errors, 2)

	assert.Equal(t, 1, res.Errors[0].Line)
	assert.Equal(t, KindInvalidSKU, res.Errors[0].Kind)
	assert.Equal(t, "PRODUKT1", res.Errors[0].Suggestion)

	assert.Equal(t, 3, res.Errors[1].Line)
	assert.Contains(t, res.Errors[1].Message, "2-64 characters")
	assert.Empty(t, res.Errors[1].Suggestion)

	assert.Equal(t, 2, res.Stats.Invalid)
	assert.Equal(t, 1, res.Stats.Valid)
}

func TestParseTokens_ExplicitSeparator(t *testing.T) {
	res := ParseTokens("A1|B2| A1 ", TokenOptions{Separator: "|"})

	assert.Equal(t, LayoutSeparated, res.Stats.Layout)
	assert.Equal(t, "|", res.Stats.Separator)
	assert.Equal(t, []string{"A1", "B2"}, skus(res.Items))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnDuplicateInBatch, res.Warnings[0].Kind)
}

func TestParseTokens_PairsTab(t *testing.T) {
	text := "A1\tWidget\nB2\t\n\tOrphan\nC3\tGadget, large"
	res := ParseTokens(text, TokenOptions{Mode: ModeSkuPlusName})

	assert.Equal(t, LayoutPairs, res.Stats.Layout)
	assert.Equal(t, "\t", res.Stats.Separator)
	require.Equal(t, []string{"A1", "B2", "C3"}, skus(res.Items))

	require.NotNil(t, res.Items[0].Name)
	assert.Equal(t, "Widget", *res.Items[0].Name)
	assert.Nil(t, res.Items[1].Name)
	require.NotNil(t, res.Items[2].Name)
	assert.Equal(t, "Gadget, large", *res.Items[2].Name)
	assert.Equal(t, 4, res.Items[2].SourceLine)

	require.Len(t, res.Warnings, 2)
	assert.Equal(t, WarnMissingName, res.Warnings[0].Kind)
	assert.Equal(t, 2, res.Warnings[0].Line)
	assert.Equal(t, WarnMissingSKU, res.Warnings[1].Kind)
	assert.Equal(t, 3, res.Warnings[1].Line)
}

func TestParseTokens_PairsWhitespace(t *testing.T) {
	res := ParseTokens("A1 Big widget\nB2   Small", TokenOptions{Mode: ModeSkuPlusName})

	assert.Equal(t, "", res.Stats.Separator)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Big widget", *res.Items[0].Name)
	assert.Equal(t, "Small", *res.Items[1].Name)
}

func TestParsePairedLists(t *testing.T) {
	res := ParsePairedLists("A1 A2\nA3", "One\nTwo\n\nThree\nFour", TokenOptions{})

	assert.Equal(t, LayoutPaired, res.Stats.Layout)
	require.Equal(t, []string{"A1", "A2", "A3"}, skus(res.Items))
	assert.Equal(t, "One", *res.Items[0].Name)
	assert.Equal(t, "Two", *res.Items[1].Name)
	assert.Equal(t, "Three", *res.Items[2].Name)
	assert.Equal(t, []int{1, 1, 2}, []int{res.Items[0].SourceLine, res.Items[1].SourceLine, res.Items[2].SourceLine})

	require.Len(t, res.Warnings, 2)
	assert.Equal(t, WarnCountMismatch, res.Warnings[0].Kind)
	assert.Equal(t, WarnMissingSKU, res.Warnings[1].Kind)
	assert.Equal(t, 5, res.Warnings[1].Line)
}

func TestParsePairedLists_MissingNames(t *testing.T) {
	res := ParsePairedLists("A1\nA2\nA3", "One", TokenOptions{})

	require.Len(t, res.Items, 3)
	assert.Nil(t, res.Items[1].Name)
	assert.Nil(t, res.Items[2].Name)

	var missing int
	for _, w := range res.Warnings {
		if w.Kind == WarnMissingName {
			missing++
		}
	}
	assert.Equal(t, 2, missing)
}

func TestParseTokens_Deterministic(t *testing.T) {
	text := "B1, A1; C1\nA1 D1\n\nE1 b1"
	first := ParseTokens(text, TokenOptions{})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ParseTokens(text, TokenOptions{}))
	}
}

func TestParseTokens_Empty(t *testing.T) {
	res := ParseTokens("", TokenOptions{})
	assert.Empty(t, res.Items)
	assert.NotNil(t, res.Items)
	assert.Equal(t, 0, res.Stats.Lines)
}

func TestItemsToRows(t *testing.T) {
	name := "Widget"
	empty := ""
	rows := ItemsToRows([]ParsedSkuItem{
		{SKU: "A1", Name: &name, SourceLine: 1},
		{SKU: "B2", Name: &empty, SourceLine: 2},
		{SKU: "C3", SourceLine: 3},
	})

	assert.Equal(t, []MappedRow{
		{Line: 1, Values: map[string]string{FieldSKU: "A1", FieldName: "Widget"}},
		{Line: 2, Values: map[string]string{FieldSKU: "B2"}},
		{Line: 3, Values: map[string]string{FieldSKU: "C3"}},
	}, rows)
}
