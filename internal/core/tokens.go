package core

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// TokenMode selects how pasted lines are interpreted.
type TokenMode string

const (
	ModeSkuOnly     TokenMode = "sku_only"
	ModeSkuPlusName TokenMode = "sku_plus_name"
)

// Layouts reported in TokenStats.
const (
	LayoutSingle    = "single"    // one SKU per line
	LayoutMulti     = "multi"     // several SKUs per line
	LayoutSeparated = "separated" // explicit separator, SKUs only
	LayoutPairs     = "pairs"     // sku + name per line
	LayoutPaired    = "paired"    // two lists paired by position
)

const tokenSampleLines = 10

// multiSeparator splits a line holding several SKUs.
var multiSeparator = regexp.MustCompile(`[\s,;]+`)

// pairSeparators are tried in order when the sku+name separator is auto.
var pairSeparators = []string{"\t", ";", ",", "|"}

// TokenOptions controls ParseTokens. An empty Separator means auto.
type TokenOptions struct {
	Mode      TokenMode
	Separator string
	Validator *SkuValidator
}

// TokenStats summarizes a parse.
type TokenStats struct {
	Lines         int    `json:"lines"`
	NonBlankLines int    `json:"non_blank_lines"`
	Tokens        int    `json:"tokens"`
	Valid         int    `json:"valid"`
	Invalid       int    `json:"invalid"`
	Duplicates    int    `json:"duplicates"`
	Unique        int    `json:"unique"`
	Layout        string `json:"layout"`
	Separator     string `json:"separator,omitempty"`
}

// TokenResult is the outcome of parsing pasted text. Output order follows
// input order, so identical input always yields identical output.
type TokenResult struct {
	Items    []ParsedSkuItem    `json:"items"`
	Errors   []ImportRowError   `json:"errors"`
	Warnings []ImportRowWarning `json:"warnings"`
	Stats    TokenStats         `json:"stats"`
}

// ParseTokens parses freeform pasted text into SKU items.
func ParseTokens(text string, opts TokenOptions) *TokenResult {
	lines := splitLines(text)
	c := newTokenCollector(opts.Validator)
	c.countLines(lines)

	if opts.Mode == ModeSkuPlusName {
		sep := opts.Separator
		if sep == "" {
			sep = detectPairSeparator(lines)
		}
		c.res.Stats.Layout = LayoutPairs
		c.res.Stats.Separator = sep
		for i, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			sku, name := splitPair(line, sep)
			if sku == "" {
				c.warn(ImportRowWarning{
					Line:    i + 1,
					Kind:    WarnMissingSKU,
					Message: fmt.Sprintf("line has a name (%q) but no SKU", name),
				})
				continue
			}
			if name == "" {
				c.warn(ImportRowWarning{
					Line:    i + 1,
					SKU:     sku,
					Kind:    WarnMissingName,
					Message: fmt.Sprintf("SKU %s has no name", sku),
				})
				c.add(sku, nil, i+1)
				continue
			}
			c.add(sku, &name, i+1)
		}
		return c.finish()
	}

	var split func(string) []string
	switch {
	case opts.Separator != "":
		c.res.Stats.Layout = LayoutSeparated
		c.res.Stats.Separator = opts.Separator
		split = func(line string) []string { return strings.Split(line, opts.Separator) }
	case sampleHasMultipleTokens(lines):
		c.res.Stats.Layout = LayoutMulti
		split = splitMulti
	default:
		c.res.Stats.Layout = LayoutSingle
		split = func(line string) []string { return []string{line} }
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, tok := range split(line) {
			c.add(tok, nil, i+1)
		}
	}
	return c.finish()
}

// ParsePairedLists pairs a SKU list with a one-per-line name list by
// position. The SKU list may hold several SKUs per line.
func ParsePairedLists(skuText, nameText string, opts TokenOptions) *TokenResult {
	type entry struct {
		value string
		line  int
	}

	skuLines := splitLines(skuText)
	c := newTokenCollector(opts.Validator)
	c.countLines(skuLines)
	c.res.Stats.Layout = LayoutPaired

	var skus []entry
	for i, line := range skuLines {
		for _, tok := range splitMulti(line) {
			skus = append(skus, entry{tok, i + 1})
		}
	}

	var names []entry
	for i, line := range splitLines(nameText) {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, entry{name, i + 1})
		}
	}

	if len(skus) != len(names) {
		c.warn(ImportRowWarning{
			Kind:    WarnCountMismatch,
			Message: fmt.Sprintf("%d SKUs but %d names; pairing by position", len(skus), len(names)),
		})
	}

	n := max(len(skus), len(names))
	for i := 0; i < n; i++ {
		switch {
		case i < len(skus) && i < len(names):
			name := names[i].value
			c.add(skus[i].value, &name, skus[i].line)
		case i < len(skus):
			c.warn(ImportRowWarning{
				Line:    skus[i].line,
				SKU:     skus[i].value,
				Kind:    WarnMissingName,
				Message: fmt.Sprintf("SKU %s has no matching name", skus[i].value),
			})
			c.add(skus[i].value, nil, skus[i].line)
		default:
			c.warn(ImportRowWarning{
				Line:    names[i].line,
				Kind:    WarnMissingSKU,
				Message: fmt.Sprintf("name %q has no matching SKU", names[i].value),
			})
		}
	}
	return c.finish()
}

// ItemsToRows converts parsed items into mapped rows for the committer.
func ItemsToRows(items []ParsedSkuItem) []MappedRow {
	rows := make([]MappedRow, 0, len(items))
	for _, it := range items {
		values := map[string]string{FieldSKU: it.SKU}
		if it.Name != nil && *it.Name != "" {
			values[FieldName] = *it.Name
		}
		rows = append(rows, MappedRow{Line: it.SourceLine, Values: values})
	}
	return rows
}

func splitLines(text string) []string {
	text = normalizeNewlines(text)
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func splitMulti(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return multiSeparator.Split(line, -1)
}

// sampleHasMultipleTokens reports whether any of the first non-blank lines
// holds two or more tokens.
func sampleHasMultipleTokens(lines []string) bool {
	seen := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(splitMulti(line)) >= 2 {
			return true
		}
		seen++
		if seen == tokenSampleLines {
			break
		}
	}
	return false
}

// detectPairSeparator returns the first candidate found in the sample, or
// "" to split on the first whitespace run.
func detectPairSeparator(lines []string) string {
	sample := sampleLines(strings.Join(lines, "\n"), tokenSampleLines)
	for _, sep := range pairSeparators {
		for _, line := range sample {
			if strings.Contains(strings.TrimSpace(line), sep) {
				return sep
			}
		}
	}
	return ""
}

// splitPair splits line on the first occurrence of sep into a trimmed sku
// and name. An empty sep splits on the first whitespace run.
func splitPair(line, sep string) (sku, name string) {
	if sep == "" {
		line = strings.TrimSpace(line)
		i := strings.IndexFunc(line, unicode.IsSpace)
		if i < 0 {
			return line, ""
		}
		return line[:i], strings.TrimSpace(line[i:])
	}
	before, after, _ := strings.Cut(line, sep)
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

// tokenCollector validates and deduplicates SKUs in arrival order.
type tokenCollector struct {
	validator *SkuValidator
	res       *TokenResult
	groups    map[string]*tokenGroup
	order     []string
}

type tokenGroup struct {
	sku   string
	lines []int
}

func newTokenCollector(v *SkuValidator) *tokenCollector {
	if v == nil {
		v = NewSkuValidator()
	}
	return &tokenCollector{
		validator: v,
		res: &TokenResult{
			Items:    []ParsedSkuItem{},
			Errors:   []ImportRowError{},
			Warnings: []ImportRowWarning{},
		},
		groups: make(map[string]*tokenGroup),
	}
}

func (c *tokenCollector) countLines(lines []string) {
	c.res.Stats.Lines = len(lines)
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			c.res.Stats.NonBlankLines++
		}
	}
}

func (c *tokenCollector) warn(w ImportRowWarning) {
	c.res.Warnings = append(c.res.Warnings, w)
}

func (c *tokenCollector) add(sku string, name *string, line int) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return
	}
	c.res.Stats.Tokens++

	if vs := c.validator.Validate(sku); len(vs) > 0 {
		c.res.Stats.Invalid++
		e := ImportRowError{
			Line:    line,
			SKU:     sku,
			Kind:    KindInvalidSKU,
			Message: JoinViolations(vs),
		}
		if fix, ok := c.validator.SuggestCorrection(sku); ok {
			e.Suggestion = fix
		}
		c.res.Errors = append(c.res.Errors, e)
		return
	}
	c.res.Stats.Valid++

	key := NormalizeSKU(sku)
	if g, ok := c.groups[key]; ok {
		g.lines = append(g.lines, line)
		c.res.Stats.Duplicates++
		return
	}
	c.groups[key] = &tokenGroup{sku: sku, lines: []int{line}}
	c.order = append(c.order, key)
	c.res.Items = append(c.res.Items, ParsedSkuItem{SKU: sku, Name: name, SourceLine: line})
}

func (c *tokenCollector) finish() *TokenResult {
	for _, key := range c.order {
		g := c.groups[key]
		if len(g.lines) < 2 {
			continue
		}
		c.warn(ImportRowWarning{
			Line:    g.lines[0],
			Lines:   g.lines,
			SKU:     g.sku,
			Kind:    WarnDuplicateInBatch,
			Message: fmt.Sprintf("SKU %s appears %d times (lines %s); the first occurrence is kept", g.sku, len(g.lines), joinInts(g.lines)),
		})
	}
	c.res.Stats.Unique = len(c.res.Items)
	return c.res
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
