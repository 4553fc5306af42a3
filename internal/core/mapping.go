package core

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Mapping thresholds.
const (
	AutoAcceptThreshold = 0.70
	SuggestionThreshold = 0.50
	MaxSuggestions      = 3
)

// ColumnMapping maps a source header to a target field key. An empty value
// or IgnoreField leaves the column out of the import.
type ColumnMapping map[string]string

// FieldScore is a target field with its similarity to a header.
type FieldScore struct {
	Field string  `json:"field"`
	Score float64 `json:"score"`
}

// ColumnGuess is the mapper's proposal for one source column.
type ColumnGuess struct {
	Header       string       `json:"header"`
	Index        int          `json:"index"`
	Field        string       `json:"field"`      // best-scoring field
	Confidence   float64      `json:"confidence"` // score of Field
	AutoAccepted bool         `json:"auto_accepted"`
	ConflictWith string       `json:"conflict_with,omitempty"` // header that kept Field
	Suggestions  []FieldScore `json:"suggestions,omitempty"`
}

// MappingError is a problem found in a user-confirmed mapping.
type MappingError struct {
	Field   string   `json:"field,omitempty"`
	Headers []string `json:"headers,omitempty"`
	Message string   `json:"message"`
}

func (e MappingError) Error() string { return e.Message }

// SchemaMapper scores source headers against the synonym dictionary.
// It holds no mutable state and is safe for concurrent use.
type SchemaMapper struct {
	fields []FieldDef
}

// NewSchemaMapper returns a mapper over the built-in dictionary.
func NewSchemaMapper() *SchemaMapper {
	return &SchemaMapper{fields: fieldTable}
}

// NormalizeHeader lowercases s, strips diacritics, turns _ - . into spaces
// and collapses whitespace.
func NormalizeHeader(s string) string {
	s = strings.ToLower(FoldDiacritics(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Similarity scores two normalized strings in [0,1]: 1 for equality,
// 0.8-1.0 when one contains the other, otherwise one minus the normalized
// edit distance.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}

	short, long := a, b
	ls, ll := la, lb
	if la > lb {
		short, long = b, a
		ls, ll = lb, la
	}
	if strings.Contains(long, short) {
		return 0.8 + (float64(ls)/float64(ll))*0.2
	}

	score := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(ll)
	if score < 0 {
		return 0
	}
	return score
}

// ScoreHeader returns the best synonym score of every target field for one
// header, in dictionary order.
func (m *SchemaMapper) ScoreHeader(header string) []FieldScore {
	norm := NormalizeHeader(header)
	scores := make([]FieldScore, len(m.fields))
	for i, f := range m.fields {
		best := 0.0
		if norm != "" {
			for _, syn := range f.Synonyms {
				if s := Similarity(norm, syn); s > best {
					best = s
				}
			}
		}
		scores[i] = FieldScore{Field: f.Key, Score: best}
	}
	return scores
}

// GuessMapping proposes a field for every header. Identical headers always
// produce identical results.
func (m *SchemaMapper) GuessMapping(headers []string) map[string]ColumnGuess {
	guesses := m.GuessMappingOrdered(headers)
	out := make(map[string]ColumnGuess, len(guesses))
	for _, g := range guesses {
		out[g.Header] = g
	}
	return out
}

// GuessMappingOrdered is GuessMapping in header order.
func (m *SchemaMapper) GuessMappingOrdered(headers []string) []ColumnGuess {
	guesses := make([]ColumnGuess, len(headers))
	for i, h := range headers {
		guesses[i] = m.guessColumn(h, i)
	}
	resolveConflicts(guesses)
	return guesses
}

func (m *SchemaMapper) guessColumn(header string, index int) ColumnGuess {
	scores := m.ScoreHeader(header)

	// Stable sort keeps dictionary order among equal scores.
	ranked := make([]FieldScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	g := ColumnGuess{Header: header, Index: index}
	if len(ranked) == 0 || ranked[0].Score == 0 {
		return g
	}

	g.Field = ranked[0].Field
	g.Confidence = ranked[0].Score
	g.AutoAccepted = g.Confidence >= AutoAcceptThreshold

	for _, fs := range ranked[1:] {
		if len(g.Suggestions) == MaxSuggestions || fs.Score <= SuggestionThreshold {
			break
		}
		g.Suggestions = append(g.Suggestions, fs)
	}
	return g
}

// resolveConflicts keeps one auto-accepted column per field: the highest
// confidence wins, then the earliest column.
func resolveConflicts(guesses []ColumnGuess) {
	owner := make(map[string]int)
	for i, g := range guesses {
		if !g.AutoAccepted {
			continue
		}
		prev, taken := owner[g.Field]
		if !taken {
			owner[g.Field] = i
			continue
		}
		if g.Confidence > guesses[prev].Confidence {
			guesses[prev].AutoAccepted = false
			guesses[prev].ConflictWith = g.Header
			owner[g.Field] = i
		} else {
			guesses[i].AutoAccepted = false
			guesses[i].ConflictWith = guesses[prev].Header
		}
	}
}

// AcceptedMapping returns the mapping made of auto-accepted guesses only.
func AcceptedMapping(guesses []ColumnGuess) ColumnMapping {
	m := make(ColumnMapping, len(guesses))
	for _, g := range guesses {
		if g.AutoAccepted {
			m[g.Header] = g.Field
		} else {
			m[g.Header] = IgnoreField
		}
	}
	return m
}

// ValidateMapping checks a user-confirmed mapping against the table
// headers. sku must be mapped exactly once and no field may receive more
// than one column.
func ValidateMapping(m ColumnMapping, headers []string) []MappingError {
	var errs []MappingError

	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	// Sorted for a stable error order.
	mapped := make([]string, 0, len(m))
	for h := range m {
		mapped = append(mapped, h)
	}
	sort.Strings(mapped)

	for _, h := range mapped {
		field := m[h]
		if !known[h] {
			errs = append(errs, MappingError{
				Headers: []string{h},
				Message: fmt.Sprintf("column %q does not exist in the file", h),
			})
		}
		if !isIgnored(field) && !IsTargetField(field) {
			errs = append(errs, MappingError{
				Field:   field,
				Headers: []string{h},
				Message: fmt.Sprintf("column %q is mapped to unknown field %q", h, field),
			})
		}
	}

	byField := make(map[string][]string)
	for _, h := range headers {
		if field, ok := m[h]; ok && !isIgnored(field) {
			byField[field] = append(byField[field], h)
		}
	}

	for _, f := range fieldTable {
		cols := byField[f.Key]
		if len(cols) > 1 {
			errs = append(errs, MappingError{
				Field:   f.Key,
				Headers: cols,
				Message: fmt.Sprintf("field %q is mapped from more than one column: %s", f.Key, strings.Join(cols, ", ")),
			})
		}
	}

	if len(byField[FieldSKU]) == 0 {
		errs = append(errs, MappingError{
			Field:   FieldSKU,
			Message: "field \"sku\" must be mapped to a column",
		})
	}

	return errs
}

// ApplyMapping projects raw rows onto target fields. Values are trimmed and
// empty values omitted. Rows without a sku are dropped.
func ApplyMapping(t *RawTable, m ColumnMapping) []MappedRow {
	rows := make([]MappedRow, 0, len(t.Rows))
	for _, raw := range t.Rows {
		values := make(map[string]string, len(m))
		for header, field := range m {
			if isIgnored(field) {
				continue
			}
			if v := strings.TrimSpace(raw.Values[header]); v != "" {
				values[field] = v
			}
		}
		if values[FieldSKU] == "" {
			continue
		}
		rows = append(rows, MappedRow{Line: raw.Line, Values: values})
	}
	return rows
}

func isIgnored(field string) bool {
	return field == "" || field == IgnoreField
}
