package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Canonical SKU length bounds, in characters. Applied to both the paste
// parser and the committer.
const (
	DefaultSkuMinLength = 2
	DefaultSkuMaxLength = 64
)

// skuPattern is the allow-list: ASCII letters, digits and - _ . /
var skuPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// forbiddenSkuChars is the fixed punctuation block-list.
const forbiddenSkuChars = "!@#$%^&*()+=[]{};:'\"<>?,\\|~`"

// SkuRule identifies which SKU rule a violation broke.
type SkuRule string

const (
	RuleLength       SkuRule = "length"
	RulePattern      SkuRule = "pattern"
	RuleDiacritics   SkuRule = "diacritics"
	RuleWhitespace   SkuRule = "whitespace"
	RuleForbidden    SkuRule = "forbidden_chars"
	RuleInvalidChars SkuRule = "invalid_chars"
)

// SkuViolation describes a single broken SKU rule.
type SkuViolation struct {
	Rule    SkuRule `json:"rule"`
	Message string  `json:"message"`
}

// SkuValidator enforces SKU lexical rules.
type SkuValidator struct {
	MinLength int
	MaxLength int
}

// NewSkuValidator returns a validator using the canonical bounds.
func NewSkuValidator() *SkuValidator {
	return &SkuValidator{MinLength: DefaultSkuMinLength, MaxLength: DefaultSkuMaxLength}
}

// NormalizeSKU returns the comparison key for a SKU: trimmed and uppercased.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// Validate checks sku against every rule and returns all violations.
// An empty result means the SKU is valid. Leftover character-set violations
// are not reported when the block-list already fired.
func (v *SkuValidator) Validate(sku string) []SkuViolation {
	var out []SkuViolation

	n := utf8.RuneCountInString(sku)
	if n < v.MinLength || n > v.MaxLength {
		out = append(out, SkuViolation{
			Rule:    RuleLength,
			Message: fmt.Sprintf("SKU must be %d-%d characters long (got %d)", v.MinLength, v.MaxLength, n),
		})
	}

	if !skuPattern.MatchString(sku) {
		out = append(out, SkuViolation{
			Rule:    RulePattern,
			Message: "SKU may only contain letters, digits and - _ . /",
		})
	}

	if HasDiacritics(sku) {
		out = append(out, SkuViolation{
			Rule:    RuleDiacritics,
			Message: "SKU must not contain accented characters",
		})
	}

	if strings.IndexFunc(sku, unicode.IsSpace) >= 0 {
		out = append(out, SkuViolation{
			Rule:    RuleWhitespace,
			Message: "SKU must not contain whitespace",
		})
	}

	forbidden := collectChars(sku, func(r rune) bool {
		return strings.ContainsRune(forbiddenSkuChars, r)
	})
	if forbidden != "" {
		out = append(out, SkuViolation{
			Rule:    RuleForbidden,
			Message: fmt.Sprintf("SKU contains forbidden characters: %s", forbidden),
		})
	} else {
		other := collectChars(sku, func(r rune) bool {
			if isSkuChar(r) || unicode.IsSpace(r) || unicode.Is(unicode.Mn, r) {
				return false
			}
			return !(unicode.IsLetter(r) && FoldDiacritics(string(r)) != string(r))
		})
		if other != "" {
			out = append(out, SkuViolation{
				Rule:    RuleInvalidChars,
				Message: fmt.Sprintf("SKU contains invalid characters: %s", other),
			})
		}
	}

	return out
}

// Valid reports whether sku passes every rule.
func (v *SkuValidator) Valid(sku string) bool {
	return len(v.Validate(sku)) == 0
}

// SuggestCorrection returns the canonical form of sku: whitespace removed,
// diacritics folded, uppercased, leftovers stripped. It reports false when
// nothing changes or the result still fails validation, so a valid
// lowercase SKU gets its uppercase form.
func (v *SkuValidator) SuggestCorrection(sku string) (string, bool) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, sku)
	s = strings.ToUpper(FoldDiacritics(s))
	s = strings.Map(func(r rune) rune {
		if isSkuChar(r) {
			return r
		}
		return -1
	}, s)

	if s == sku || !v.Valid(s) {
		return "", false
	}
	return s, true
}

// JoinViolations renders violations as a single message.
func JoinViolations(vs []SkuViolation) string {
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.Message
	}
	return strings.Join(msgs, "; ")
}

func isSkuChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == '/':
		return true
	}
	return false
}

// collectChars returns the distinct runes of s matching fn, sorted.
func collectChars(s string, fn func(rune) bool) string {
	seen := make(map[rune]bool)
	for _, r := range s {
		if fn(r) {
			seen[r] = true
		}
	}
	if len(seen) == 0 {
		return ""
	}
	rs := make([]rune, 0, len(seen))
	for r := range seen {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
	return string(rs)
}
