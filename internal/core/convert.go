package core

// convert.go turns spreadsheet cell text into typed draft values.
//
// These functions handle the messy reality of supplier exports:
//   - Currency symbols and codes (zł, PLN, €, EUR, $)
//   - Both 1,234.56 and 1.234,56 number styles, plus space separators
//   - Percent signs on VAT rates
//   - Excel formula prefixes (="value")
//
// Empty input yields a nil value, not an error.

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// numericRegex validates a number after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// currencyTokens are stripped before parsing. Longer tokens come first.
var currencyTokens = []string{"PLN", "EUR", "USD", "GBP", "CZK", "zł", "zl", "Kč", "$", "€", "£"}

// CleanCell removes common export artifacts from a cell value:
// surrounding whitespace, the Excel formula prefix (="...") and
// surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// ParseDecimal parses a human-formatted number. It returns nil for empty
// input and an error when the text is not a number.
func ParseDecimal(s string) (*decimal.Decimal, error) {
	s = CleanCell(s)
	if s == "" {
		return nil, nil
	}
	orig := s

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, s)
	s = normalizeSeparators(s)

	if negative {
		s = "-" + s
	}
	if !numericRegex.MatchString(s) {
		return nil, fmt.Errorf("invalid number %q", orig)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", orig, err)
	}
	return &d, nil
}

// ParsePercent parses a VAT-style rate such as "23%" or "8". Exempt markers
// (zw, np, exempt) map to zero.
func ParsePercent(s string) (*decimal.Decimal, error) {
	c := strings.ToLower(CleanCell(s))
	switch c {
	case "":
		return nil, nil
	case "zw", "np", "exempt", "oo":
		z := decimal.Zero
		return &z, nil
	}
	d, err := ParseDecimal(strings.TrimSuffix(c, "%"))
	if err != nil {
		return nil, fmt.Errorf("invalid VAT rate %q", s)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("invalid VAT rate %q: must be between 0 and 100", s)
	}
	return d, nil
}

// normalizeSeparators rewrites s so that '.' is the only decimal separator
// and no thousands separators remain. When both ',' and '.' appear, the
// later one is the decimal separator. A lone ',' is a decimal comma.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}
