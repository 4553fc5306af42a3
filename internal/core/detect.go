package core

// detect.go sniffs the character encoding and field delimiter of raw
// uploads. Detection never fails: absence of signal falls back to UTF-8
// and comma.

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Sample sizes used by the detectors.
const (
	EncodingSampleSize  = 50 * 1024
	DelimiterSampleSize = 10 * 1024
	delimiterSampleRows = 10
)

// Encoding names reported by DetectEncoding.
const (
	EncodingUTF8    = "UTF-8"
	EncodingUTF16LE = "UTF-16LE"
	EncodingUTF16BE = "UTF-16BE"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// regionalEncodings are tried in order when the sample is not UTF-8.
var regionalEncodings = []struct {
	name    string
	charmap *charmap.Charmap
}{
	{"windows-1250", charmap.Windows1250},
	{"iso-8859-2", charmap.ISO8859_2},
	{"windows-1252", charmap.Windows1252},
}

// regionalLetters is the Central and Western European letter repertoire
// used to score 8-bit candidates.
const regionalLetters = "ąćęłńóśźżĄĆĘŁŃÓŚŹŻ" +
	"čďěňřšťůžýČĎĚŇŘŠŤŮŽÝ" +
	"áéíúäëïöüßÁÉÍÚÄËÏÖÜ" +
	"àèìòùâêîôûçñÀÈÌÒÙÂÊÎÔÛÇÑ" +
	"őűŐŰĺľŕĹĽŔ"

// delimiterCandidates are scored in this order; earlier wins ties.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// DetectEncoding returns the best-guess encoding of sample. Only the first
// EncodingSampleSize bytes are inspected.
func DetectEncoding(sample []byte) string {
	if len(sample) > EncodingSampleSize {
		sample = sample[:EncodingSampleSize]
	}

	switch {
	case bytes.HasPrefix(sample, bomUTF8):
		return EncodingUTF8
	case bytes.HasPrefix(sample, bomUTF16LE):
		return EncodingUTF16LE
	case bytes.HasPrefix(sample, bomUTF16BE):
		return EncodingUTF16BE
	}

	// A cut at the sample boundary may split a multi-byte sequence.
	trimmed := sample[:len(sample)-incompleteTrailingBytes(sample)]
	if utf8.Valid(trimmed) {
		return EncodingUTF8
	}

	best, bestScore := regionalEncodings[0].name, -1<<31
	for _, cand := range regionalEncodings {
		score := scoreRegional(sample, cand.charmap)
		if score > bestScore {
			best, bestScore = cand.name, score
		}
	}
	return best
}

// scoreRegional rewards high bytes that decode to known letters and
// penalizes ones that decode to control characters or nothing.
func scoreRegional(sample []byte, cm *charmap.Charmap) int {
	score := 0
	for _, b := range sample {
		if b < 0x80 {
			continue
		}
		r := cm.DecodeByte(b)
		switch {
		case r == utf8.RuneError || unicode.IsControl(r):
			score -= 2
		case strings.ContainsRune(regionalLetters, r):
			score += 2
		case unicode.IsLetter(r):
			score++
		}
	}
	return score
}

// DetectDelimiter returns the most consistent delimiter across the first
// non-blank lines of sample. Occurrences inside double-quoted spans are
// ignored. Returns ',' when no candidate appears at all.
func DetectDelimiter(sample []byte) rune {
	if len(sample) > DelimiterSampleSize {
		sample = sample[:DelimiterSampleSize]
	}

	lines := sampleLines(string(sample), delimiterSampleRows)
	if len(lines) == 0 {
		return ','
	}

	best, bestScore := ',', 0.0
	for _, cand := range delimiterCandidates {
		counts := make([]float64, len(lines))
		for i, line := range lines {
			counts[i] = float64(countOutsideQuotes(line, cand))
		}
		score := delimiterScore(counts)
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best
}

// delimiterScore is mean / (1 + variance).
func delimiterScore(counts []float64) float64 {
	if len(counts) == 0 {
		return 0
	}
	var sum float64
	for _, c := range counts {
		sum += c
	}
	mean := sum / float64(len(counts))

	var variance float64
	for _, c := range counts {
		d := c - mean
		variance += d * d
	}
	variance /= float64(len(counts))

	return mean / (1 + variance)
}

func countOutsideQuotes(line string, delim rune) int {
	n := 0
	inQuotes := false
	escaped := false
	for _, r := range line {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\' && inQuotes:
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			n++
		}
	}
	return n
}

// sampleLines returns up to max non-blank lines of text.
func sampleLines(text string, max int) []string {
	text = normalizeNewlines(text)
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == max {
			break
		}
	}
	return out
}

// normalizeNewlines converts CRLF and lone CR line endings to LF.
func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
