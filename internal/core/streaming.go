package core

// streaming.go turns raw upload bytes into clean UTF-8:
//
//   - skipBOM: drops a UTF-8 or UTF-16 byte order mark
//   - the x/text decoder for the resolved encoding
//   - utf8Sanitizer: replaces invalid UTF-8 sequences with U+FFFD
//
// Use NewDecodingReader to apply all three in the correct order.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const sanitizerChunk = 32 * 1024

var replacementChar = []byte(string(utf8.RuneError))

// NewDecodingReader wraps r so that it yields UTF-8 text regardless of the
// source encoding. An empty encodingName means UTF-8.
func NewDecodingReader(r io.Reader, encodingName string) (io.Reader, error) {
	enc, err := lookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	r = skipBOM(r)
	if enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	return newUTF8Sanitizer(r), nil
}

// Decoder returns the decoder for an encoding name. UTF-8 yields a
// pass-through decoder.
func Decoder(name string) (*encoding.Decoder, error) {
	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return encoding.Nop.NewDecoder(), nil
	}
	return enc.NewDecoder(), nil
}

// lookupEncoding resolves an encoding name. A nil encoding means the input
// is already UTF-8.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", EncodingUTF8, "UTF8":
		return nil, nil
	case EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, invalidInputf("unsupported encoding %q", name)
	}
	if enc == encoding.Nop || enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// skipBOM drops a leading UTF-8 or UTF-16 byte order mark.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, _ := br.Peek(3)
	switch {
	case bytes.HasPrefix(head, bomUTF8):
		_, _ = br.Discard(len(bomUTF8))
	case bytes.HasPrefix(head, bomUTF16LE), bytes.HasPrefix(head, bomUTF16BE):
		_, _ = br.Discard(2)
	}
	return br
}

// utf8Sanitizer replaces invalid UTF-8 sequences with U+FFFD while
// streaming. Incomplete sequences at a chunk boundary are carried over to
// the next read.
type utf8Sanitizer struct {
	reader  io.Reader
	buf     []byte
	pending []byte // incomplete trailing sequence from the last chunk
	out     []byte // sanitized bytes not yet returned
	err     error
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{
		reader: r,
		buf:    make([]byte, sanitizerChunk),
	}
}

// Read implements io.Reader.
func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(s.out) == 0 {
		if s.err != nil {
			return 0, s.err
		}

		n, err := s.reader.Read(s.buf)
		data := append(s.pending, s.buf[:n]...)
		s.pending = nil

		if err == nil {
			if t := incompleteTrailingBytes(data); t > 0 {
				s.pending = append([]byte(nil), data[len(data)-t:]...)
				data = data[:len(data)-t]
			}
		}

		if isAllASCII(data) || utf8.Valid(data) {
			s.out = data
		} else {
			s.out = bytes.ToValidUTF8(data, replacementChar)
		}
		s.err = err
	}

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// isAllASCII returns true if all bytes are ASCII (< 128).
func isAllASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// incompleteTrailingBytes returns the number of bytes at the end of data
// that could be the start of an incomplete multi-byte UTF-8 sequence.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		// Anything but a continuation byte ends the scan.
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with b.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	}
	return 4
}

// decodeAll converts a whole upload to UTF-8 text.
func decodeAll(data []byte, encodingName string) (string, error) {
	r, err := NewDecodingReader(bytes.NewReader(data), encodingName)
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", encodingName, err)
	}
	return string(out), nil
}
