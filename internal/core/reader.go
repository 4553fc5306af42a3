package core

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// DefaultMaxRows caps how many data rows are ingested from one upload.
const DefaultMaxRows = 10000

// FileFormat identifies the container format of an upload.
type FileFormat string

const (
	FormatAuto FileFormat = ""
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
	FormatXLS  FileFormat = "xls"
)

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// ReadOptions controls how an upload is read. Zero values mean auto-detect
// or default.
type ReadOptions struct {
	FileName   string
	Format     FileFormat
	Encoding   string // forced encoding, CSV only
	Delimiter  rune   // forced delimiter, CSV only
	SheetIndex int    // spreadsheet sheet, 0-based
	MaxRows    int
}

func (o ReadOptions) maxRows() int {
	if o.MaxRows <= 0 {
		return DefaultMaxRows
	}
	return o.MaxRows
}

// record is one parsed line or sheet row before header projection. blank
// marks a whitespace-only line or an empty sheet row.
type record struct {
	line   int
	fields []string
	blank  bool
}

// ReadTable reads an upload into a RawTable. A failing reader is reported
// as ErrIO; a file without a usable header row as ErrInvalidInput.
func ReadTable(r io.Reader, opts ReadOptions) (*RawTable, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no file provided", ErrIO)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ioErrorf(err, "read upload")
	}
	return ParseTable(data, opts)
}

// ParseTable is ReadTable over an in-memory upload.
func ParseTable(data []byte, opts ReadOptions) (*RawTable, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, invalidInputf("empty file")
	}

	switch format := DetectFormat(opts.Format, opts.FileName, data); format {
	case FormatXLSX:
		return readXLSX(data, opts)
	case FormatXLS:
		return readXLS(data, opts)
	default:
		return readCSV(data, opts)
	}
}

// DetectFormat resolves the container format from an explicit choice, the
// file extension, or the leading magic bytes, in that order.
func DetectFormat(forced FileFormat, fileName string, data []byte) FileFormat {
	if forced != FormatAuto {
		return forced
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	}
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return FormatXLSX
	case bytes.HasPrefix(data, ole2Magic):
		return FormatXLS
	}
	return FormatCSV
}

func readCSV(data []byte, opts ReadOptions) (*RawTable, error) {
	enc := opts.Encoding
	if enc == "" {
		enc = DetectEncoding(data)
	}

	text, err := decodeAll(data, enc)
	if err != nil {
		return nil, err
	}
	text = normalizeNewlines(text)

	delim := opts.Delimiter
	if delim == 0 {
		delim = DetectDelimiter([]byte(text))
	}

	table, err := buildTable(splitRecords(text, delim), opts.maxRows())
	if err != nil {
		return nil, err
	}
	table.DetectedEncoding = enc
	table.DetectedDelimiter = delim
	table.Format = FormatCSV
	return table, nil
}

// splitRecords parses delimiter-separated text into records. A field that
// starts with a double quote runs to the matching quote, may span lines,
// and uses "" for a literal quote. Inside quotes a backslash escapes the
// next quote or backslash: both characters are kept and the field stays
// open. Outside quotes backslashes are plain characters.
func splitRecords(text string, delim rune) []record {
	var (
		records  []record
		fields   []string
		field    strings.Builder
		inQuotes bool
		quoted   bool
		atStart  = true // at the start of a field
		line     = 1
		recLine  = 1
	)

	flushField := func() {
		fields = append(fields, field.String())
		field.Reset()
		atStart = true
	}
	flushRecord := func() {
		flushField()
		blank := !quoted && len(fields) == 1 && strings.TrimSpace(fields[0]) == ""
		records = append(records, record{line: recLine, fields: fields, blank: blank})
		fields = nil
		quoted = false
	}

	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		r := rs[i]

		if inQuotes {
			switch {
			case r == '\\' && i+1 < len(rs) && (rs[i+1] == '"' || rs[i+1] == '\\'):
				field.WriteRune(r)
				field.WriteRune(rs[i+1])
				i++
			case r == '"' && i+1 < len(rs) && rs[i+1] == '"':
				field.WriteRune('"')
				i++
			case r == '"':
				inQuotes = false
			default:
				if r == '\n' {
					line++
				}
				field.WriteRune(r)
			}
			continue
		}

		switch {
		case r == '"' && atStart:
			inQuotes = true
			quoted = true
			atStart = false
		case r == delim:
			flushField()
		case r == '\n':
			flushRecord()
			line++
			recLine = line
		default:
			field.WriteRune(r)
			atStart = false
		}
	}

	if field.Len() > 0 || len(fields) > 0 || inQuotes {
		flushRecord()
	}
	return records
}

func readXLSX(data []byte, opts ReadOptions) (*RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, invalidInputf("unreadable xlsx workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(sheets) {
		return nil, invalidInputf("sheet %d not found (workbook has %d)", opts.SheetIndex, len(sheets))
	}

	rows, err := f.Rows(sheets[opts.SheetIndex])
	if err != nil {
		return nil, invalidInputf("read sheet %q: %v", sheets[opts.SheetIndex], err)
	}
	defer rows.Close()

	var records []record
	rowNum := 0
	for rows.Next() {
		rowNum++
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, invalidInputf("read sheet row %d: %v", rowNum, err)
		}
		records = append(records, record{line: rowNum, fields: cols, blank: isBlankRecord(cols)})
	}
	if err := rows.Error(); err != nil {
		return nil, invalidInputf("read sheet %q: %v", sheets[opts.SheetIndex], err)
	}

	table, err := buildTable(records, opts.maxRows())
	if err != nil {
		return nil, err
	}
	table.Format = FormatXLSX
	return table, nil
}

func readXLS(data []byte, opts ReadOptions) (table *RawTable, err error) {
	// The xls parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			table, err = nil, invalidInputf("unreadable xls workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, invalidInputf("unreadable xls workbook: %v", err)
	}
	if wb == nil {
		return nil, invalidInputf("unreadable xls workbook")
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= wb.NumSheets() {
		return nil, invalidInputf("sheet %d not found (workbook has %d)", opts.SheetIndex, wb.NumSheets())
	}
	sheet := wb.GetSheet(opts.SheetIndex)
	if sheet == nil {
		return nil, invalidInputf("sheet %d not found", opts.SheetIndex)
	}

	var records []record
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := xlsRow(sheet, i)
		if row == nil {
			continue
		}
		fields := make([]string, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			fields[c] = row.Col(c)
		}
		records = append(records, record{line: i + 1, fields: fields, blank: isBlankRecord(fields)})
	}

	table, err = buildTable(records, opts.maxRows())
	if err != nil {
		return nil, err
	}
	table.Format = FormatXLS
	return table, nil
}

// xlsRow returns row i, or nil when the sheet has no such row.
func xlsRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

type headerCol struct {
	name  string
	index int
}

// buildTable takes the first record with any content as the header and
// projects the rest onto it. A header whose cells are all empty fails.
// Empty header cells drop their column; short rows are padded and long
// rows truncated. Data rows whose cells are all empty are skipped.
func buildTable(records []record, maxRows int) (*RawTable, error) {
	hdrPos := -1
	for i, rec := range records {
		if !rec.blank {
			hdrPos = i
			break
		}
	}
	if hdrPos < 0 {
		return nil, invalidInputf("missing header row")
	}

	seen := make(map[string]int)
	var cols []headerCol
	for i, cell := range records[hdrPos].fields {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		cols = append(cols, headerCol{name: uniqueHeader(name, seen), index: i})
	}
	if len(cols) == 0 {
		return nil, invalidInputf("missing header row")
	}

	table := &RawTable{Headers: make([]string, len(cols))}
	for i, c := range cols {
		table.Headers[i] = c.name
	}

	firstDropped := 0
	for _, rec := range records[hdrPos+1:] {
		if isBlankRecord(rec.fields) {
			continue
		}
		table.SourceRows++
		if len(table.Rows) >= maxRows {
			if firstDropped == 0 {
				firstDropped = rec.line
			}
			continue
		}

		values := make(map[string]string, len(cols))
		for _, c := range cols {
			if c.index < len(rec.fields) {
				values[c.name] = rec.fields[c.index]
			} else {
				values[c.name] = ""
			}
		}
		table.Rows = append(table.Rows, RawRow{Line: rec.line, Values: values})
	}

	table.TotalRows = len(table.Rows)
	if table.SourceRows > table.TotalRows {
		table.Truncated = true
		table.Warnings = append(table.Warnings, ImportRowWarning{
			Line: firstDropped,
			Kind: WarnRowLimit,
			Message: fmt.Sprintf("file has %d data rows; only the first %d were read",
				table.SourceRows, maxRows),
		})
	}
	return table, nil
}

// uniqueHeader suffixes repeated header names: Name, Name (2), Name (3).
func uniqueHeader(name string, seen map[string]int) string {
	seen[name]++
	if seen[name] == 1 {
		return name
	}
	for n := seen[name]; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", name, n)
		if seen[candidate] == 0 {
			seen[candidate] = 1
			return candidate
		}
	}
}

func isBlankRecord(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
