package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/draftimport/internal/logging"
	"github.com/google/uuid"
)

// PasteSource is the session source recorded for pasted lists.
const PasteSource = "paste"

// TabularImport describes a spreadsheet or CSV upload.
type TabularImport struct {
	FileName string
	Data     []byte
	Read     ReadOptions

	// Mapping is the user-confirmed column mapping. Nil means the
	// auto-accepted guesses are used as is.
	Mapping ColumnMapping

	ImportedBy string
}

// PasteImport describes a pasted SKU list. When Names is set, Text holds
// the SKU list and Names a one-per-line name list paired by position.
type PasteImport struct {
	Text       string
	Names      string
	Mode       TokenMode
	Separator  string
	ImportedBy string
}

// MappingValidationError reports a column mapping that cannot be
// committed. It matches ErrInvalidInput.
type MappingValidationError struct {
	Errors []MappingError
}

func (e *MappingValidationError) Error() string {
	return "invalid column mapping: " + strings.Join(describeMappingErrors(e.Errors), "; ")
}

func (e *MappingValidationError) Unwrap() error { return ErrInvalidInput }

// StartImport reads and maps a tabular upload, then commits it in the
// background. Read and mapping problems are returned before any session
// is created. Use SubscribeProgress or GetImportResult with the returned
// session id.
//
// Returns ErrTooManyImports if no slot becomes available in time.
func (s *Service) StartImport(ctx context.Context, in TabularImport) (string, error) {
	p, err := s.prepareTabular(ctx, in)
	if err != nil {
		return "", err
	}
	return s.start(ctx, p)
}

// StartPasteImport parses a pasted list and commits its valid, unique
// SKUs in the background.
func (s *Service) StartPasteImport(ctx context.Context, in PasteImport) (string, error) {
	p, err := s.preparePaste(ctx, in)
	if err != nil {
		return "", err
	}
	return s.start(ctx, p)
}

// Import runs a tabular import to completion in the calling goroutine.
func (s *Service) Import(ctx context.Context, in TabularImport) (*ImportReport, error) {
	p, err := s.prepareTabular(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.runSync(ctx, p)
}

// ImportPaste runs a paste import to completion in the calling goroutine.
func (s *Service) ImportPaste(ctx context.Context, in PasteImport) (*ImportReport, error) {
	p, err := s.preparePaste(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.runSync(ctx, p)
}

func (s *Service) prepareTabular(ctx context.Context, in TabularImport) (*preparedImport, error) {
	opts := in.Read
	if opts.FileName == "" {
		opts.FileName = in.FileName
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = s.opts.MaxRows
	}

	if int64(len(in.Data)) > s.opts.MaxFileSize {
		return nil, invalidInputf("file too large: %d bytes exceeds %d", len(in.Data), s.opts.MaxFileSize)
	}

	table, err := ParseTable(in.Data, opts)
	if err != nil {
		slog.Error("read import file", "file", in.FileName, "error", err)
		return nil, err
	}

	mapping := in.Mapping
	if mapping == nil {
		mapping = AcceptedMapping(s.mapper.GuessMappingOrdered(table.Headers))
	}
	if errs := ValidateMapping(mapping, table.Headers); len(errs) > 0 {
		return nil, &MappingValidationError{Errors: errs}
	}

	rows := ApplyMapping(table, mapping)
	logging.FromContext(ctx).Debug("file mapped",
		"file", in.FileName,
		"format", table.Format,
		"encoding", table.DetectedEncoding,
		"rows", table.TotalRows,
		"mapped", len(rows),
	)

	source := in.FileName
	if source == "" {
		source = "upload"
	}
	return &preparedImport{
		session:  newSession(source, KindTabular, s.importedBy(ctx, in.ImportedBy)),
		rows:     rows,
		warnings: table.Warnings,
	}, nil
}

func (s *Service) preparePaste(ctx context.Context, in PasteImport) (*preparedImport, error) {
	res, err := s.parsePaste(in)
	if err != nil {
		return nil, err
	}
	return &preparedImport{
		session:  newSession(PasteSource, KindPaste, s.importedBy(ctx, in.ImportedBy)),
		rows:     ItemsToRows(res.Items),
		errors:   res.Errors,
		warnings: res.Warnings,
	}, nil
}

func (s *Service) parsePaste(in PasteImport) (*TokenResult, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, invalidInputf("no SKUs provided")
	}
	switch in.Mode {
	case "", ModeSkuOnly, ModeSkuPlusName:
	default:
		return nil, invalidInputf("unknown paste mode %q", in.Mode)
	}

	opts := TokenOptions{Mode: in.Mode, Separator: in.Separator, Validator: s.validator}
	if strings.TrimSpace(in.Names) != "" {
		return ParsePairedLists(in.Text, in.Names, opts), nil
	}
	return ParseTokens(in.Text, opts), nil
}

// importedBy prefers an explicit user over one carried by ctx.
func (s *Service) importedBy(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return ImportedByFromContext(ctx)
}

func newSession(source string, kind SessionKind, importedBy string) *ImportSession {
	return &ImportSession{
		ID:         uuid.New(),
		Source:     source,
		Kind:       kind,
		Status:     StatusProcessing,
		ImportedBy: importedBy,
		StartedAt:  time.Now(),
	}
}

// IsInvalidInput reports whether err is a caller mistake rather than a
// server failure.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// describeMappingErrors renders mapping problems as one line each.
func describeMappingErrors(errs []MappingError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Message
	}
	return out
}
