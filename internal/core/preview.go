package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/draftimport/internal/logging"
	"github.com/google/uuid"
)

// Sample limits
const (
	maxSampleRows       = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// PreviewSummary counts what a commit of the analyzed file would do.
type PreviewSummary struct {
	TotalRows       int `json:"total_rows"`
	MappedRows      int `json:"mapped_rows"`
	ReadyRows       int `json:"ready_rows"`
	InvalidSKUs     int `json:"invalid_skus"`
	DuplicateInFile int `json:"duplicate_in_file"`
	InCatalog       int `json:"in_catalog"`
	PendingReview   int `json:"pending_review"`
}

// RowPreview is one mapped row for display.
type RowPreview struct {
	Line   int               `json:"line"`
	Values map[string]string `json:"values"`
}

// DuplicatePreview lists the lines of a SKU seen more than once.
type DuplicatePreview struct {
	SKU   string `json:"sku"`
	Lines []int  `json:"lines"`
}

// AnalysisResult is the read-only outcome of Analyze.
type AnalysisResult struct {
	Format           FileFormat         `json:"format"`
	Encoding         string             `json:"encoding,omitempty"`
	Delimiter        string             `json:"delimiter,omitempty"`
	Headers          []string           `json:"headers"`
	Guesses          []ColumnGuess      `json:"guesses"`
	Mapping          ColumnMapping      `json:"mapping"`
	MappingErrors    []MappingError     `json:"mapping_errors,omitempty"`
	Presets          []PresetMatch      `json:"presets,omitempty"`
	Summary          PreviewSummary     `json:"summary"`
	SampleRows       []RowPreview       `json:"sample_rows"`
	ErrorSamples     []ImportRowError   `json:"error_samples"`
	DuplicateSamples []DuplicatePreview `json:"duplicate_samples"`
	Warnings         []ImportRowWarning `json:"warnings"`
	Truncated        bool               `json:"truncated"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
}

// Analyze reads a file and reports detected settings, the guessed mapping
// and what a commit would do, without writing anything. A nil mapping
// analyzes the auto-accepted guesses.
func (s *Service) Analyze(ctx context.Context, data []byte, opts ReadOptions, mapping ColumnMapping) (*AnalysisResult, error) {
	started := time.Now()
	if opts.MaxRows <= 0 {
		opts.MaxRows = s.opts.MaxRows
	}

	if int64(len(data)) > s.opts.MaxFileSize {
		return nil, invalidInputf("file too large: %d bytes exceeds %d", len(data), s.opts.MaxFileSize)
	}

	table, err := ParseTable(data, opts)
	if err != nil {
		return nil, err
	}

	guesses := s.mapper.GuessMappingOrdered(table.Headers)
	if mapping == nil {
		mapping = AcceptedMapping(guesses)
	}

	res := &AnalysisResult{
		Format:           table.Format,
		Encoding:         table.DetectedEncoding,
		Headers:          table.Headers,
		Guesses:          guesses,
		Mapping:          mapping,
		MappingErrors:    ValidateMapping(mapping, table.Headers),
		SampleRows:       []RowPreview{},
		ErrorSamples:     []ImportRowError{},
		DuplicateSamples: []DuplicatePreview{},
		Warnings:         table.Warnings,
		Truncated:        table.Truncated,
		Summary:          PreviewSummary{TotalRows: table.TotalRows},
	}
	if table.DetectedDelimiter != 0 {
		res.Delimiter = string(table.DetectedDelimiter)
	}

	presets, err := s.store.ListPresets(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("list mapping presets", "error", err)
	} else {
		res.Presets = MatchPresets(table.Headers, presets)
	}

	// Without a usable mapping there is nothing to project.
	if len(res.MappingErrors) > 0 {
		res.ProcessingTimeMs = time.Since(started).Milliseconds()
		return res, nil
	}

	rows := ApplyMapping(table, mapping)
	if err := s.summarize(ctx, res, rows); err != nil {
		return nil, err
	}
	res.ProcessingTimeMs = time.Since(started).Milliseconds()
	return res, nil
}

// summarize fills the counts and samples of res from the mapped rows.
func (s *Service) summarize(ctx context.Context, res *AnalysisResult, rows []MappedRow) error {
	res.Summary.MappedRows = len(rows)

	idx, err := NewDeduplicator(s.store, s.store).Prepare(ctx, rows, uuid.Nil)
	if err != nil {
		return ioErrorf(err, "prefetch duplicates")
	}

	lines := make(map[string][]int)
	var order []string
	for _, r := range rows {
		sku := r.SKU()
		if len(res.SampleRows) < maxSampleRows {
			res.SampleRows = append(res.SampleRows, RowPreview{Line: r.Line, Values: r.Values})
		}

		if vs := s.validator.Validate(sku); len(vs) > 0 {
			res.Summary.InvalidSKUs++
			if len(res.ErrorSamples) < maxErrorSamples {
				e := ImportRowError{Line: r.Line, SKU: sku, Kind: KindInvalidSKU, Message: JoinViolations(vs)}
				if fix, ok := s.validator.SuggestCorrection(sku); ok {
					e.Suggestion = fix
				}
				res.ErrorSamples = append(res.ErrorSamples, e)
			}
			continue
		}

		key := NormalizeSKU(sku)
		if _, seen := lines[key]; !seen {
			order = append(order, key)
		}
		lines[key] = append(lines[key], r.Line)

		src, _, dup := idx.Check(sku, r.Line)
		switch {
		case !dup:
			res.Summary.ReadyRows++
		case src == DuplicateInBatch:
			res.Summary.DuplicateInFile++
		case src == DuplicateInCatalog:
			res.Summary.InCatalog++
		case src == DuplicatePending:
			res.Summary.PendingReview++
		}
	}

	for _, key := range order {
		if len(lines[key]) > 1 && len(res.DuplicateSamples) < maxDuplicateSamples {
			res.DuplicateSamples = append(res.DuplicateSamples, DuplicatePreview{SKU: key, Lines: lines[key]})
		}
	}
	return nil
}

// PastePreview is the read-only outcome of PreviewPaste.
type PastePreview struct {
	*TokenResult
	InCatalog     []string `json:"in_catalog"`
	PendingReview []string `json:"pending_review"`
}

// PreviewPaste parses pasted text and checks its SKUs against the catalog
// and pending drafts without writing anything.
func (s *Service) PreviewPaste(ctx context.Context, in PasteImport) (*PastePreview, error) {
	tr, err := s.parsePaste(in)
	if err != nil {
		return nil, err
	}

	out := &PastePreview{TokenResult: tr, InCatalog: []string{}, PendingReview: []string{}}
	rows := ItemsToRows(tr.Items)
	idx, err := NewDeduplicator(s.store, s.store).Prepare(ctx, rows, uuid.Nil)
	if err != nil {
		return nil, ioErrorf(err, "prefetch duplicates")
	}
	for _, r := range rows {
		src, _, dup := idx.Check(r.SKU(), r.Line)
		if !dup {
			continue
		}
		switch src {
		case DuplicateInCatalog:
			out.InCatalog = append(out.InCatalog, r.SKU())
		case DuplicatePending:
			out.PendingReview = append(out.PendingReview, r.SKU())
		}
	}
	return out, nil
}
