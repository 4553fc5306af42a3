package core

// commit.go persists mapped rows as draft products.
//
// Rows are committed in fixed-size chunks, one transaction per chunk, one
// savepoint per row. A failing row is recorded and skipped; a failing chunk
// is rolled back as a whole, recorded once, and the run moves on to the
// next chunk. Session counters are persisted after every chunk.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Chunk size bounds.
const (
	DefaultChunkSize = 100
	MinChunkSize     = 10
	MaxChunkSize     = 1000
)

// DefaultHeaderOffset converts a 0-based data row index into a 1-based file
// line when a row carries no line of its own: one header line plus one.
const DefaultHeaderOffset = 2

// ClampChunkSize applies the default and the [MinChunkSize, MaxChunkSize]
// bounds.
func ClampChunkSize(n int) int {
	switch {
	case n <= 0:
		return DefaultChunkSize
	case n < MinChunkSize:
		return MinChunkSize
	case n > MaxChunkSize:
		return MaxChunkSize
	}
	return n
}

// referenceFields lists the free-text columns resolved to reference ids.
var referenceFields = []struct {
	field string
	typ   ReferenceType
}{
	{FieldManufacturer, RefManufacturer},
	{FieldSupplier, RefSupplier},
	{FieldImporter, RefImporter},
}

// CommitResult is the outcome of Committer.Process.
// Created + Skipped always equals the number of input rows.
type CommitResult struct {
	Created      int              `json:"created"`
	Skipped      int              `json:"skipped"`
	Failed       int              `json:"failed"` // skipped for reasons other than duplicates
	Chunks       int              `json:"chunks"`
	FailedChunks int              `json:"failed_chunks"`
	Errors       []ImportRowError `json:"errors"`
}

// Committer writes mapped rows to the store.
type Committer struct {
	store        CommitStore
	dedup        *Deduplicator
	validator    *SkuValidator
	chunkSize    int
	headerOffset int
	onProgress   ProgressCallback
	now          func() time.Time
	logger       *slog.Logger
}

// CommitterOption configures a Committer.
type CommitterOption func(*Committer)

// WithChunkSize sets the rows per transaction, clamped to the allowed range.
func WithChunkSize(n int) CommitterOption {
	return func(c *Committer) { c.chunkSize = ClampChunkSize(n) }
}

// WithHeaderOffset sets the offset used for rows without a line number.
func WithHeaderOffset(n int) CommitterOption {
	return func(c *Committer) { c.headerOffset = n }
}

// WithProgress registers a callback fired after every chunk.
func WithProgress(cb ProgressCallback) CommitterOption {
	return func(c *Committer) { c.onProgress = cb }
}

// WithValidator replaces the SKU validator.
func WithValidator(v *SkuValidator) CommitterOption {
	return func(c *Committer) { c.validator = v }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CommitterOption {
	return func(c *Committer) { c.now = now }
}

// WithLogger sets the run logger. It is used as is, so it should already
// carry the session fields (see logging.ImportLogger).
func WithLogger(l *slog.Logger) CommitterOption {
	return func(c *Committer) { c.logger = l }
}

// NewCommitter creates a Committer. dedup may be nil to skip duplicate
// checks against the catalog and pending drafts.
func NewCommitter(store CommitStore, dedup *Deduplicator, opts ...CommitterOption) *Committer {
	c := &Committer{
		store:        store,
		dedup:        dedup,
		validator:    NewSkuValidator(),
		chunkSize:    DefaultChunkSize,
		headerOffset: DefaultHeaderOffset,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dedup == nil {
		c.dedup = NewDeduplicator(nil, nil)
	}
	return c
}

// ChunkSize returns the effective chunk size.
func (c *Committer) ChunkSize() int { return c.chunkSize }

// Process commits rows chunk by chunk and updates session as it goes. The
// only errors returned are a failed duplicate prefetch (before any chunk),
// cancellation between chunks, and a failure to persist the final session
// state; in the latter two cases the partial result is returned as well.
func (c *Committer) Process(ctx context.Context, rows []MappedRow, session *ImportSession) (*CommitResult, error) {
	logger := c.logger
	if logger == nil {
		logger = slog.Default().With("session_id", session.ID.String())
	}

	rows = c.withLines(rows)
	session.TotalRows = len(rows)

	idx, err := c.dedup.Prepare(ctx, rows, session.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: prefetch duplicates: %w", ErrIO, err)
	}

	refs := newReferenceResolver(c.now)
	res := &CommitResult{Errors: []ImportRowError{}}
	size := c.chunkSize
	res.Chunks = (len(rows) + size - 1) / size

	for k := 0; k < res.Chunks; k++ {
		start := k * size
		end := min(start+size, len(rows))

		if err := ctx.Err(); err != nil {
			rest := rows[start:]
			res.Skipped += len(rest)
			res.Failed += len(rest)
			res.Errors = append(res.Errors, ImportRowError{
				Line:    rest[0].Line,
				EndLine: rest[len(rest)-1].Line,
				Kind:    KindChunkCommit,
				Message: fmt.Sprintf("import stopped before chunk %d; %d rows not processed", k+1, len(rest)),
			})
			logger.Warn("import cancelled", "chunk", k+1, "remaining", len(rest))
			if ferr := c.finish(ctx, session, res, StatusFailed, "cancelled: "+err.Error()); ferr != nil {
				return res, ferr
			}
			return res, err
		}

		// A started chunk runs to completion even if ctx is cancelled.
		chunk := rows[start:end]
		created, rowErrs, dupes, err := c.commitChunk(context.WithoutCancel(ctx), chunk, idx, refs, session)
		if err != nil {
			refs.rollbackChunk()
			res.FailedChunks++
			res.Skipped += len(chunk)
			res.Failed += len(chunk)
			res.Errors = append(res.Errors, ImportRowError{
				Line:    chunk[0].Line,
				EndLine: chunk[len(chunk)-1].Line,
				Kind:    KindChunkCommit,
				Message: fmt.Sprintf("chunk %d rolled back, %d rows not imported: %v", k+1, len(chunk), err),
			})
			logger.Warn("chunk rolled back",
				"chunk", k+1,
				"first_line", chunk[0].Line,
				"rows", len(chunk),
				"error", err,
			)
		} else {
			refs.commitChunk()
			res.Created += created
			res.Skipped += len(chunk) - created
			res.Failed += len(chunk) - created - dupes
			res.Errors = append(res.Errors, rowErrs...)
			logger.Debug("chunk committed",
				"chunk", k+1,
				"created", created,
				"skipped", len(chunk)-created,
			)
		}

		session.Created = res.Created
		session.Skipped = res.Skipped
		session.Failed = res.Failed
		if err := c.store.UpdateSession(context.WithoutCancel(ctx), session); err != nil {
			logger.Warn("persist session progress", "chunk", k+1, "error", err)
		}

		if c.onProgress != nil {
			c.onProgress(ImportProgress{
				SessionID:  session.ID.String(),
				Phase:      PhaseCommitting,
				Source:     session.Source,
				TotalRows:  len(rows),
				CurrentRow: end,
				Created:    res.Created,
				Skipped:    res.Skipped,
				Chunk:      k + 1,
				Chunks:     res.Chunks,
			})
		}
	}

	if err := c.finish(ctx, session, res, StatusReadyForReview, ""); err != nil {
		return res, err
	}

	logger.Info("import committed",
		"total", len(rows),
		"created", res.Created,
		"skipped", res.Skipped,
		"failed_chunks", res.FailedChunks,
	)
	return res, nil
}

// withLines returns rows with every missing line number filled in from the
// row's position.
func (c *Committer) withLines(rows []MappedRow) []MappedRow {
	out := make([]MappedRow, len(rows))
	for i, r := range rows {
		if r.Line <= 0 {
			r.Line = i + c.headerOffset
		}
		out[i] = r
	}
	return out
}

// finish moves the session to its terminal state. The write is detached
// from ctx so a cancelled run still records where it stopped.
func (c *Committer) finish(ctx context.Context, session *ImportSession, res *CommitResult, status SessionStatus, msg string) error {
	now := c.now()
	session.Created = res.Created
	session.Skipped = res.Skipped
	session.Failed = res.Failed
	session.Status = status
	session.Error = msg
	session.FinishedAt = &now

	if err := c.store.UpdateSession(context.WithoutCancel(ctx), session); err != nil {
		return fmt.Errorf("%w: finalize session: %w", ErrIO, err)
	}
	return nil
}

// commitChunk runs one chunk transaction. A returned error means the chunk
// was rolled back and created/rowErrs must be discarded.
func (c *Committer) commitChunk(ctx context.Context, chunk []MappedRow, idx *DedupIndex, refs *referenceResolver, session *ImportSession) (created int, rowErrs []ImportRowError, dupes int, err error) {
	err = c.store.InChunk(ctx, func(tx ChunkTx) (txErr error) {
		defer func() {
			if r := recover(); r != nil {
				txErr = fmt.Errorf("panic: %v", r)
			}
		}()

		for _, row := range chunk {
			rowErr, fatal := c.commitRow(ctx, tx, row, idx, refs, session)
			if fatal != nil {
				return fatal
			}
			if rowErr != nil {
				if rowErr.Kind == KindDuplicate {
					dupes++
				}
				rowErrs = append(rowErrs, *rowErr)
				continue
			}
			created++
		}
		return nil
	})
	return created, rowErrs, dupes, err
}

// commitRow validates and writes one row. It returns a collected row error,
// or a non-nil error when the transaction itself is broken.
func (c *Committer) commitRow(ctx context.Context, tx ChunkTx, row MappedRow, idx *DedupIndex, refs *referenceResolver, session *ImportSession) (rowErr *ImportRowError, fatal error) {
	sku := strings.TrimSpace(row.SKU())

	defer func() {
		if r := recover(); r != nil {
			refs.rollbackRow()
			rowErr = &ImportRowError{
				Line:    row.Line,
				SKU:     sku,
				Kind:    KindRowValidation,
				Message: fmt.Sprintf("unexpected error: %v", r),
			}
			fatal = nil
		}
	}()

	collected := func(e *rowError) *ImportRowError {
		return &ImportRowError{
			Line:       row.Line,
			SKU:        sku,
			Kind:       e.kind,
			Message:    e.message,
			Suggestion: e.hint,
		}
	}

	if sku == "" {
		return collected(newRowError(KindRowValidation, "missing SKU")), nil
	}
	if vs := c.validator.Validate(sku); len(vs) > 0 {
		e := newRowError(KindRowValidation, "%s", JoinViolations(vs))
		if fix, ok := c.validator.SuggestCorrection(sku); ok {
			e.hint = fix
		}
		return collected(e), nil
	}
	if _, msg, dup := idx.Check(sku, row.Line); dup {
		return collected(newRowError(KindDuplicate, "%s", msg)), nil
	}

	rec, verr := c.buildRecord(row, sku, session)
	if verr != nil {
		return collected(verr), nil
	}

	err := tx.Row(ctx, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = newRowError(KindRowValidation, "unexpected error: %v", r)
			}
		}()

		if rerr := c.resolveReferences(ctx, tx, refs, row, rec); rerr != nil {
			return rerr
		}
		if err := tx.InsertDraft(ctx, rec); err != nil {
			return newRowError(KindRowValidation, "save draft: %v", err)
		}
		return nil
	})

	var re *rowError
	switch {
	case err == nil:
		refs.commitRow()
		return nil, nil
	case errors.As(err, &re):
		refs.rollbackRow()
		return collected(re), nil
	default:
		refs.rollbackRow()
		return nil, err
	}
}

func (c *Committer) resolveReferences(ctx context.Context, tx ChunkTx, refs *referenceResolver, row MappedRow, rec *DraftProductRecord) error {
	for _, rf := range referenceFields {
		name := row.Values[rf.field]
		if name == "" {
			continue
		}
		id, err := refs.Resolve(ctx, tx, name, rf.typ)
		if err != nil {
			return newRowError(KindReferenceResolution, "%v", err)
		}
		switch rf.typ {
		case RefManufacturer:
			rec.ManufacturerID = &id
		case RefSupplier:
			rec.SupplierID = &id
		case RefImporter:
			rec.ImporterID = &id
		}
	}
	return nil
}

// buildRecord converts a mapped row into a draft record, reporting every
// unparseable value at once.
func (c *Committer) buildRecord(row MappedRow, sku string, session *ImportSession) (*DraftProductRecord, *rowError) {
	v := row.Values
	rec := &DraftProductRecord{
		ID:              uuid.New(),
		ImportSessionID: session.ID,
		SKU:             sku,
		SKUNormalized:   NormalizeSKU(sku),
		Name:            v[FieldName],
		EAN:             v[FieldEAN],
		Description:     v[FieldDescription],
		Unit:            v[FieldUnit],
		Category:        v[FieldCategory],
		SourceLine:      row.Line,
		ImportedBy:      session.ImportedBy,
		ImportedAt:      c.now(),
	}

	var problems []string
	parse := func(field string, dst **decimal.Decimal, nonNegative bool) {
		d, err := ParseDecimal(v[field])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", field, err))
			return
		}
		if d != nil && nonNegative && d.IsNegative() {
			problems = append(problems, fmt.Sprintf("%s must not be negative", field))
			return
		}
		*dst = d
	}
	parse(FieldPrice, &rec.Price, true)
	parse(FieldPurchasePrice, &rec.PurchasePrice, true)
	parse(FieldQuantity, &rec.Quantity, false)
	parse(FieldWeight, &rec.Weight, true)

	vat, err := ParsePercent(v[FieldVATRate])
	if err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", FieldVATRate, err))
	}
	rec.VATRate = vat

	if rec.EAN != "" && !validEAN(rec.EAN) {
		problems = append(problems, fmt.Sprintf("ean: %q is not an 8, 12, 13 or 14 digit code", rec.EAN))
	}

	if len(problems) > 0 {
		return nil, newRowError(KindRowValidation, "%s", strings.Join(problems, "; "))
	}
	return rec, nil
}

func validEAN(s string) bool {
	switch len(s) {
	case 8, 12, 13, 14:
	default:
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
