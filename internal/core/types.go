// Package core provides the business logic for product draft imports.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RawRow is one data record of a tabular upload, keyed by header name.
type RawRow struct {
	Line   int               // 1-based physical line (CSV) or sheet row number
	Values map[string]string // header -> cell value
}

// RawTable is the uniform result of reading a CSV or spreadsheet upload.
// It is produced once per upload and never persisted as-is.
type RawTable struct {
	Headers           []string
	Rows              []RawRow
	DetectedDelimiter rune
	DetectedEncoding  string
	Format            FileFormat
	TotalRows         int  // rows kept in Rows
	SourceRows        int  // non-blank data rows seen before truncation
	Truncated         bool // SourceRows exceeded the row cap
	Warnings          []ImportRowWarning
}

// MappedRow is a raw row projected onto target field keys.
type MappedRow struct {
	Line   int
	Values map[string]string // target field -> trimmed value
}

// SKU returns the row's trimmed sku value.
func (r MappedRow) SKU() string {
	return r.Values[FieldSKU]
}

// ParsedSkuItem is one entry produced by the paste parser.
// SKU keeps its original casing; use NormalizeSKU for comparisons.
type ParsedSkuItem struct {
	SKU        string  `json:"sku"`
	Name       *string `json:"name,omitempty"`
	SourceLine int     `json:"source_line"`
}

// ErrorKind classifies a collected row or chunk error.
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "invalid_input"
	KindIO                  ErrorKind = "io_error"
	KindRowValidation       ErrorKind = "row_validation"
	KindDuplicate           ErrorKind = "duplicate"
	KindReferenceResolution ErrorKind = "reference_resolution"
	KindChunkCommit         ErrorKind = "chunk_commit"
	KindInvalidSKU          ErrorKind = "invalid_sku"
)

// WarningKind classifies a collected warning.
type WarningKind string

const (
	WarnDuplicateInBatch WarningKind = "duplicate_in_batch"
	WarnCountMismatch    WarningKind = "count_mismatch"
	WarnMissingName      WarningKind = "missing_name"
	WarnMissingSKU       WarningKind = "missing_sku"
	WarnRowLimit         WarningKind = "row_limit"
)

// ImportRowError is a collected, non-fatal error tied to a source line.
// Chunk errors cover the range Line..EndLine.
type ImportRowError struct {
	Line       int       `json:"line"`
	EndLine    int       `json:"end_line,omitempty"`
	SKU        string    `json:"sku,omitempty"`
	Message    string    `json:"message"`
	Kind       ErrorKind `json:"kind"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// ImportRowWarning is a collected warning. Lines lists every line involved
// when more than one is relevant (e.g. duplicates).
type ImportRowWarning struct {
	Line    int         `json:"line"`
	Lines   []int       `json:"lines,omitempty"`
	SKU     string      `json:"sku,omitempty"`
	Message string      `json:"message"`
	Kind    WarningKind `json:"kind"`
}

// DraftProductRecord is one normalized, reference-resolved product row
// awaiting review.
type DraftProductRecord struct {
	ID              uuid.UUID
	ImportSessionID uuid.UUID
	SKU             string
	SKUNormalized   string
	Name            string
	EAN             string
	Description     string
	Unit            string
	Category        string
	Price           *decimal.Decimal
	PurchasePrice   *decimal.Decimal
	VATRate         *decimal.Decimal
	Quantity        *decimal.Decimal
	Weight          *decimal.Decimal
	ManufacturerID  *uuid.UUID
	SupplierID      *uuid.UUID
	ImporterID      *uuid.UUID
	SourceLine      int
	ImportedBy      string
	ImportedAt      time.Time
}

// SessionStatus is the lifecycle state of an ImportSession.
type SessionStatus string

const (
	StatusPending        SessionStatus = "pending"
	StatusProcessing     SessionStatus = "processing"
	StatusReadyForReview SessionStatus = "ready_for_review"
	StatusFailed         SessionStatus = "failed"
)

// SessionKind records which input path produced a session.
type SessionKind string

const (
	KindTabular SessionKind = "tabular"
	KindPaste   SessionKind = "paste"
)

// ImportSession holds the aggregate counters of one import run.
// After creation it is mutated by the Committer only.
type ImportSession struct {
	ID         uuid.UUID     `json:"id"`
	Source     string        `json:"source"`
	Kind       SessionKind   `json:"kind"`
	Status     SessionStatus `json:"status"`
	TotalRows  int           `json:"total_rows"`
	Created    int           `json:"created"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	ImportedBy string        `json:"imported_by,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// ReferenceType distinguishes business-partner lookups.
type ReferenceType string

const (
	RefManufacturer ReferenceType = "manufacturer"
	RefSupplier     ReferenceType = "supplier"
	RefImporter     ReferenceType = "importer"
)

// ReferenceEntity is a business partner resolved from free text.
// Unique on (Code, Type); the pipeline only ever inserts.
type ReferenceEntity struct {
	ID        uuid.UUID
	Name      string
	Code      string
	Type      ReferenceType
	CreatedAt time.Time
}

// ImportPhase indicates the current stage of an import run.
type ImportPhase string

const (
	PhaseStarting   ImportPhase = "starting"
	PhaseReading    ImportPhase = "reading"
	PhaseMapping    ImportPhase = "mapping"
	PhaseCommitting ImportPhase = "committing"
	PhaseComplete   ImportPhase = "complete"
	PhaseFailed     ImportPhase = "failed"
	PhaseCancelled  ImportPhase = "cancelled"
)

// ImportProgress is a point-in-time snapshot broadcast to subscribers.
type ImportProgress struct {
	SessionID  string      `json:"session_id"`
	Phase      ImportPhase `json:"phase"`
	Source     string      `json:"source"`
	TotalRows  int         `json:"total_rows"`
	CurrentRow int         `json:"current_row"`
	Created    int         `json:"created"`
	Skipped    int         `json:"skipped"`
	Chunk      int         `json:"chunk"`
	Chunks     int         `json:"chunks"`
	Error      string      `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p ImportProgress) Percent() int {
	if p.TotalRows > 0 {
		return (p.CurrentRow * 100) / p.TotalRows
	}
	if p.Phase == PhaseComplete {
		return 100
	}
	return 0
}

// ProgressCallback is called after every committed or failed chunk.
type ProgressCallback func(ImportProgress)

// ImportReport is the complete outcome of a run, returned to callers even
// on heavy partial failure.
type ImportReport struct {
	SessionID string             `json:"session_id"`
	Source    string             `json:"source"`
	TotalRows int                `json:"total_rows"`
	Created   int                `json:"created"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Errors    []ImportRowError   `json:"errors"`
	Warnings  []ImportRowWarning `json:"warnings"`
	Duration  time.Duration      `json:"duration"`
	Error     string             `json:"error,omitempty"` // fatal error, if the run aborted
}
