package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const polishCSV = "Kod;Nazwa;Cena\nA1;Widget;10,50\nA2;Gadget;abc\na1;Dup;1\n"

func newTestService(t *testing.T, opts Options) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewService(store, opts), store
}

func waitResult(t *testing.T, s *Service, id string) *ImportReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := s.GetImportResult(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, report)
	return report
}

func TestService_ImportTabular(t *testing.T) {
	s, store := newTestService(t, Options{})
	ctx := ContextWithImportedBy(context.Background(), "anna")

	report, err := s.Import(ctx, TabularImport{FileName: "cennik.csv", Data: []byte(polishCSV)})
	require.NoError(t, err)

	assert.Equal(t, "cennik.csv", report.Source)
	assert.Equal(t, 3, report.TotalRows)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Errors, 2)
	assert.Empty(t, report.Error)

	id, err := uuid.Parse(report.SessionID)
	require.NoError(t, err)
	sess, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForReview, sess.Status)
	assert.Equal(t, KindTabular, sess.Kind)
	assert.Equal(t, "anna", sess.ImportedBy)

	require.Len(t, store.drafts, 1)
	assert.Equal(t, "anna", store.drafts[0].ImportedBy)
	assert.Equal(t, "Widget", store.drafts[0].Name)
}

func TestService_ImportRejectsBadMapping(t *testing.T) {
	s, store := newTestService(t, Options{})

	_, err := s.Import(context.Background(), TabularImport{Data: []byte("Nazwa;Cena\nX;1\n")})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))

	var mErr *MappingValidationError
	require.True(t, errors.As(err, &mErr))
	assert.Equal(t, FieldSKU, mErr.Errors[0].Field)
	assert.Contains(t, FormatUserError(err), "IMP001")
	assert.Empty(t, store.sessions)
}

func TestService_ImportExplicitMapping(t *testing.T) {
	s, store := newTestService(t, Options{})

	report, err := s.Import(context.Background(), TabularImport{
		Data:    []byte(polishCSV),
		Mapping: ColumnMapping{"Kod": FieldSKU, "Nazwa": FieldDescription, "Cena": IgnoreField},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Created)
	assert.Equal(t, "Widget", store.drafts[0].Description)
	assert.Nil(t, store.drafts[0].Price)
}

func TestService_ImportFileTooLarge(t *testing.T) {
	s, _ := newTestService(t, Options{MaxFileSize: 10})
	_, err := s.Import(context.Background(), TabularImport{Data: []byte(polishCSV)})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
	assert.Contains(t, err.Error(), "file too large")
}

func TestService_CreateSessionFailure(t *testing.T) {
	s, store := newTestService(t, Options{MaxConcurrent: 2})
	store.createErr = errInjected

	_, err := s.Import(context.Background(), TabularImport{Data: []byte(polishCSV)})
	require.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 2, s.Limiter().Available())

	_, err = s.StartImport(context.Background(), TabularImport{Data: []byte(polishCSV)})
	require.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 2, s.Limiter().Available())
}

func TestService_ImportPaste(t *testing.T) {
	s, store := newTestService(t, Options{})

	report, err := s.ImportPaste(context.Background(), PasteImport{Text: "SKU001,SKU002;SKU001"})
	require.NoError(t, err)

	assert.Equal(t, PasteSource, report.Source)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 0, report.Skipped)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, WarnDuplicateInBatch, report.Warnings[0].Kind)
	assert.Equal(t, []string{"SKU001", "SKU002"}, store.draftSKUs())

	id := uuid.MustParse(report.SessionID)
	assert.Equal(t, KindPaste, store.sessionCopy(id).Kind)
}

func TestService_ImportPasteKeepsTokenErrors(t *testing.T) {
	s, _ := newTestService(t, Options{})

	report, err := s.ImportPaste(context.Background(), PasteImport{Text: "A1\nżółw"})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, KindInvalidSKU, report.Errors[0].Kind)
	assert.Equal(t, 2, report.Errors[0].Line)
	assert.Equal(t, "ZOLW", report.Errors[0].Suggestion)
}

func TestService_ImportPastePairs(t *testing.T) {
	s, store := newTestService(t, Options{})

	_, err := s.ImportPaste(context.Background(), PasteImport{
		Text:  "A1 A2",
		Names: "First\nSecond",
	})
	require.NoError(t, err)

	require.Len(t, store.drafts, 2)
	assert.Equal(t, "Second", store.drafts[1].Name)
}

func TestService_ImportPasteInvalid(t *testing.T) {
	s, _ := newTestService(t, Options{})

	tests := []struct {
		name string
		in   PasteImport
		want string
	}{
		{"empty", PasteImport{Text: "  \n "}, "no SKUs provided"},
		{"bad mode", PasteImport{Text: "A1", Mode: "csv"}, "unknown paste mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ImportPaste(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, IsInvalidInput(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestService_TooManyImports(t *testing.T) {
	s, _ := newTestService(t, Options{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	require.True(t, s.Limiter().TryAcquire())
	defer s.Limiter().Release()

	_, err := s.ImportPaste(context.Background(), PasteImport{Text: "A1"})
	require.ErrorIs(t, err, ErrTooManyImports)
	assert.Contains(t, FormatUserError(err), "UPL002")
}

func TestService_StartImportAsync(t *testing.T) {
	s, store := newTestService(t, Options{ChunkSize: 10})

	id, err := s.StartImport(context.Background(), TabularImport{FileName: "a.csv", Data: []byte(polishCSV)})
	require.NoError(t, err)

	ch, err := s.SubscribeProgress(id)
	require.NoError(t, err)

	var last ImportProgress
	for p := range ch {
		last = p
	}
	assert.Equal(t, PhaseComplete, last.Phase)
	assert.Equal(t, 3, last.TotalRows)
	assert.Equal(t, 100, last.Percent())

	report := waitResult(t, s, id)
	assert.Equal(t, 1, report.Created)

	progress, err := s.GetImportProgress(id)
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, progress.Phase)

	assert.Equal(t, StatusReadyForReview, store.sessionCopy(uuid.MustParse(id)).Status)
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 0, s.Limiter().ActiveCount())
}

func TestService_StartImportPrefetchFailure(t *testing.T) {
	s, store := newTestService(t, Options{})
	store.lookupErr = errInjected

	id, err := s.StartPasteImport(context.Background(), PasteImport{Text: "A1\nA2"})
	require.NoError(t, err)

	report := waitResult(t, s, id)
	assert.Contains(t, report.Error, "DB008")
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 2, report.Skipped)

	progress, err := s.GetImportProgress(id)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, progress.Phase)

	sess := store.sessionCopy(uuid.MustParse(id))
	assert.Equal(t, StatusFailed, sess.Status)
	assert.Contains(t, sess.Error, "prefetch duplicates")
}

func TestService_UnknownImport(t *testing.T) {
	s, _ := newTestService(t, Options{})

	assert.ErrorIs(t, s.CancelImport("nope"), ErrImportNotFound)
	_, err := s.GetImportProgress("nope")
	assert.ErrorIs(t, err, ErrImportNotFound)
	_, err = s.SubscribeProgress("nope")
	assert.ErrorIs(t, err, ErrImportNotFound)
	_, err = s.GetImportResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrImportNotFound)
}

func TestService_GetImportResultHonorsContext(t *testing.T) {
	s, _ := newTestService(t, Options{})
	imp := &activeImport{ID: "pending", Done: make(chan struct{})}
	s.imports[imp.ID] = imp

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.GetImportResult(ctx, imp.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{ChunkSize: 5}.withDefaults()
	assert.Equal(t, MinChunkSize, o.ChunkSize)
	assert.Equal(t, DefaultMaxRows, o.MaxRows)
	assert.Equal(t, DefaultImportTimeout, o.Timeout)
	assert.Equal(t, DefaultResultRetention, o.ResultRetention)
}
