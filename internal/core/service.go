package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/draftimport/internal/logging"
	"github.com/google/uuid"
)

// Defaults for Options fields left at zero.
const (
	DefaultImportTimeout   = 10 * time.Minute
	DefaultResultRetention = 5 * time.Minute

	// DefaultMaxFileSize is the largest upload accepted (50MB).
	DefaultMaxFileSize int64 = 50 << 20
)

// Options tunes a Service.
type Options struct {
	ChunkSize       int
	MaxRows         int
	MaxFileSize     int64
	MaxConcurrent   int
	MaxWait         time.Duration
	Timeout         time.Duration
	ResultRetention time.Duration
}

func (o Options) withDefaults() Options {
	o.ChunkSize = ClampChunkSize(o.ChunkSize)
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultImportTimeout
	}
	if o.ResultRetention <= 0 {
		o.ResultRetention = DefaultResultRetention
	}
	return o
}

// Service is the entry point for import operations. It reads and maps
// uploads synchronously, then commits them in the background while
// broadcasting progress.
type Service struct {
	store     Store
	mapper    *SchemaMapper
	validator *SkuValidator
	limiter   *ImportLimiter
	opts      Options

	mu      sync.RWMutex
	imports map[string]*activeImport
}

type activeImport struct {
	ID     string
	Source string
	Cancel context.CancelFunc
	Done   chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	report    *ImportReport
	listeners []chan ImportProgress
}

// NewService creates a Service backed by store.
func NewService(store Store, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		store:     store,
		mapper:    NewSchemaMapper(),
		validator: NewSkuValidator(),
		limiter:   NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:      opts,
		imports:   make(map[string]*activeImport),
	}
}

// Mapper returns the schema mapper used by the service.
func (s *Service) Mapper() *SchemaMapper { return s.mapper }

// MaxFileSize returns the largest upload the service accepts.
func (s *Service) MaxFileSize() int64 { return s.opts.MaxFileSize }

// Limiter returns the concurrency limiter, for status and draining.
func (s *Service) Limiter() *ImportLimiter { return s.limiter }

// GetSession loads a session from the store.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*ImportSession, error) {
	return s.store.GetSession(ctx, id)
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the import completes.
func (s *Service) SubscribeProgress(id string) (<-chan ImportProgress, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	imp.mu.Lock()
	defer imp.mu.Unlock()

	// Send current progress immediately
	ch <- imp.progress
	select {
	case <-imp.Done:
		close(ch)
	default:
		imp.listeners = append(imp.listeners, ch)
	}
	return ch, nil
}

// GetImportProgress returns the current progress without blocking.
func (s *Service) GetImportProgress(id string) (ImportProgress, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return ImportProgress{}, err
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.progress, nil
}

// GetImportResult returns the report of an import, waiting for it to
// finish or for ctx to end.
func (s *Service) GetImportResult(ctx context.Context, id string) (*ImportReport, error) {
	imp, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-imp.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.report, nil
}

// CancelImport stops an import at the next chunk boundary.
func (s *Service) CancelImport(id string) error {
	imp, err := s.lookup(id)
	if err != nil {
		return err
	}
	imp.Cancel()
	return nil
}

// Shutdown waits for running imports to finish or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) lookup(id string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	return imp, nil
}

// update stores p and sends it to every listener.
func (imp *activeImport) update(p ImportProgress) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	imp.progress = p
	for _, ch := range imp.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// complete records the final report and closes all listeners.
func (imp *activeImport) complete(report *ImportReport, phase ImportPhase) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	imp.report = report
	imp.progress.Phase = phase
	imp.progress.Error = report.Error
	imp.progress.Created = report.Created
	imp.progress.Skipped = report.Skipped
	imp.progress.TotalRows = report.TotalRows
	imp.progress.CurrentRow = report.Created + report.Skipped

	for _, ch := range imp.listeners {
		select {
		case ch <- imp.progress:
		default:
		}
		close(ch)
	}
	imp.listeners = nil
	close(imp.Done)
}

// cleanup removes the import from tracking after a delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, id)
		s.mu.Unlock()
	})
}

// preparedImport is a fully read and mapped import awaiting commit.
type preparedImport struct {
	session  *ImportSession
	rows     []MappedRow
	errors   []ImportRowError
	warnings []ImportRowWarning
}

// start registers p and commits it in the background.
func (s *Service) start(ctx context.Context, p *preparedImport) (string, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	if err := s.store.CreateSession(ctx, p.session); err != nil {
		s.limiter.Release()
		return "", ioErrorf(err, "create import session")
	}

	id := p.session.ID.String()
	runCtx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)

	imp := &activeImport{
		ID:     id,
		Source: p.session.Source,
		Cancel: cancel,
		Done:   make(chan struct{}),
		progress: ImportProgress{
			SessionID: id,
			Phase:     PhaseStarting,
			Source:    p.session.Source,
			TotalRows: len(p.rows),
		},
	}

	s.mu.Lock()
	s.imports[id] = imp
	s.mu.Unlock()

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer s.cleanup(id, s.opts.ResultRetention)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import",
					"session_id", id,
					"source", p.session.Source,
					"panic", r,
				)
				s.markFailed(p.session, fmt.Sprintf("internal error: %v", r))
				imp.complete(s.report(p, nil, time.Time{}, fmt.Errorf("internal error: %v", r)), PhaseFailed)
			}
		}()

		report, err := s.execute(runCtx, p, imp.update)
		phase := PhaseComplete
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			phase = PhaseCancelled
		case err != nil:
			phase = PhaseFailed
		}
		imp.complete(report, phase)
	}()

	return id, nil
}

// runSync commits p in the calling goroutine.
func (s *Service) runSync(ctx context.Context, p *preparedImport) (*ImportReport, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if err := s.store.CreateSession(ctx, p.session); err != nil {
		return nil, ioErrorf(err, "create import session")
	}
	return s.execute(ctx, p, nil)
}

// execute runs the committer over p and assembles the report.
func (s *Service) execute(ctx context.Context, p *preparedImport, onProgress ProgressCallback) (*ImportReport, error) {
	started := time.Now()
	logger := logging.ImportLogger(ctx, p.session.ID.String(), p.session.Source)
	logger.Info("import started", "rows", len(p.rows), "kind", p.session.Kind)

	if onProgress != nil {
		onProgress(ImportProgress{
			SessionID: p.session.ID.String(),
			Phase:     PhaseCommitting,
			Source:    p.session.Source,
			TotalRows: len(p.rows),
		})
	}

	committer := NewCommitter(s.store, NewDeduplicator(s.store, s.store),
		WithChunkSize(s.opts.ChunkSize),
		WithValidator(s.validator),
		WithProgress(onProgress),
		WithLogger(logger),
	)

	res, err := committer.Process(ctx, p.rows, p.session)
	if res == nil {
		// Nothing was committed; record why on the session.
		logger.Error("import failed", "error", err)
		s.markFailed(p.session, err.Error())
		return s.report(p, nil, started, err), err
	}
	if err != nil {
		logger.Warn("import ended early", "error", err)
	}
	return s.report(p, res, started, err), err
}

func (s *Service) markFailed(session *ImportSession, msg string) {
	now := time.Now()
	session.Status = StatusFailed
	session.Error = msg
	session.FinishedAt = &now
	if err := s.store.UpdateSession(context.Background(), session); err != nil {
		slog.Warn("persist failed session", "session_id", session.ID.String(), "error", err)
	}
}

func (s *Service) report(p *preparedImport, res *CommitResult, started time.Time, err error) *ImportReport {
	r := &ImportReport{
		SessionID: p.session.ID.String(),
		Source:    p.session.Source,
		TotalRows: len(p.rows),
		Errors:    append([]ImportRowError{}, p.errors...),
		Warnings:  append([]ImportRowWarning{}, p.warnings...),
	}
	if !started.IsZero() {
		r.Duration = time.Since(started)
	}
	if res != nil {
		r.Created = res.Created
		r.Skipped = res.Skipped
		r.Failed = res.Failed
		r.Errors = append(r.Errors, res.Errors...)
	} else {
		r.Skipped = len(p.rows)
	}
	if err != nil {
		r.Error = FormatUserError(err)
	}
	return r
}
