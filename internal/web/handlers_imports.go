package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/draftimport/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// multipartOverhead is allowed on top of MaxFileSize for form fields
	// and part headers.
	multipartOverhead = 1 << 20

	// multipartMemory is kept in memory before parts spill to disk.
	multipartMemory = 32 << 20
)

// upload is a parsed multipart import request.
type upload struct {
	fileName string
	data     []byte
	read     core.ReadOptions
	mapping  core.ColumnMapping
}

// readUpload parses the multipart form shared by analyze and import:
// a "file" part plus optional mapping, format, encoding, delimiter and
// sheet fields.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.service.MaxFileSize()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, fmt.Errorf("file too large: %w", err)
		}
		return nil, badRequest("invalid form: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest("no file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %w", core.ErrIO, err)
	}

	read, err := readOptionsFromForm(r)
	if err != nil {
		return nil, err
	}
	read.FileName = header.Filename

	var mapping core.ColumnMapping
	if mappingJSON := r.FormValue("mapping"); mappingJSON != "" {
		if err := json.Unmarshal([]byte(mappingJSON), &mapping); err != nil {
			return nil, badRequest("invalid column mapping format: %v", err)
		}
	}

	return &upload{fileName: header.Filename, data: data, read: read, mapping: mapping}, nil
}

// readOptionsFromForm reads the optional reader overrides.
func readOptionsFromForm(r *http.Request) (core.ReadOptions, error) {
	var opts core.ReadOptions

	switch f := core.FileFormat(strings.ToLower(r.FormValue("format"))); f {
	case core.FormatAuto, core.FormatCSV, core.FormatXLSX, core.FormatXLS:
		opts.Format = f
	default:
		return opts, badRequest("unknown format %q", f)
	}

	if enc := strings.TrimSpace(r.FormValue("encoding")); enc != "" {
		if _, err := core.Decoder(enc); err != nil {
			return opts, err
		}
		opts.Encoding = enc
	}

	delim, err := parseDelimiter(r.FormValue("delimiter"))
	if err != nil {
		return opts, err
	}
	opts.Delimiter = delim

	if sheet := r.FormValue("sheet"); sheet != "" {
		n, err := strconv.Atoi(sheet)
		if err != nil || n < 0 {
			return opts, badRequest("invalid sheet index %q", sheet)
		}
		opts.SheetIndex = n
	}
	return opts, nil
}

// parseDelimiter accepts a single character, or "tab" / `\t`.
func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case "tab", `\t`, "\t":
		return '\t', nil
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, badRequest("delimiter must be a single character, got %q", s)
	}
	return runes[0], nil
}

// handleAnalyze reads an upload and reports what an import would do,
// without writing anything.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.Analyze(r.Context(), up.data, up.read, up.mapping)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStartImport maps an upload and commits it in the background.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	id, err := s.service.StartImport(r.Context(), core.TabularImport{
		FileName: up.fileName,
		Data:     up.data,
		Read:     up.read,
		Mapping:  up.mapping,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

// pasteRequest is the JSON body of the paste endpoints.
type pasteRequest struct {
	Text      string         `json:"text"`
	Names     string         `json:"names"`
	Mode      core.TokenMode `json:"mode"`
	Separator string         `json:"separator"`
}

func (s *Server) readPaste(w http.ResponseWriter, r *http.Request) (core.PasteImport, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.service.MaxFileSize())

	var req pasteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return core.PasteImport{}, fmt.Errorf("file too large: %w", err)
		}
		return core.PasteImport{}, badRequest("invalid request body: %v", err)
	}
	return core.PasteImport{
		Text:      req.Text,
		Names:     req.Names,
		Mode:      req.Mode,
		Separator: req.Separator,
	}, nil
}

// handleStartPaste commits a pasted SKU list in the background.
func (s *Server) handleStartPaste(w http.ResponseWriter, r *http.Request) {
	in, err := s.readPaste(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	id, err := s.service.StartPasteImport(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

// handlePreviewPaste parses a pasted list and checks it against existing
// SKUs without persisting.
func (s *Server) handlePreviewPaste(w http.ResponseWriter, r *http.Request) {
	in, err := s.readPaste(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	preview, err := s.service.PreviewPaste(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleGetSession returns the stored session counters.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, badRequest("invalid session id"))
		return
	}

	session, err := s.service.GetSession(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleImportProgress streams import progress via Server-Sent Events.
// Supports resumption via lastEventId query parameter for reconnection.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The event ID is the progress percentage, so a reconnecting client
	// skips what it has already seen.
	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// ResponseController sees through middleware wrappers via Unwrap.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed: import finished, failed or was cancelled
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}

			current := progress.Percent()
			terminal := progress.Phase == core.PhaseComplete ||
				progress.Phase == core.PhaseFailed ||
				progress.Phase == core.PhaseCancelled
			if current <= lastEventID && !terminal {
				continue
			}
			lastEventID = current

			data, err := json.Marshal(progress)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", current, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportResult waits for an import to finish and returns its report.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.GetImportResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCancelImport stops an import at the next chunk boundary.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
