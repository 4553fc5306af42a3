package core

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store. Chunk transactions stage their writes
// and apply them on commit; Row savepoints truncate the staged writes.
type memStore struct {
	mu sync.Mutex

	catalog  map[string]string // normalized sku -> product id
	pending  map[string]string // normalized sku -> session id
	sessions map[uuid.UUID]ImportSession
	drafts   []*DraftProductRecord
	refs     []*ReferenceEntity
	presets  []MappingPreset

	chunkCalls     int
	sessionUpdates int
	lookups        [][]string

	// failure injection
	failChunk  map[int]error // 1-based InChunk call -> error at commit
	failInsert func(rec *DraftProductRecord) error
	lookupErr  error
	createErr  error
	presetErr  error
	staleErr   error
}

func newMemStore() *memStore {
	return &memStore{
		catalog:   map[string]string{},
		pending:   map[string]string{},
		sessions:  map[uuid.UUID]ImportSession{},
		failChunk: map[int]error{},
	}
}

func (s *memStore) ExistingSKUs(_ context.Context, skus []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	s.lookups = append(s.lookups, slices.Clone(skus))

	out := map[string]string{}
	for _, k := range skus {
		if id, ok := s.catalog[k]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func (s *memStore) PendingSKUs(_ context.Context, skus []string, exclude uuid.UUID) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}

	want := make(map[string]bool, len(skus))
	for _, k := range skus {
		want[k] = true
	}

	out := map[string]string{}
	for k, sid := range s.pending {
		if want[k] && sid != exclude.String() {
			out[k] = sid
		}
	}
	for _, d := range s.drafts {
		if want[d.SKUNormalized] && d.ImportSessionID != exclude {
			out[d.SKUNormalized] = d.ImportSessionID.String()
		}
	}
	return out, nil
}

func (s *memStore) CreateSession(_ context.Context, sess *ImportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *memStore) UpdateSession(_ context.Context, sess *ImportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessionUpdates++
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *memStore) GetSession(_ context.Context, id uuid.UUID) (*ImportSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *memStore) FailStaleSessions(_ context.Context, cutoff time.Time, running []uuid.UUID, msg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleErr != nil {
		return 0, s.staleErr
	}

	var n int64
	for id, sess := range s.sessions {
		if sess.Status != StatusProcessing || !sess.StartedAt.Before(cutoff) || slices.Contains(running, id) {
			continue
		}
		now := time.Now()
		sess.Status = StatusFailed
		sess.Error = msg
		sess.FinishedAt = &now
		s.sessions[id] = sess
		n++
	}
	return n, nil
}

func (s *memStore) ListPresets(context.Context) ([]MappingPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presetErr != nil {
		return nil, s.presetErr
	}
	return slices.Clone(s.presets), nil
}

func (s *memStore) SavePreset(_ context.Context, p *MappingPreset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presetErr != nil {
		return s.presetErr
	}
	s.presets = append(s.presets, *p)
	return nil
}

func (s *memStore) InChunk(ctx context.Context, fn func(tx ChunkTx) error) error {
	s.mu.Lock()
	s.chunkCalls++
	n := s.chunkCalls
	s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failChunk[n]; err != nil {
		return err
	}
	s.drafts = append(s.drafts, tx.drafts...)
	s.refs = append(s.refs, tx.refs...)
	return nil
}

func (s *memStore) sessionCopy(id uuid.UUID) ImportSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *memStore) draftSKUs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.drafts))
	for i, d := range s.drafts {
		out[i] = d.SKU
	}
	return out
}

// memTx stages the writes of one chunk.
type memTx struct {
	store  *memStore
	drafts []*DraftProductRecord
	refs   []*ReferenceEntity
}

func (tx *memTx) Row(_ context.Context, fn func() error) error {
	nd, nr := len(tx.drafts), len(tx.refs)
	if err := fn(); err != nil {
		tx.drafts = tx.drafts[:nd]
		tx.refs = tx.refs[:nr]
		return err
	}
	return nil
}

func (tx *memTx) InsertDraft(_ context.Context, rec *DraftProductRecord) error {
	if f := tx.store.failInsert; f != nil {
		if err := f(rec); err != nil {
			return err
		}
	}
	tx.drafts = append(tx.drafts, rec)
	return nil
}

func (tx *memTx) allRefs() []*ReferenceEntity {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	return append(slices.Clone(tx.store.refs), tx.refs...)
}

func (tx *memTx) FindReference(_ context.Context, name string, typ ReferenceType) (*ReferenceEntity, error) {
	for _, r := range tx.allRefs() {
		if r.Type == typ && strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return nil, nil
}

func (tx *memTx) InsertReference(_ context.Context, e *ReferenceEntity) (bool, error) {
	for _, r := range tx.allRefs() {
		if r.Type == e.Type && r.Code == e.Code {
			return false, nil
		}
	}
	tx.refs = append(tx.refs, e)
	return true, nil
}

var errInjected = errors.New("injected failure")

// rowsWithSKUs builds mapped rows with lines starting at 2.
func rowsWithSKUs(skus ...string) []MappedRow {
	rows := make([]MappedRow, len(skus))
	for i, sku := range skus {
		rows[i] = MappedRow{Line: i + 2, Values: map[string]string{FieldSKU: sku}}
	}
	return rows
}

func testSession() *ImportSession {
	return &ImportSession{
		ID:        uuid.New(),
		Source:    "test.csv",
		Kind:      KindTabular,
		Status:    StatusProcessing,
		StartedAt: time.Now(),
	}
}
