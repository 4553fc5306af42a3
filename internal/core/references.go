package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const (
	maxReferenceCodeLen  = 40
	maxReferenceAttempts = 50
)

// ReferenceCode derives the base code for a reference entity name:
// slugified and uppercased.
func ReferenceCode(name string) string {
	code := strings.ToUpper(slug.Make(name))
	if len(code) > maxReferenceCodeLen {
		code = strings.TrimRight(code[:maxReferenceCodeLen], "-")
	}
	if code == "" {
		code = "REF"
	}
	return code
}

type refKey struct {
	typ  ReferenceType
	name string
}

func newRefKey(name string, typ ReferenceType) refKey {
	return refKey{typ: typ, name: strings.ToLower(strings.TrimSpace(name))}
}

// referenceResolver finds or creates reference entities through a chunk
// transaction. Ids are cached in three layers so that entities created in
// a rolled-back row or chunk are never reused.
type referenceResolver struct {
	committed map[refKey]uuid.UUID
	chunk     map[refKey]uuid.UUID
	row       map[refKey]uuid.UUID
	now       func() time.Time
}

func newReferenceResolver(now func() time.Time) *referenceResolver {
	return &referenceResolver{
		committed: make(map[refKey]uuid.UUID),
		chunk:     make(map[refKey]uuid.UUID),
		row:       make(map[refKey]uuid.UUID),
		now:       now,
	}
}

func (r *referenceResolver) lookup(k refKey) (uuid.UUID, bool) {
	if id, ok := r.row[k]; ok {
		return id, true
	}
	if id, ok := r.chunk[k]; ok {
		return id, true
	}
	id, ok := r.committed[k]
	return id, ok
}

// Resolve returns the id of the entity named name, creating it when absent.
// A code collision with a different entity retries with -2, -3, ...
func (r *referenceResolver) Resolve(ctx context.Context, tx ChunkTx, name string, typ ReferenceType) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	k := newRefKey(name, typ)
	if id, ok := r.lookup(k); ok {
		return id, nil
	}

	existing, err := tx.FindReference(ctx, name, typ)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find %s %q: %w", typ, name, err)
	}
	if existing != nil {
		// Visible to this transaction before it started, so it survives
		// any rollback.
		r.committed[k] = existing.ID
		return existing.ID, nil
	}

	base := ReferenceCode(name)
	for attempt := 1; attempt <= maxReferenceAttempts; attempt++ {
		code := base
		if attempt > 1 {
			code = fmt.Sprintf("%s-%d", base, attempt)
		}

		e := &ReferenceEntity{
			ID:        uuid.New(),
			Name:      name,
			Code:      code,
			Type:      typ,
			CreatedAt: r.now(),
		}
		inserted, err := tx.InsertReference(ctx, e)
		if err != nil {
			return uuid.Nil, fmt.Errorf("create %s %q: %w", typ, name, err)
		}
		if inserted {
			r.row[k] = e.ID
			return e.ID, nil
		}

		// A concurrent writer may have created the same name meanwhile.
		existing, err := tx.FindReference(ctx, name, typ)
		if err != nil {
			return uuid.Nil, fmt.Errorf("find %s %q: %w", typ, name, err)
		}
		if existing != nil {
			r.committed[k] = existing.ID
			return existing.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("no free code for %s %q after %d attempts", typ, name, maxReferenceAttempts)
}

// commitRow promotes ids created by the current row to the chunk layer.
func (r *referenceResolver) commitRow() {
	for k, id := range r.row {
		r.chunk[k] = id
	}
	clear(r.row)
}

// rollbackRow forgets ids created by the current row.
func (r *referenceResolver) rollbackRow() {
	clear(r.row)
}

// commitChunk promotes chunk ids once the chunk transaction committed.
func (r *referenceResolver) commitChunk() {
	for k, id := range r.chunk {
		r.committed[k] = id
	}
	clear(r.chunk)
}

// rollbackChunk forgets ids created inside a rolled-back chunk.
func (r *referenceResolver) rollbackChunk() {
	clear(r.row)
	clear(r.chunk)
}
