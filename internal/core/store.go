package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CatalogLookup checks SKUs against the published catalog.
type CatalogLookup interface {
	// ExistingSKUs returns normalized SKU -> catalog product id for every
	// given normalized SKU already in the catalog.
	ExistingSKUs(ctx context.Context, skus []string) (map[string]string, error)
}

// PendingDraftLookup checks SKUs against drafts still awaiting review.
type PendingDraftLookup interface {
	// PendingSKUs returns normalized SKU -> import session id for drafts of
	// sessions other than exclude. uuid.Nil excludes nothing.
	PendingSKUs(ctx context.Context, skus []string, exclude uuid.UUID) (map[string]string, error)
}

// ChunkTx is the unit of work for one chunk. Everything written through it
// commits or rolls back together.
type ChunkTx interface {
	// Row runs fn inside a savepoint. An error from fn is returned unchanged
	// after the savepoint is rolled back; any other error means the
	// transaction can no longer be used.
	Row(ctx context.Context, fn func() error) error

	InsertDraft(ctx context.Context, rec *DraftProductRecord) error

	// FindReference looks an entity up by case-insensitive name and type.
	// It returns nil, nil when none exists.
	FindReference(ctx context.Context, name string, typ ReferenceType) (*ReferenceEntity, error)

	// InsertReference inserts e unless (Code, Type) is taken, in which case
	// it reports false.
	InsertReference(ctx context.Context, e *ReferenceEntity) (bool, error)
}

// SessionStore persists import sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *ImportSession) error
	UpdateSession(ctx context.Context, s *ImportSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*ImportSession, error)

	// FailStaleSessions marks sessions still processing that started
	// before cutoff as failed with msg, skipping the ids in running.
	FailStaleSessions(ctx context.Context, cutoff time.Time, running []uuid.UUID, msg string) (int64, error)
}

// CommitStore is what the Committer needs from persistence.
type CommitStore interface {
	// InChunk runs fn in its own transaction, committing when fn returns nil.
	InChunk(ctx context.Context, fn func(tx ChunkTx) error) error
	UpdateSession(ctx context.Context, s *ImportSession) error
}

// PresetStore persists saved column mappings.
type PresetStore interface {
	ListPresets(ctx context.Context) ([]MappingPreset, error)
	SavePreset(ctx context.Context, p *MappingPreset) error
}

// Store is the full persistence surface used by Service.
type Store interface {
	CatalogLookup
	PendingDraftLookup
	SessionStore
	PresetStore
	InChunk(ctx context.Context, fn func(tx ChunkTx) error) error
}
