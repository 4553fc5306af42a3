package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/draftimport/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes the store reacts to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store implements core.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ core.Store = (*Store)(nil)

// ============================================================================
// Duplicate lookups
// ============================================================================

func (s *Store) ExistingSKUs(ctx context.Context, skus []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(skus) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT sku_normalized, id::text FROM catalog_products WHERE sku_normalized = ANY($1)`,
		skus)
	if err != nil {
		return nil, fmt.Errorf("query catalog skus: %w", err)
	}
	return collectPairs(rows, out)
}

func (s *Store) PendingSKUs(ctx context.Context, skus []string, exclude uuid.UUID) (map[string]string, error) {
	out := make(map[string]string)
	if len(skus) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (sku_normalized) sku_normalized, import_session_id::text
		FROM draft_products
		WHERE status = 'pending_review'
		  AND sku_normalized = ANY($1)
		  AND import_session_id <> $2
		ORDER BY sku_normalized, imported_at`,
		skus, exclude.String())
	if err != nil {
		return nil, fmt.Errorf("query pending skus: %w", err)
	}
	return collectPairs(rows, out)
}

func collectPairs(rows pgx.Rows, out map[string]string) (map[string]string, error) {
	defer rows.Close()
	for rows.Next() {
		var key, val string
		if err := rows.Scan(&key, &val); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[key] = val
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// ============================================================================
// Sessions
// ============================================================================

func (s *Store) CreateSession(ctx context.Context, sess *core.ImportSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_sessions
			(id, source, kind, status, total_rows, created_count, skipped_count,
			 failed_count, imported_by, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sess.ID.String(), sess.Source, string(sess.Kind), string(sess.Status),
		sess.TotalRows, sess.Created, sess.Skipped, sess.Failed,
		sess.ImportedBy, sess.Error, sess.StartedAt, timestamptz(sess.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *core.ImportSession) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_sessions
		SET status = $2, total_rows = $3, created_count = $4, skipped_count = $5,
		    failed_count = $6, error = $7, finished_at = $8
		WHERE id = $1`,
		sess.ID.String(), string(sess.Status), sess.TotalRows,
		sess.Created, sess.Skipped, sess.Failed, sess.Error, timestamptz(sess.FinishedAt))
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %s: %w", sess.ID, core.ErrSessionNotFound)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*core.ImportSession, error) {
	var (
		sess     core.ImportSession
		rawID    string
		kind     string
		status   string
		finished pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, source, kind, status, total_rows, created_count, skipped_count,
		       failed_count, imported_by, error, started_at, finished_at
		FROM import_sessions WHERE id = $1`,
		id.String()).Scan(
		&rawID, &sess.Source, &kind, &status, &sess.TotalRows, &sess.Created,
		&sess.Skipped, &sess.Failed, &sess.ImportedBy, &sess.Error, &sess.StartedAt, &finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	sess.Kind = core.SessionKind(kind)
	sess.Status = core.SessionStatus(status)
	if finished.Valid {
		t := finished.Time
		sess.FinishedAt = &t
	}
	return &sess, nil
}

func (s *Store) FailStaleSessions(ctx context.Context, cutoff time.Time, running []uuid.UUID, msg string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_sessions
		SET status = 'failed', error = $3, finished_at = now()
		WHERE status = 'processing'
		  AND started_at < $1
		  AND NOT (id = ANY($2::uuid[]))`,
		cutoff, uuidStrings(running), msg)
	if err != nil {
		return 0, fmt.Errorf("fail stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// uuidStrings never returns nil: ANY over a NULL array matches nothing.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

// ============================================================================
// Presets
// ============================================================================

func (s *Store) ListPresets(ctx context.Context) ([]core.MappingPreset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, name, headers, mapping, created_at FROM mapping_presets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query presets: %w", err)
	}
	defer rows.Close()

	presets := []core.MappingPreset{}
	for rows.Next() {
		var (
			p               core.MappingPreset
			rawID           string
			headers, mapped []byte
		)
		if err := rows.Scan(&rawID, &p.Name, &headers, &mapped, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		if p.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse preset id: %w", err)
		}
		if err := json.Unmarshal(headers, &p.Headers); err != nil {
			return nil, fmt.Errorf("decode preset %q headers: %w", p.Name, err)
		}
		if err := json.Unmarshal(mapped, &p.Mapping); err != nil {
			return nil, fmt.Errorf("decode preset %q mapping: %w", p.Name, err)
		}
		presets = append(presets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presets: %w", err)
	}
	return presets, nil
}

// SavePreset inserts p or replaces the preset with the same name. p.ID and
// p.CreatedAt are updated to the stored row.
func (s *Store) SavePreset(ctx context.Context, p *core.MappingPreset) error {
	headers, err := json.Marshal(p.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	mapped, err := json.Marshal(p.Mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	var rawID string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO mapping_presets (id, name, headers, mapping, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET headers = EXCLUDED.headers, mapping = EXCLUDED.mapping
		RETURNING id::text, created_at`,
		p.ID.String(), p.Name, headers, mapped, p.CreatedAt).Scan(&rawID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert preset: %w", err)
	}
	p.ID, err = uuid.Parse(rawID)
	return err
}

// ============================================================================
// Chunk transactions
// ============================================================================

// InChunk runs fn in one transaction, committing only when fn returns nil.
func (s *Store) InChunk(ctx context.Context, fn func(tx core.ChunkTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&chunkTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// chunkTx wraps one pgx transaction. Each Row gets its own savepoint.
type chunkTx struct {
	tx pgx.Tx
	sp int
}

func (c *chunkTx) Row(ctx context.Context, fn func() error) error {
	c.sp++
	savepointName := fmt.Sprintf("sp_%d", c.sp)

	if _, err := c.tx.Exec(ctx, "SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if ferr := fn(); ferr != nil {
		if _, err := c.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); err != nil {
			return fmt.Errorf("rollback savepoint: %w", err)
		}
		return ferr
	}

	if _, err := c.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (c *chunkTx) InsertDraft(ctx context.Context, rec *core.DraftProductRecord) error {
	_, err := c.tx.Exec(ctx, `
		INSERT INTO draft_products
			(id, import_session_id, sku, sku_normalized, name, ean, description, unit,
			 category, price, purchase_price, vat_rate, quantity, weight,
			 manufacturer_id, supplier_id, importer_id, source_line, imported_by, imported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20)`,
		rec.ID.String(), rec.ImportSessionID.String(), rec.SKU, rec.SKUNormalized,
		rec.Name, rec.EAN, rec.Description, rec.Unit, rec.Category,
		numeric(rec.Price), numeric(rec.PurchasePrice), numeric(rec.VATRate),
		numeric(rec.Quantity), numeric(rec.Weight),
		optionalUUID(rec.ManufacturerID), optionalUUID(rec.SupplierID), optionalUUID(rec.ImporterID),
		rec.SourceLine, rec.ImportedBy, rec.ImportedAt)
	if err != nil {
		return describeInsertError(err, rec.SKU)
	}
	return nil
}

func (c *chunkTx) FindReference(ctx context.Context, name string, typ core.ReferenceType) (*core.ReferenceEntity, error) {
	var (
		e     core.ReferenceEntity
		rawID string
		rtype string
	)
	err := c.tx.QueryRow(ctx, `
		SELECT id::text, name, code, type, created_at
		FROM reference_entities
		WHERE type = $1 AND lower(name) = lower($2)
		ORDER BY created_at
		LIMIT 1`,
		string(typ), name).Scan(&rawID, &e.Name, &e.Code, &rtype, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reference: %w", err)
	}
	if e.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parse reference id: %w", err)
	}
	e.Type = core.ReferenceType(rtype)
	return &e, nil
}

func (c *chunkTx) InsertReference(ctx context.Context, e *core.ReferenceEntity) (bool, error) {
	var rawID string
	err := c.tx.QueryRow(ctx, `
		INSERT INTO reference_entities (id, name, code, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code, type) DO NOTHING
		RETURNING id::text`,
		e.ID.String(), e.Name, e.Code, string(e.Type), e.CreatedAt).Scan(&rawID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert reference: %w", err)
	}
	return true, nil
}

// describeInsertError rewrites constraint violations into messages the
// user error table recognizes.
func describeInsertError(err error, sku string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("duplicate key: SKU %s already exists in this import", sku)
		case pgForeignKeyViolation:
			return fmt.Errorf("violates foreign key %s", pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("insert draft: %w", err)
}
