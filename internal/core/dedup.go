package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DuplicateSource names which check flagged a SKU.
type DuplicateSource string

const (
	DuplicateInBatch   DuplicateSource = "batch"
	DuplicateInCatalog DuplicateSource = "catalog"
	DuplicatePending   DuplicateSource = "pending"
)

// Deduplicator builds the lookup maps used to skip duplicate SKUs during
// commit. Catalog and pending lookups are one batched query each.
type Deduplicator struct {
	catalog CatalogLookup
	pending PendingDraftLookup
}

// NewDeduplicator creates a Deduplicator. Either lookup may be nil to skip
// that check.
func NewDeduplicator(catalog CatalogLookup, pending PendingDraftLookup) *Deduplicator {
	return &Deduplicator{catalog: catalog, pending: pending}
}

// DedupIndex answers per-row duplicate checks in O(1).
type DedupIndex struct {
	batch   map[string]int    // normalized sku -> first line
	catalog map[string]string // normalized sku -> catalog product id
	pending map[string]string // normalized sku -> session id
}

// BatchIndex maps every normalized SKU to the line of its first occurrence.
func BatchIndex(rows []MappedRow) map[string]int {
	idx := make(map[string]int, len(rows))
	for _, r := range rows {
		key := NormalizeSKU(r.SKU())
		if key == "" {
			continue
		}
		if _, ok := idx[key]; !ok {
			idx[key] = r.Line
		}
	}
	return idx
}

// Prepare runs the catalog and pending-draft lookups for every distinct SKU
// in rows. Drafts of sessionID itself are not reported as pending.
func (d *Deduplicator) Prepare(ctx context.Context, rows []MappedRow, sessionID uuid.UUID) (*DedupIndex, error) {
	batch := BatchIndex(rows)
	keys := make([]string, 0, len(batch))
	for _, r := range rows {
		key := NormalizeSKU(r.SKU())
		if line, ok := batch[key]; ok && line == r.Line {
			keys = append(keys, key)
		}
	}

	ix := &DedupIndex{
		batch:   batch,
		catalog: map[string]string{},
		pending: map[string]string{},
	}
	if len(keys) == 0 {
		return ix, nil
	}

	if d.catalog != nil {
		found, err := d.catalog.ExistingSKUs(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup: %w", err)
		}
		ix.catalog = found
	}
	if d.pending != nil {
		found, err := d.pending.PendingSKUs(ctx, keys, sessionID)
		if err != nil {
			return nil, fmt.Errorf("pending draft lookup: %w", err)
		}
		ix.pending = found
	}
	return ix, nil
}

// Check reports whether the row at line carrying sku is a duplicate, which
// check fired, and a message naming it. Checks run batch, catalog, pending.
// The first line of a SKU claims it for the whole file, so later copies are
// duplicates even when that first row is rejected for another reason.
func (ix *DedupIndex) Check(sku string, line int) (DuplicateSource, string, bool) {
	key := NormalizeSKU(sku)

	if first, ok := ix.batch[key]; ok && first != line {
		return DuplicateInBatch, fmt.Sprintf("duplicate SKU %s in this file (line %d claims it first, even if that row is rejected)", sku, first), true
	}
	if id, ok := ix.catalog[key]; ok {
		return DuplicateInCatalog, fmt.Sprintf("SKU %s already exists in the catalog (product %s)", sku, id), true
	}
	if sid, ok := ix.pending[key]; ok {
		return DuplicatePending, fmt.Sprintf("SKU %s is already pending review in import session %s", sku, sid), true
	}
	return "", "", false
}
