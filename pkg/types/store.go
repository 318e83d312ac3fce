package types

// EntityStore persists one JSON document per (tenant, entity type, entity id)
// together with the summary index. It carries no business logic.
type EntityStore interface {
	// Write persists rec and then its index entry. Readers never observe a
	// partially written record.
	Write(rec *CachedEntity) error

	// Read returns the record, ErrNotFound if absent, or ErrCorruptRecord if
	// the stored document cannot be decoded.
	Read(tenantID string, t EntityType, id string) (*CachedEntity, error)

	// Delete removes one record and its index entry. Returns ErrNotFound if
	// the index has no such entry.
	Delete(tenantID string, t EntityType, id string) error

	// ListIDs returns the IDs the index knows for tenant and type, sorted.
	ListIDs(tenantID string, t EntityType) ([]string, error)

	// Entry returns the index entry for a key, reporting whether it exists.
	Entry(tenantID string, t EntityType, id string) (IndexEntry, bool, error)

	// ScanIndex calls fn for every index entry, scoped to tenantID when it is
	// non-empty, in tenant/type/id order. Returning false stops the scan.
	ScanIndex(tenantID string, fn func(ref EntityRef, entry IndexEntry) bool) error

	// DeleteTenant removes every record and index entry of a tenant.
	DeleteTenant(tenantID string) error

	// DeleteAll removes every record and resets the index to empty.
	DeleteAll() error

	// RebuildIndex replaces the index with one derived from the stored
	// records and returns the number of entries indexed.
	RebuildIndex() (int, error)
}
