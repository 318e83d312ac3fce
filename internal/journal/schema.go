package journal

// Schema DDL. The journal is append-only; entry IDs are UUID v7 and sort by
// creation time.
const (
	createEntries = `CREATE TABLE IF NOT EXISTS entries (
    entry_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    hash_before TEXT NOT NULL,
    hash_after TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);`

	createEntriesKeyIndex = `CREATE INDEX IF NOT EXISTS idx_entries_key
    ON entries (tenant_id, entity_type, entity_id, entry_id);`
)

var schemaStatements = []string{
	createEntries,
	createEntriesKeyIndex,
}
