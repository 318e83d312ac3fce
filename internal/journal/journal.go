// Package journal keeps an append-only history of commits, reverts and
// discards in a SQLite database next to the cache. The journal is advisory:
// losing it loses history, never cached data.
// See docs/ARCHITECTURE.md § Journal.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

// FileName is the journal database name under the cache root.
const FileName = "journal.db"

// Operation names a recorded change.
type Operation string

// Recorded operations.
const (
	OpCommit  Operation = "commit"
	OpRevert  Operation = "revert"
	OpDiscard Operation = "discard"
	OpCreate  Operation = "create"
)

// ErrDetached is returned by operations on a journal that is not attached.
var ErrDetached = errors.New("journal is detached")

// Entry is one journal row.
type Entry struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenantId"`
	Type       types.EntityType `json:"type"`
	EntityID   string           `json:"entityId"`
	Op         Operation        `json:"operation"`
	HashBefore string           `json:"hashBefore"`
	HashAfter  string           `json:"hashAfter"`
	Detail     string           `json:"detail,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Journal records entries in a SQLite database.
type Journal struct {
	mu       sync.RWMutex
	attached bool
	path     string
	db       *sql.DB
	now      func() time.Time
}

// New creates a detached journal.
func New() *Journal {
	return &Journal{now: time.Now}
}

// Attach opens (creating if needed) the database at path.
func (j *Journal) Attach(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.attached {
		return types.ErrAlreadyAttached
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &types.StorageError{Op: "create journal dir", Path: path, Err: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return &types.StorageError{Op: "open journal", Path: path, Err: err}
	}
	// One connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return &types.StorageError{Op: "init journal", Path: path, Err: err}
		}
	}

	j.db = db
	j.path = path
	j.attached = true
	return nil
}

// Detach closes the database. Detach is idempotent.
func (j *Journal) Detach() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.attached {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	j.attached = false
	if err != nil {
		return &types.StorageError{Op: "close journal", Path: j.path, Err: err}
	}
	return nil
}

// Path returns the database path.
func (j *Journal) Path() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.path
}

// Record appends e, assigning its ID and CreatedAt, and returns the stored
// entry.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if !j.attached {
		return Entry{}, ErrDetached
	}
	if e.TenantID == "" || e.EntityID == "" || e.Op == "" {
		return Entry{}, types.ErrInvalidData
	}
	if !e.Type.Valid() {
		return Entry{}, fmt.Errorf("%w: %d", types.ErrUnknownEntityType, uint8(e.Type))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("generating UUID v7: %w", err)
	}
	e.ID = id.String()
	e.CreatedAt = j.now().UTC()

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO entries (entry_id, tenant_id, entity_type, entity_id, operation, hash_before, hash_after, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Type.Segment(), e.EntityID, string(e.Op),
		e.HashBefore, e.HashAfter, e.Detail, e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, &types.StorageError{Op: "record journal entry", Path: j.path, Err: err}
	}
	return e, nil
}

// History returns the entries of one entity, oldest first.
func (j *Journal) History(ctx context.Context, tenantID string, t types.EntityType, id string) ([]Entry, error) {
	return j.query(ctx,
		`SELECT entry_id, tenant_id, entity_type, entity_id, operation, hash_before, hash_after, detail, created_at
		 FROM entries WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
		 ORDER BY entry_id ASC`,
		tenantID, t.Segment(), id,
	)
}

// Recent returns up to limit entries across all entities, newest first.
// A limit of zero or less returns every entry.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	return j.query(ctx,
		`SELECT entry_id, tenant_id, entity_type, entity_id, operation, hash_before, hash_after, detail, created_at
		 FROM entries ORDER BY entry_id DESC LIMIT ?`,
		limit,
	)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if !j.attached {
		return nil, ErrDetached
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &types.StorageError{Op: "query journal", Path: j.path, Err: err}
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := hydrateEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "query journal", Path: j.path, Err: err}
	}
	return entries, nil
}

func hydrateEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		segment   string
		op        string
		createdAt string
	)
	if err := rows.Scan(&e.ID, &e.TenantID, &segment, &e.EntityID, &op,
		&e.HashBefore, &e.HashAfter, &e.Detail, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}

	t, err := types.ParseSegment(segment)
	if err != nil {
		return Entry{}, fmt.Errorf("journal entry %s: %w", e.ID, err)
	}
	e.Type = t
	e.Op = Operation(op)

	e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at for journal entry %s: %w", e.ID, err)
	}
	return e, nil
}
