// Package store implements the durable entity store for idcache: one JSON
// document per (tenant, entity type, entity id) under the cache root, plus a
// single index file that projects every record into a summary entry.
//
// The per-entity files are the source of truth. The index is a rebuildable
// projection: it is discarded when its version does not match, and
// RebuildIndex regenerates it from the entity files.
// See docs/ARCHITECTURE.md § Entity Store.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

// IndexFileName is the name of the index file under the cache root.
const IndexFileName = "index.json"

// Store implements types.EntityStore on the local filesystem.
type Store struct {
	mu       sync.RWMutex
	attached bool
	root     string
	index    *btree.Map[string, indexValue]

	// indexReset is set when Attach found no usable index and started empty.
	indexReset bool

	// Index persistence strategy: immediate, on_close, batch.
	indexSync     string
	batchSize     int
	batchInterval time.Duration
	pending       int         // index changes not yet persisted
	batchTimer    *time.Timer // timer for interval-based batch flush
}

// New creates a detached store. Call Attach before use.
func New() *Store {
	return &Store{}
}

// Attach opens the cache root described by cfg. It creates the root if it
// does not exist and loads the index. An index that is missing, unreadable,
// or written by a different IndexVersion is replaced by an empty one.
// Returns ErrAlreadyAttached if already attached.
func (s *Store) Attach(cfg types.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return types.ErrAlreadyAttached
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	root, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return &types.StorageError{Op: "resolve root", Path: cfg.CacheDir, Err: err}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return &types.StorageError{Op: "create root", Path: root, Err: err}
	}

	s.root = root
	s.indexSync = cfg.GetIndexSync()
	s.batchSize = cfg.GetBatchSize()
	s.batchInterval = cfg.GetBatchInterval()
	s.pending = 0

	index, reset, err := loadIndex(s.indexPath())
	if err != nil {
		return err
	}
	s.index = index
	s.indexReset = reset
	s.attached = true

	if reset {
		// Replace the stale file right away so a crash before the first
		// write does not resurrect it.
		if err := s.persistIndexLocked(); err != nil {
			s.attached = false
			return err
		}
	}

	if s.indexSync == types.IndexSyncBatch {
		s.startBatchTimer()
	}
	return nil
}

// Detach flushes any unpersisted index changes and releases the store.
// Detach is idempotent.
func (s *Store) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil
	}

	s.stopBatchTimer()

	if s.pending > 0 {
		if err := s.persistIndexLocked(); err != nil {
			return fmt.Errorf("flush index: %w", err)
		}
	}

	s.attached = false
	s.index = nil
	return nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// IndexReset reports whether Attach discarded the previous index.
func (s *Store) IndexReset() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexReset
}

// Flush persists the index now regardless of the sync strategy.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return types.ErrStoreDetached
	}
	return s.persistIndexLocked()
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, IndexFileName)
}

// indexChangedLocked applies the index sync strategy after an in-memory index
// change. The caller must hold s.mu for writing.
func (s *Store) indexChangedLocked() error {
	s.pending++
	switch s.indexSync {
	case types.IndexSyncOnClose:
		return nil
	case types.IndexSyncBatch:
		if s.pending < s.batchSize {
			return nil
		}
	}
	return s.persistIndexLocked()
}

// startBatchTimer starts the interval timer for batch flushes.
// The caller must hold s.mu.
func (s *Store) startBatchTimer() {
	if s.batchTimer != nil || s.batchInterval <= 0 {
		return
	}

	s.batchTimer = time.AfterFunc(s.batchInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if !s.attached {
			return
		}
		if s.pending > 0 {
			// A failed flush stays pending and is retried next interval
			// or on Detach.
			_ = s.persistIndexLocked()
		}
		if s.batchTimer != nil {
			s.batchTimer.Reset(s.batchInterval)
		}
	})
}

// stopBatchTimer stops the interval timer if running. The caller must hold s.mu.
func (s *Store) stopBatchTimer() {
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
}
