package types

import (
	"encoding/json"
	"time"
)

// CachedEntity is the locally cached copy of one remote entity.
// Data is what the user edits; RemoteData is the last snapshot known to match
// the remote system and is absent for entities created locally.
type CachedEntity struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     EntityType `json:"type"`
	TenantID string     `json:"tenantId"`

	Data       json.RawMessage `json:"data"`
	RemoteData json.RawMessage `json:"remoteData,omitempty"`

	// RemoteHash fingerprints RemoteData; LocalHash fingerprints Data.
	// RemoteHash is empty for local-only entities.
	RemoteHash string `json:"remoteHash"`
	LocalHash  string `json:"localHash"`

	LastFetched       time.Time  `json:"lastFetched"`
	LastModifiedLocal *time.Time `json:"lastModifiedLocal,omitempty"`
	ParentID          string     `json:"parentId,omitempty"`
}

// HasLocalChanges reports whether the local copy differs from the remote
// baseline.
func (e *CachedEntity) HasLocalChanges() bool {
	return e.LocalHash != e.RemoteHash
}

// HasBaseline reports whether a remote snapshot is available for revert.
func (e *CachedEntity) HasBaseline() bool {
	return len(e.RemoteData) > 0
}

// Ref returns the listing reference for the entity.
func (e *CachedEntity) Ref() EntityRef {
	return EntityRef{TenantID: e.TenantID, Type: e.Type, ID: e.ID, Name: e.Name}
}

// IndexEntry projects the entity into its index summary.
func (e *CachedEntity) IndexEntry() IndexEntry {
	entry := IndexEntry{
		Name:            e.Name,
		RemoteHash:      e.RemoteHash,
		LocalHash:       e.LocalHash,
		LastFetched:     e.LastFetched,
		ParentID:        e.ParentID,
		HasLocalChanges: e.HasLocalChanges(),
	}
	if e.LastModifiedLocal != nil {
		t := *e.LastModifiedLocal
		entry.LastModifiedLocal = &t
	}
	return entry
}

// EntityRef identifies a cached entity in listings such as pending changes.
type EntityRef struct {
	TenantID string     `json:"tenantId"`
	Type     EntityType `json:"type"`
	ID       string     `json:"id"`
	Name     string     `json:"name"`
}

// IndexEntry is the denormalized summary of one CachedEntity held in the
// cache index.
type IndexEntry struct {
	Name              string     `json:"name"`
	RemoteHash        string     `json:"remoteHash"`
	LocalHash         string     `json:"localHash"`
	LastFetched       time.Time  `json:"lastFetched"`
	LastModifiedLocal *time.Time `json:"lastModifiedLocal,omitempty"`
	ParentID          string     `json:"parentId,omitempty"`
	HasLocalChanges   bool       `json:"hasLocalChanges"`
}

// CacheIndex is the durable, read-optimized projection of every cached entity
// under one cache root: Tenants[tenantID][entityType][entityID].
type CacheIndex struct {
	Version string                                            `json:"version"`
	Tenants map[string]map[EntityType]map[string]IndexEntry `json:"tenants"`
}

// NewCacheIndex returns an empty index at the current IndexVersion.
func NewCacheIndex() *CacheIndex {
	return &CacheIndex{
		Version: IndexVersion,
		Tenants: make(map[string]map[EntityType]map[string]IndexEntry),
	}
}

// Count returns the number of entries in the index.
func (ix *CacheIndex) Count() int {
	n := 0
	for _, byType := range ix.Tenants {
		for _, byID := range byType {
			n += len(byID)
		}
	}
	return n
}
