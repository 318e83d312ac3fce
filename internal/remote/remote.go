// Package remote provides adapters for the remote capabilities the cache
// depends on: function adapters, an in-memory remote and a directory-backed
// remote used by the command line tool.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

// FetcherFunc adapts a list function to types.RemoteFetcher. FetchOne lists
// and picks the matching entity.
type FetcherFunc func(ctx context.Context, tenantID string, t types.EntityType) ([]types.RemoteEntity, error)

var _ types.RemoteFetcher = FetcherFunc(nil)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, tenantID string, t types.EntityType) ([]types.RemoteEntity, error) {
	return f(ctx, tenantID, t)
}

// FetchOne calls f and returns the entity with the given ID.
func (f FetcherFunc) FetchOne(ctx context.Context, tenantID string, t types.EntityType, id string) (types.RemoteEntity, error) {
	all, err := f(ctx, tenantID, t)
	if err != nil {
		return types.RemoteEntity{}, err
	}
	for _, e := range all {
		if e.ID == id {
			return e, nil
		}
	}
	return types.RemoteEntity{}, notFound(tenantID, t, id)
}

// WriterFunc adapts a function to types.RemoteWriter.
type WriterFunc func(ctx context.Context, tenantID string, t types.EntityType, id string, data json.RawMessage) error

var _ types.RemoteWriter = WriterFunc(nil)

// Push calls f.
func (f WriterFunc) Push(ctx context.Context, tenantID string, t types.EntityType, id string, data json.RawMessage) error {
	return f(ctx, tenantID, t, id, data)
}

func notFound(tenantID string, t types.EntityType, id string) error {
	return fmt.Errorf("remote %s/%s/%s: %w", tenantID, t, id, types.ErrNotFound)
}

// payloadFields pulls the display name and parent reference out of an entity
// document. Missing or non-string fields yield empty strings.
func payloadFields(data json.RawMessage) (name, parentID string) {
	var doc struct {
		Name     any `json:"name"`
		ParentID any `json:"parentId"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", ""
	}
	name, _ = doc.Name.(string)
	parentID, _ = doc.ParentID.(string)
	return name, parentID
}
