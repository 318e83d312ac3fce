package types

import (
	"context"
	"encoding/json"
)

// RemoteEntity is one entity payload as returned by the remote system.
type RemoteEntity struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	ParentID string          `json:"parentId,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// RemoteFetcher retrieves entity payloads from the remote system. Errors are
// opaque and are propagated unchanged.
type RemoteFetcher interface {
	// Fetch returns every entity of the given type for the tenant.
	Fetch(ctx context.Context, tenantID string, t EntityType) ([]RemoteEntity, error)

	// FetchOne returns a single entity. Implementations return an error
	// wrapping ErrNotFound when the remote system has no such entity.
	FetchOne(ctx context.Context, tenantID string, t EntityType, id string) (RemoteEntity, error)
}

// RemoteWriter pushes a full entity document to the remote system.
type RemoteWriter interface {
	Push(ctx context.Context, tenantID string, t EntityType, id string, data json.RawMessage) error
}
