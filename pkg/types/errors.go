package types

import (
	"errors"
	"fmt"
)

// Lookup errors. ErrNoBaseline and ErrCorruptRecord wrap ErrNotFound so
// callers treating "absent" uniformly can test for ErrNotFound alone.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrNoBaseline    = fmt.Errorf("%w: no remote baseline", ErrNotFound)
	ErrCorruptRecord = fmt.Errorf("%w: corrupt record", ErrNotFound)
)

// Input and lifecycle errors.
var (
	ErrInvalidID         = errors.New("invalid entity ID")
	ErrInvalidData       = errors.New("invalid entity data")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrStoreDetached     = errors.New("store is detached")
	ErrAlreadyAttached   = errors.New("store is already attached")
	ErrLocalChanges      = errors.New("uncommitted local changes")
)

// ErrCapacityExceeded is returned when activating sync for a tenant would
// exceed the active tenant cap. It is not fatal.
var ErrCapacityExceeded = errors.New("active sync capacity exceeded")

// StorageError reports a failure of the durable medium.
type StorageError struct {
	Op   string // operation, e.g. "write", "read", "persist index"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RemoteError carries a failure returned by a RemoteWriter or RemoteFetcher.
// Err is the remote error exactly as it was returned.
type RemoteError struct {
	Op       string
	TenantID string
	Type     EntityType
	ID       string
	Err      error
}

func (e *RemoteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("remote %s %s/%s: %v", e.Op, e.TenantID, e.Type, e.Err)
	}
	return fmt.Sprintf("remote %s %s/%s/%s: %v", e.Op, e.TenantID, e.Type, e.ID, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsRemoteError reports whether err carries a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
